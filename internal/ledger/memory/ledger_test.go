package memory

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

var (
	escrowAcct = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	token      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

func TestTransferFromAndBalance(t *testing.T) {
	ctx := context.Background()
	l := New(escrowAcct)
	l.Mint(token, owner, big.NewInt(100))

	require.NoError(t, l.TransferFrom(ctx, token, owner, big.NewInt(60)))

	got, err := l.BalanceOf(ctx, token, owner)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(40), got)

	held, err := l.BalanceOf(ctx, token, escrowAcct)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(60), held)
}

func TestInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := New(escrowAcct)
	l.Mint(token, owner, big.NewInt(10))

	err := l.TransferFrom(ctx, token, owner, big.NewInt(11))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// All-or-nothing: the failed debit moved nothing.
	got, err := l.BalanceOf(ctx, token, owner)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), got)
}

func TestTransferOut(t *testing.T) {
	ctx := context.Background()
	l := New(escrowAcct)
	l.Mint(token, escrowAcct, big.NewInt(25))

	require.NoError(t, l.Transfer(ctx, token, owner, big.NewInt(25)))

	got, err := l.BalanceOf(ctx, token, owner)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(25), got)

	err = l.Transfer(ctx, token, owner, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}
