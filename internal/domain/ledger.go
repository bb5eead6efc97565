package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetLedger is the external custodian of the two fungible assets. Each
// call has all-or-nothing effect: a returned error means no value moved.
//
// The ledger moves funds between participants and the escrow account it
// reports via Account; the escrow core never touches balances directly.
type AssetLedger interface {
	// TransferFrom debits amount of asset from the given owner into escrow
	// custody. It returns ErrInsufficientFunds when the owner cannot cover
	// the amount.
	TransferFrom(ctx context.Context, asset, from common.Address, amount *big.Int) error

	// Transfer pays amount of asset out of escrow custody to the recipient.
	Transfer(ctx context.Context, asset, to common.Address, amount *big.Int) error

	// BalanceOf reports the asset balance held by owner.
	BalanceOf(ctx context.Context, asset, owner common.Address) (*big.Int, error)

	// Account is the address holding custodied funds.
	Account() common.Address
}
