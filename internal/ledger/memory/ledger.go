// Package memory implements domain.AssetLedger as an in-process token
// ledger. It backs dev mode and tests, where no real chain is available.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// Ledger tracks per-asset balances in memory. All methods are safe for
// concurrent use and have all-or-nothing effect.
type Ledger struct {
	mu       sync.Mutex
	account  common.Address
	balances map[common.Address]map[common.Address]*big.Int // asset -> owner -> balance
}

// New creates an empty ledger whose escrow custody account is the given
// address.
func New(account common.Address) *Ledger {
	return &Ledger{
		account:  account,
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Account returns the escrow custody address.
func (l *Ledger) Account() common.Address { return l.account }

// Mint credits amount of asset to the owner. Dev-mode faucet; there is no
// on-chain counterpart.
func (l *Ledger) Mint(asset, owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance(asset, owner).Add(l.balance(asset, owner), amount)
}

// TransferFrom debits amount of asset from the owner into escrow custody.
func (l *Ledger) TransferFrom(ctx context.Context, asset, from common.Address, amount *big.Int) error {
	return l.move(asset, from, l.account, amount)
}

// Transfer pays amount of asset out of escrow custody to the recipient.
func (l *Ledger) Transfer(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	return l.move(asset, l.account, to, amount)
}

// BalanceOf reports the owner's balance of the asset.
func (l *Ledger) BalanceOf(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(asset, owner)), nil
}

func (l *Ledger) move(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("memory: invalid transfer amount")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.balance(asset, from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("memory: %s of asset %s: %w", from, asset, domain.ErrInsufficientFunds)
	}
	src.Sub(src, amount)
	dst := l.balance(asset, to)
	dst.Add(dst, amount)
	return nil
}

// balance returns the stored balance cell, creating it on first touch.
// Callers must hold the mutex.
func (l *Ledger) balance(asset, owner common.Address) *big.Int {
	owners, ok := l.balances[asset]
	if !ok {
		owners = make(map[common.Address]*big.Int)
		l.balances[asset] = owners
	}
	bal, ok := owners[owner]
	if !ok {
		bal = new(big.Int)
		owners[owner] = bal
	}
	return bal
}

// Compile-time interface check.
var _ domain.AssetLedger = (*Ledger)(nil)
