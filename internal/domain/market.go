package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side identifies one of the two mutually exclusive outcomes of a market.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// Valid reports whether s is one of the two defined sides.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Opposite returns the other side. Calling it on an invalid side returns
// the input unchanged.
func (s Side) Opposite() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	}
	return s
}

// Phase represents the lifecycle state of a market escrow.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseOpen          Phase = "open"
	// PhaseLocked is derived, never stored: a market whose stored phase is
	// "open" reports "locked" once its deadline has passed.
	PhaseLocked   Phase = "locked"
	PhaseResolved Phase = "resolved"
)

// Market is the persisted view of a single escrow instance: two custodied
// assets, a fixed stake per side, a betting deadline, and the resolution
// outcome once fixed.
type Market struct {
	ID         string         `json:"id"`
	AssetA     common.Address `json:"asset_a"`
	AssetB     common.Address `json:"asset_b"`
	StakeA     *big.Int       `json:"stake_a"`
	StakeB     *big.Int       `json:"stake_b"`
	Deadline   time.Time      `json:"deadline"`
	Phase      Phase          `json:"phase"`
	Winner     Side           `json:"winner,omitempty"` // empty until resolved
	TotalA     *big.Int       `json:"total_a"`
	TotalB     *big.Int       `json:"total_b"`
	Remainder  *big.Int       `json:"remainder"` // losing-asset dust accrued by settlement
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Asset returns the custodied asset for the given side.
func (m Market) Asset(side Side) common.Address {
	if side == SideA {
		return m.AssetA
	}
	return m.AssetB
}

// Stake returns the fixed required deposit for the given side.
func (m Market) Stake(side Side) *big.Int {
	if side == SideA {
		return m.StakeA
	}
	return m.StakeB
}
