package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Payout is the settlement outcome for a single winner: their own stake back
// in the winning-side asset plus a proportional share of the losing pool in
// the losing-side asset.
type Payout struct {
	Participant common.Address `json:"participant"`
	Refund      *big.Int       `json:"refund"`
	Winnings    *big.Int       `json:"winnings"`
}

// Settlement describes one executed claim batch: the closed slice of the pot
// that was settled together, the per-winner payouts, and the integer-division
// remainder that accrued to custody.
type Settlement struct {
	MarketID      string           `json:"market_id"`
	Winner        Side             `json:"winner"`
	WinningAsset  common.Address   `json:"winning_asset"`
	LosingAsset   common.Address   `json:"losing_asset"`
	WinningSubset *big.Int         `json:"winning_subset"`
	LosingPool    *big.Int         `json:"losing_pool"`
	Remainder     *big.Int         `json:"remainder"`
	Payouts       []Payout         `json:"payouts"`
	Losers        []common.Address `json:"losers"`
	SettledAt     time.Time        `json:"settled_at"`
}
