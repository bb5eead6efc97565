package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one participant's stake in a market. The side is fixed at the
// first successful bet and the amount always equals the side's fixed stake.
// Positions are never deleted; a settled position remains as an audit record
// with Claimed set.
type Position struct {
	MarketID    string         `json:"market_id"`
	Participant common.Address `json:"participant"`
	Side        Side           `json:"side"`
	Amount      *big.Int       `json:"amount"`
	Claimed     bool           `json:"claimed"`
	// Payout is the losing-asset share paid at settlement. Zero for losers
	// and nil until the position is claimed.
	Payout    *big.Int   `json:"payout,omitempty"`
	PlacedAt  time.Time  `json:"placed_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// PositionClaim records the settlement outcome for one position when a claim
// batch is persisted.
type PositionClaim struct {
	Participant common.Address
	Payout      *big.Int // zero for losers
}
