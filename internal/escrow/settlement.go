package escrow

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// PlanClaim validates a claim batch and computes its settlement without
// mutating anything. The service uses the plan to verify custody against the
// ledger before committing.
func (m *Market) PlanClaim(winners, losers []common.Address, now time.Time) (domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.planClaim(winners, losers, now)
}

// Claim settles a batch: it validates the whole batch, computes each
// winner's payout, and marks every batch member claimed. The batch is
// all-or-nothing; any invalid member fails the call with no effect.
//
// Payout per winner w is w.amount (winning asset) plus
// losingPool * w.amount / winningSubset (losing asset), computed with
// big.Int multiply-before-divide. Floor-division dust accrues to the
// market's remainder and stays in custody until swept.
func (m *Market) Claim(winners, losers []common.Address, now time.Time) (domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.planClaim(winners, losers, now)
	if err != nil {
		return domain.Settlement{}, err
	}

	for _, p := range s.Payouts {
		if err := m.markClaimed(p.Participant, p.Winnings, now); err != nil {
			// Unreachable after planClaim's validation; kept as the single
			// choke point against double payment.
			return domain.Settlement{}, err
		}
	}
	zero := new(big.Int)
	for _, addr := range s.Losers {
		if err := m.markClaimed(addr, zero, now); err != nil {
			return domain.Settlement{}, err
		}
	}

	m.remainder.Add(m.remainder, s.Remainder)
	return s, nil
}

func (m *Market) planClaim(winners, losers []common.Address, now time.Time) (domain.Settlement, error) {
	switch m.phase {
	case domain.PhaseResolved:
	case domain.PhaseUninitialized:
		return domain.Settlement{}, domain.ErrNotFound
	default:
		return domain.Settlement{}, domain.ErrTooEarly
	}

	if len(winners) == 0 {
		return domain.Settlement{}, domain.ErrEmptyWinnerSet
	}

	seen := make(map[common.Address]struct{}, len(winners)+len(losers))
	winningSubset := new(big.Int)
	losingPool := new(big.Int)

	for _, addr := range winners {
		pos, ok := m.positions[addr]
		if !ok || pos.Side != m.winner || pos.Claimed {
			return domain.Settlement{}, domain.ErrInvalidClaimSet
		}
		if _, dup := seen[addr]; dup {
			return domain.Settlement{}, domain.ErrInvalidClaimSet
		}
		seen[addr] = struct{}{}
		winningSubset.Add(winningSubset, pos.Amount)
	}
	for _, addr := range losers {
		pos, ok := m.positions[addr]
		if !ok || pos.Side == m.winner || pos.Claimed {
			return domain.Settlement{}, domain.ErrInvalidClaimSet
		}
		if _, dup := seen[addr]; dup {
			return domain.Settlement{}, domain.ErrInvalidClaimSet
		}
		seen[addr] = struct{}{}
		losingPool.Add(losingPool, pos.Amount)
	}

	if winningSubset.Sign() == 0 {
		return domain.Settlement{}, domain.ErrEmptyWinnerSet
	}

	payouts := make([]domain.Payout, 0, len(winners))
	distributed := new(big.Int)
	for _, addr := range winners {
		pos := m.positions[addr]
		share := new(big.Int).Mul(losingPool, pos.Amount)
		share.Div(share, winningSubset)
		distributed.Add(distributed, share)
		payouts = append(payouts, domain.Payout{
			Participant: addr,
			Refund:      new(big.Int).Set(pos.Amount),
			Winnings:    share,
		})
	}

	loserList := make([]common.Address, len(losers))
	copy(loserList, losers)

	return domain.Settlement{
		MarketID:      m.id,
		Winner:        m.winner,
		WinningAsset:  m.asset(m.winner),
		LosingAsset:   m.asset(m.winner.Opposite()),
		WinningSubset: winningSubset,
		LosingPool:    losingPool,
		Remainder:     new(big.Int).Sub(losingPool, distributed),
		Payouts:       payouts,
		Losers:        loserList,
		SettledAt:     now,
	}, nil
}

// markClaimed flips a position's claimed flag exactly once. Every payout
// path funnels through here; a second call for the same participant fails
// with ErrAlreadyClaimed, which is what makes double payment impossible.
func (m *Market) markClaimed(participant common.Address, payout *big.Int, now time.Time) error {
	pos, ok := m.positions[participant]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Claimed {
		return domain.ErrAlreadyClaimed
	}
	pos.Claimed = true
	pos.Payout = new(big.Int).Set(payout)
	t := now
	pos.ClaimedAt = &t
	return nil
}

// SweepRemainder releases the accrued floor-division dust. It is only legal
// once the market is resolved, and returns the losing-side asset the dust is
// denominated in. Sweeping zeroes the remainder so it cannot be released
// twice.
func (m *Market) SweepRemainder() (*big.Int, common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != domain.PhaseResolved {
		return nil, common.Address{}, domain.ErrTooEarly
	}
	if m.remainder.Sign() == 0 {
		return nil, common.Address{}, domain.ErrNotFound
	}

	swept := m.remainder
	m.remainder = new(big.Int)
	return swept, m.asset(m.winner.Opposite()), nil
}
