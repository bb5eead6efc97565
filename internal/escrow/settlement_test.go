package escrow

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// resolvedMarket builds a market with the given per-side deposits, moves the
// clock past the deadline, and resolves it for the winning side.
func resolvedMarket(t *testing.T, stakeA, stakeB int64, sideA, sideB []common.Address, winner domain.Side) (*Market, time.Time) {
	t.Helper()
	m := newOpenMarket(t, stakeA, stakeB)
	now := t0.Add(time.Minute)
	for _, addr := range sideA {
		_, err := m.Place(addr, domain.SideA, big.NewInt(stakeA), now)
		require.NoError(t, err)
	}
	for _, addr := range sideB {
		_, err := m.Place(addr, domain.SideB, big.NewInt(stakeB), now)
		require.NoError(t, err)
	}
	after := t0.Add(25 * time.Hour)
	require.NoError(t, m.Resolve(winner, after))
	return m, after
}

func TestClaimTwoSidedScenario(t *testing.T) {
	// stakeA=1e18, stakeB=1e12; X on A, Y on B; A wins. X must receive
	// exactly 1e18 back plus 1e12 winnings; Y is marked claimed with zero.
	stakeA := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	stakeB := new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

	m := New("mkt-1")
	require.NoError(t, m.Initialize(Params{
		AssetA:   assetA,
		AssetB:   assetB,
		StakeA:   stakeA,
		StakeB:   stakeB,
		Deadline: t0.Add(24 * time.Hour),
	}, t0))

	now := t0.Add(time.Minute)
	_, err := m.Place(alice, domain.SideA, stakeA, now)
	require.NoError(t, err)
	_, err = m.Place(bob, domain.SideB, stakeB, now)
	require.NoError(t, err)

	after := t0.Add(25 * time.Hour)
	require.NoError(t, m.Resolve(domain.SideA, after))

	s, err := m.Claim([]common.Address{alice}, []common.Address{bob}, after)
	require.NoError(t, err)

	require.Len(t, s.Payouts, 1)
	assert.Equal(t, stakeA, s.Payouts[0].Refund)
	assert.Equal(t, stakeB, s.Payouts[0].Winnings)
	assert.Zero(t, s.Remainder.Sign())
	assert.Equal(t, assetA, s.WinningAsset)
	assert.Equal(t, assetB, s.LosingAsset)

	yPos, err := m.Position(bob)
	require.NoError(t, err)
	assert.True(t, yPos.Claimed)
	assert.Zero(t, yPos.Payout.Sign())
}

func TestClaimProportionalSplit(t *testing.T) {
	// Winners with amounts 3 and 1 (subset 4) against losers totaling 8 must
	// split the 8 as 6 and 2, integer-exact, plus each recovers their own
	// amount. Uneven winner amounts cannot arise through fixed-stake bets,
	// so build the state through Restore the way startup hydration would.
	deadline := t0.Add(24 * time.Hour)
	resolvedAt := deadline.Add(time.Hour)
	record := domain.Market{
		ID:         "mkt-1",
		AssetA:     assetA,
		AssetB:     assetB,
		StakeA:     big.NewInt(1),
		StakeB:     big.NewInt(8),
		Deadline:   deadline,
		Phase:      domain.PhaseResolved,
		Winner:     domain.SideA,
		Remainder:  new(big.Int),
		CreatedAt:  t0,
		ResolvedAt: &resolvedAt,
	}
	positions := []domain.Position{
		{MarketID: "mkt-1", Participant: alice, Side: domain.SideA, Amount: big.NewInt(3), PlacedAt: t0},
		{MarketID: "mkt-1", Participant: bob, Side: domain.SideA, Amount: big.NewInt(1), PlacedAt: t0},
		{MarketID: "mkt-1", Participant: carol, Side: domain.SideB, Amount: big.NewInt(8), PlacedAt: t0},
	}

	m, err := Restore(record, positions)
	require.NoError(t, err)

	s, err := m.Claim([]common.Address{alice, bob}, []common.Address{carol}, resolvedAt)
	require.NoError(t, err)

	require.Len(t, s.Payouts, 2)
	assert.Equal(t, big.NewInt(3), s.Payouts[0].Refund)
	assert.Equal(t, big.NewInt(6), s.Payouts[0].Winnings) // 8 * 3/4
	assert.Equal(t, big.NewInt(1), s.Payouts[1].Refund)
	assert.Equal(t, big.NewInt(2), s.Payouts[1].Winnings) // 8 * 1/4
	assert.Zero(t, s.Remainder.Sign())
}

func TestClaimUnevenSubsetSplit(t *testing.T) {
	// The 3-vs-1 weighting from unequal winner subsets: settle two batches
	// where the first contains three winners and the second one, against a
	// proportional slice of losers each time.
	m := newOpenMarket(t, 2, 1)
	now := t0.Add(time.Minute)

	winners := make([]common.Address, 4)
	for i := range winners {
		winners[i] = common.BigToAddress(big.NewInt(int64(200 + i)))
		_, err := m.Place(winners[i], domain.SideA, big.NewInt(2), now)
		require.NoError(t, err)
	}
	losers := make([]common.Address, 8)
	for i := range losers {
		losers[i] = common.BigToAddress(big.NewInt(int64(300 + i)))
		_, err := m.Place(losers[i], domain.SideB, big.NewInt(1), now)
		require.NoError(t, err)
	}

	after := t0.Add(25 * time.Hour)
	require.NoError(t, m.Resolve(domain.SideA, after))

	// Batch 1: three winners (subset 6) against six losers (pool 6).
	s1, err := m.Claim(winners[:3], losers[:6], after)
	require.NoError(t, err)
	for _, p := range s1.Payouts {
		assert.Equal(t, big.NewInt(2), p.Refund)
		assert.Equal(t, big.NewInt(2), p.Winnings)
	}
	assert.Zero(t, s1.Remainder.Sign())

	// Batch 2: the remaining winner against the remaining two losers.
	s2, err := m.Claim(winners[3:], losers[6:], after)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2), s2.Payouts[0].Winnings)

	// Conservation across all batches: payouts plus remainder equal the pot.
	total := new(big.Int)
	for _, s := range []domain.Settlement{s1, s2} {
		for _, p := range s.Payouts {
			total.Add(total, p.Refund)
			total.Add(total, p.Winnings)
		}
		total.Add(total, s.Remainder)
	}
	snap := m.Snapshot(after)
	pot := new(big.Int).Add(snap.TotalA, snap.TotalB)
	assert.Equal(t, pot, total)
}

func TestClaimRemainderPolicy(t *testing.T) {
	// Losers pool 10 against winner subset 4 (stakes 2 and 2): each winner's
	// share floors to 5, remainder 0; with three winners (subset 6) shares
	// floor to 3 each leaving dust 1 that accrues to custody.
	m := newOpenMarket(t, 2, 1)
	now := t0.Add(time.Minute)

	winners := []common.Address{alice, bob, carol}
	for _, addr := range winners {
		_, err := m.Place(addr, domain.SideA, big.NewInt(2), now)
		require.NoError(t, err)
	}
	losers := make([]common.Address, 10)
	for i := range losers {
		losers[i] = common.BigToAddress(big.NewInt(int64(400 + i)))
		_, err := m.Place(losers[i], domain.SideB, big.NewInt(1), now)
		require.NoError(t, err)
	}

	after := t0.Add(25 * time.Hour)
	require.NoError(t, m.Resolve(domain.SideA, after))

	s, err := m.Claim(winners, losers, after)
	require.NoError(t, err)

	for _, p := range s.Payouts {
		assert.Equal(t, big.NewInt(3), p.Winnings) // floor(10*2/6)
	}
	assert.Equal(t, big.NewInt(1), s.Remainder)

	// Σ payouts + remainder == winningSubset + losingPool: nothing created,
	// nothing silently lost.
	total := new(big.Int).Set(s.Remainder)
	for _, p := range s.Payouts {
		total.Add(total, p.Refund)
		total.Add(total, p.Winnings)
	}
	assert.Equal(t, new(big.Int).Add(s.WinningSubset, s.LosingPool), total)

	// The dust is swept exactly once, in the losing asset.
	swept, asset, err := m.SweepRemainder()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), swept)
	assert.Equal(t, assetB, asset)

	_, _, err = m.SweepRemainder()
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimRejections(t *testing.T) {
	t.Run("before resolution fails with TooEarly", func(t *testing.T) {
		m := newOpenMarket(t, 100, 200)
		now := t0.Add(time.Minute)
		_, err := m.Place(alice, domain.SideA, big.NewInt(100), now)
		require.NoError(t, err)

		_, err = m.Claim([]common.Address{alice}, nil, now)
		assert.ErrorIs(t, err, domain.ErrTooEarly)
	})

	t.Run("empty winner set", func(t *testing.T) {
		m, after := resolvedMarket(t, 100, 200,
			[]common.Address{alice}, []common.Address{bob}, domain.SideA)

		_, err := m.Claim(nil, []common.Address{bob}, after)
		assert.ErrorIs(t, err, domain.ErrEmptyWinnerSet)

		// No effect: the loser can still be settled in a valid batch.
		pos, err := m.Position(bob)
		require.NoError(t, err)
		assert.False(t, pos.Claimed)
	})

	t.Run("loser listed as winner", func(t *testing.T) {
		m, after := resolvedMarket(t, 100, 200,
			[]common.Address{alice}, []common.Address{bob}, domain.SideA)

		_, err := m.Claim([]common.Address{bob}, []common.Address{alice}, after)
		assert.ErrorIs(t, err, domain.ErrInvalidClaimSet)
	})

	t.Run("unknown address in batch", func(t *testing.T) {
		m, after := resolvedMarket(t, 100, 200,
			[]common.Address{alice}, []common.Address{bob}, domain.SideA)

		_, err := m.Claim([]common.Address{alice, carol}, []common.Address{bob}, after)
		assert.ErrorIs(t, err, domain.ErrInvalidClaimSet)
	})

	t.Run("duplicate address in batch", func(t *testing.T) {
		m, after := resolvedMarket(t, 100, 200,
			[]common.Address{alice, carol}, []common.Address{bob}, domain.SideA)

		_, err := m.Claim([]common.Address{alice, alice}, []common.Address{bob}, after)
		assert.ErrorIs(t, err, domain.ErrInvalidClaimSet)
	})

	t.Run("settled address cannot appear in a later batch", func(t *testing.T) {
		m, after := resolvedMarket(t, 100, 200,
			[]common.Address{alice, carol}, []common.Address{bob, dave}, domain.SideA)

		_, err := m.Claim([]common.Address{alice}, []common.Address{bob}, after)
		require.NoError(t, err)

		// Re-using the paid winner, or the settled loser, poisons the batch.
		_, err = m.Claim([]common.Address{alice}, []common.Address{dave}, after)
		assert.ErrorIs(t, err, domain.ErrInvalidClaimSet)
		_, err = m.Claim([]common.Address{carol}, []common.Address{bob}, after)
		assert.ErrorIs(t, err, domain.ErrInvalidClaimSet)

		// The untouched pair still settles cleanly.
		_, err = m.Claim([]common.Address{carol}, []common.Address{dave}, after)
		assert.NoError(t, err)
	})

	t.Run("failed batch has no partial effect", func(t *testing.T) {
		m, after := resolvedMarket(t, 100, 200,
			[]common.Address{alice, carol}, []common.Address{bob}, domain.SideA)

		_, err := m.Claim([]common.Address{alice, dave}, []common.Address{bob}, after)
		require.ErrorIs(t, err, domain.ErrInvalidClaimSet)

		for _, addr := range []common.Address{alice, carol, bob} {
			pos, err := m.Position(addr)
			require.NoError(t, err)
			assert.False(t, pos.Claimed, "no batch member may be marked by a failed claim")
		}
	})
}

func TestClaimWithNoLosers(t *testing.T) {
	// A batch may carry zero losers; winners just recover their stakes.
	m, after := resolvedMarket(t, 100, 200,
		[]common.Address{alice}, nil, domain.SideA)

	s, err := m.Claim([]common.Address{alice}, nil, after)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), s.Payouts[0].Refund)
	assert.Zero(t, s.Payouts[0].Winnings.Sign())
	assert.Zero(t, s.Remainder.Sign())
}

func TestPlanClaimDoesNotMutate(t *testing.T) {
	m, after := resolvedMarket(t, 100, 200,
		[]common.Address{alice}, []common.Address{bob}, domain.SideA)

	_, err := m.PlanClaim([]common.Address{alice}, []common.Address{bob}, after)
	require.NoError(t, err)

	pos, err := m.Position(alice)
	require.NoError(t, err)
	assert.False(t, pos.Claimed)

	// The same batch still commits after planning.
	_, err = m.Claim([]common.Address{alice}, []common.Address{bob}, after)
	assert.NoError(t, err)
}
