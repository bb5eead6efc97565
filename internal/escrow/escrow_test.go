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

var (
	assetA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetB = common.HexToAddress("0x00000000000000000000000000000000000000bb")

	alice = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000002")
	carol = common.HexToAddress("0x0000000000000000000000000000000000000003")
	dave  = common.HexToAddress("0x0000000000000000000000000000000000000004")
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testParams(stakeA, stakeB int64) Params {
	return Params{
		AssetA:   assetA,
		AssetB:   assetB,
		StakeA:   big.NewInt(stakeA),
		StakeB:   big.NewInt(stakeB),
		Deadline: t0.Add(24 * time.Hour),
	}
}

func newOpenMarket(t *testing.T, stakeA, stakeB int64) *Market {
	t.Helper()
	m := New("mkt-1")
	require.NoError(t, m.Initialize(testParams(stakeA, stakeB), t0))
	return m
}

func TestInitialize(t *testing.T) {
	t.Run("opens the market", func(t *testing.T) {
		m := newOpenMarket(t, 100, 200)
		snap := m.Snapshot(t0)
		assert.Equal(t, domain.PhaseOpen, snap.Phase)
		assert.Equal(t, big.NewInt(100), snap.StakeA)
		assert.Equal(t, big.NewInt(200), snap.StakeB)
	})

	t.Run("rejects a second call", func(t *testing.T) {
		m := newOpenMarket(t, 100, 200)
		err := m.Initialize(testParams(1, 1), t0)
		assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
	})

	t.Run("rejects a past or present deadline", func(t *testing.T) {
		m := New("mkt-1")
		p := testParams(100, 200)
		p.Deadline = t0
		assert.ErrorIs(t, m.Initialize(p, t0), domain.ErrInvalidDeadline)

		p.Deadline = t0.Add(-time.Second)
		assert.ErrorIs(t, m.Initialize(p, t0), domain.ErrInvalidDeadline)
	})

	t.Run("rejects non-positive stakes", func(t *testing.T) {
		m := New("mkt-1")
		p := testParams(0, 200)
		assert.ErrorIs(t, m.Initialize(p, t0), domain.ErrInvalidStake)

		p = testParams(100, -5)
		assert.ErrorIs(t, m.Initialize(p, t0), domain.ErrInvalidStake)
	})

	t.Run("rejects identical assets", func(t *testing.T) {
		m := New("mkt-1")
		p := testParams(100, 200)
		p.AssetB = p.AssetA
		assert.Error(t, m.Initialize(p, t0))
	})
}

func TestPlace(t *testing.T) {
	t.Run("pot totals track stake times position count", func(t *testing.T) {
		m := newOpenMarket(t, 100, 200)

		_, err := m.Place(alice, domain.SideA, big.NewInt(100), t0.Add(time.Minute))
		require.NoError(t, err)
		_, err = m.Place(bob, domain.SideA, big.NewInt(100), t0.Add(2*time.Minute))
		require.NoError(t, err)
		_, err = m.Place(carol, domain.SideB, big.NewInt(200), t0.Add(3*time.Minute))
		require.NoError(t, err)

		snap := m.Snapshot(t0.Add(time.Hour))
		assert.Equal(t, big.NewInt(200), snap.TotalA) // 100 x 2 positions
		assert.Equal(t, big.NewInt(200), snap.TotalB) // 200 x 1 position
	})

	t.Run("rebetting is rejected regardless of side or amount", func(t *testing.T) {
		m := newOpenMarket(t, 100, 200)
		_, err := m.Place(alice, domain.SideA, big.NewInt(100), t0.Add(time.Minute))
		require.NoError(t, err)

		_, err = m.Place(alice, domain.SideA, big.NewInt(100), t0.Add(2*time.Minute))
		assert.ErrorIs(t, err, domain.ErrAlreadyPositioned)
		_, err = m.Place(alice, domain.SideB, big.NewInt(200), t0.Add(2*time.Minute))
		assert.ErrorIs(t, err, domain.ErrAlreadyPositioned)
	})

	t.Run("wrong amount leaves no position behind", func(t *testing.T) {
		m := newOpenMarket(t, 100, 200)
		_, err := m.Place(alice, domain.SideA, big.NewInt(99), t0.Add(time.Minute))
		assert.ErrorIs(t, err, domain.ErrWrongAmount)
		_, err = m.Place(alice, domain.SideA, big.NewInt(200), t0.Add(time.Minute))
		assert.ErrorIs(t, err, domain.ErrWrongAmount)

		_, err = m.Position(alice)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Zero(t, m.Snapshot(t0).TotalA.Sign())
	})

	t.Run("the clock closes betting without an explicit transition", func(t *testing.T) {
		m := newOpenMarket(t, 100, 200)
		deadline := t0.Add(24 * time.Hour)

		_, err := m.Place(alice, domain.SideA, big.NewInt(100), deadline)
		assert.ErrorIs(t, err, domain.ErrBettingClosed)
		_, err = m.Place(alice, domain.SideA, big.NewInt(100), deadline.Add(time.Hour))
		assert.ErrorIs(t, err, domain.ErrBettingClosed)
	})

	t.Run("side is immutable on the stored position", func(t *testing.T) {
		m := newOpenMarket(t, 100, 200)
		pos, err := m.Place(alice, domain.SideB, big.NewInt(200), t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, domain.SideB, pos.Side)

		got, err := m.Position(alice)
		require.NoError(t, err)
		assert.Equal(t, domain.SideB, got.Side)
		assert.False(t, got.Claimed)
	})
}

func TestResolve(t *testing.T) {
	deadline := t0.Add(24 * time.Hour)

	t.Run("before the deadline fails with TooEarly", func(t *testing.T) {
		m := newOpenMarket(t, 100, 200)
		err := m.Resolve(domain.SideA, deadline.Add(-time.Second))
		assert.ErrorIs(t, err, domain.ErrTooEarly)
	})

	t.Run("succeeds exactly once at or after the deadline", func(t *testing.T) {
		m := newOpenMarket(t, 100, 200)
		require.NoError(t, m.Resolve(domain.SideA, deadline))
		assert.Equal(t, domain.SideA, m.Winner())

		err := m.Resolve(domain.SideB, deadline.Add(time.Hour))
		assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
		assert.Equal(t, domain.SideA, m.Winner(), "a failed second resolve must not alter the outcome")
	})

	t.Run("uninitialized market cannot be resolved", func(t *testing.T) {
		m := New("mkt-1")
		err := m.Resolve(domain.SideA, deadline)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestSnapshotPhase(t *testing.T) {
	m := newOpenMarket(t, 100, 200)
	deadline := t0.Add(24 * time.Hour)

	assert.Equal(t, domain.PhaseOpen, m.Snapshot(deadline.Add(-time.Minute)).Phase)
	assert.Equal(t, domain.PhaseLocked, m.Snapshot(deadline).Phase)

	require.NoError(t, m.Resolve(domain.SideB, deadline))
	snap := m.Snapshot(deadline.Add(time.Minute))
	assert.Equal(t, domain.PhaseResolved, snap.Phase)
	assert.Equal(t, domain.SideB, snap.Winner)
	require.NotNil(t, snap.ResolvedAt)
	assert.Equal(t, deadline, *snap.ResolvedAt)
}

func TestRestore(t *testing.T) {
	m := newOpenMarket(t, 100, 200)
	now := t0.Add(time.Minute)
	_, err := m.Place(alice, domain.SideA, big.NewInt(100), now)
	require.NoError(t, err)
	_, err = m.Place(bob, domain.SideB, big.NewInt(200), now)
	require.NoError(t, err)

	deadline := t0.Add(24 * time.Hour)
	require.NoError(t, m.Resolve(domain.SideA, deadline))

	restored, err := Restore(m.Snapshot(deadline), m.Positions())
	require.NoError(t, err)

	snap := restored.Snapshot(deadline)
	assert.Equal(t, domain.PhaseResolved, snap.Phase)
	assert.Equal(t, domain.SideA, snap.Winner)
	assert.Equal(t, big.NewInt(100), snap.TotalA)
	assert.Equal(t, big.NewInt(200), snap.TotalB)

	// The restored registry still rejects a rebet.
	_, err = restored.Place(alice, domain.SideA, big.NewInt(100), now)
	assert.ErrorIs(t, err, domain.ErrBettingClosed)

	got, err := restored.Position(bob)
	require.NoError(t, err)
	assert.Equal(t, domain.SideB, got.Side)
}

func TestRestoreRejectsDuplicatePositions(t *testing.T) {
	m := newOpenMarket(t, 100, 200)
	pos, err := m.Place(alice, domain.SideA, big.NewInt(100), t0.Add(time.Minute))
	require.NoError(t, err)

	_, err = Restore(m.Snapshot(t0.Add(time.Minute)), []domain.Position{pos, pos})
	assert.Error(t, err)
}
