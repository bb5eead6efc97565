package service

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerd/internal/crypto"
	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/escrow"
	"github.com/alanyoungcy/wagerd/internal/ledger/memory"
)

// ---------------------------------------------------------------------------
// in-memory fakes
// ---------------------------------------------------------------------------

type fakeMarketStore struct {
	mu      sync.Mutex
	markets map[string]domain.Market
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{markets: make(map[string]domain.Market)}
}

func (f *fakeMarketStore) Create(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[m.ID] = m
	return nil
}

func (f *fakeMarketStore) Update(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.markets[m.ID]; !ok {
		return domain.ErrNotFound
	}
	f.markets[m.ID] = m
	return nil
}

func (f *fakeMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Market, 0, len(f.markets))
	for _, m := range f.markets {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMarketStore) Count(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.markets)), nil
}

type posKey struct {
	market      string
	participant common.Address
}

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[posKey]domain.Position
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[posKey]domain.Position)}
}

func (f *fakePositionStore) Create(_ context.Context, p domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[posKey{p.MarketID, p.Participant}] = p
	return nil
}

func (f *fakePositionStore) Get(_ context.Context, marketID string, participant common.Address) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[posKey{marketID, participant}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePositionStore) ListByMarket(_ context.Context, marketID string) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for k, p := range f.positions {
		if k.market == marketID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePositionStore) ListByParticipant(_ context.Context, participant common.Address, _ domain.ListOpts) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for k, p := range f.positions {
		if k.participant == participant {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePositionStore) MarkClaimed(_ context.Context, marketID string, claims []domain.PositionClaim, claimedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range claims {
		p, ok := f.positions[posKey{marketID, c.Participant}]
		if !ok || p.Claimed {
			return domain.ErrAlreadyClaimed
		}
	}
	for _, c := range claims {
		p := f.positions[posKey{marketID, c.Participant}]
		p.Claimed = true
		p.Payout = new(big.Int).Set(c.Payout)
		t := claimedAt
		p.ClaimedAt = &t
		f.positions[posKey{marketID, c.Participant}] = p
	}
	return nil
}

type fakeAuditStore struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAuditStore) has(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeCache struct{}

func (fakeCache) Set(context.Context, domain.Market) error { return nil }
func (fakeCache) Get(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (fakeCache) Invalidate(context.Context, string) error { return nil }

type fakeLocks struct{}

func (fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type fakeBus struct {
	mu       sync.Mutex
	channels []string
	streams  []string
}

func (f *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (f *fakeBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, stream)
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

var (
	assetGold   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetSilver = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	operator    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice       = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol       = common.HexToAddress("0x0000000000000000000000000000000000000ca1")
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc       *EscrowService
	markets   *fakeMarketStore
	positions *fakePositionStore
	audit     *fakeAuditStore
	bus       *fakeBus
	ledger    *memory.Ledger
	clock     *time.Time
}

func newHarness(t *testing.T, resolver common.Address) *harness {
	t.Helper()

	h := &harness{
		markets:   newFakeMarketStore(),
		positions: newFakePositionStore(),
		audit:     &fakeAuditStore{},
		bus:       &fakeBus{},
		ledger:    memory.New(operator),
	}
	now := t0
	h.clock = &now

	h.svc = NewEscrowService(Deps{
		Markets:   h.markets,
		Positions: h.positions,
		Audit:     h.audit,
		Cache:     fakeCache{},
		Locks:     fakeLocks{},
		Bus:       h.bus,
		Ledger:    h.ledger,
		Logger:    slog.New(slog.DiscardHandler),
		Resolver:  resolver,
		LockTTL:   time.Second,
	})
	h.svc.now = func() time.Time { return *h.clock }
	return h
}

func (h *harness) createMarket(t *testing.T, stakeA, stakeB int64) domain.Market {
	t.Helper()
	m, err := h.svc.CreateMarket(context.Background(), escrow.Params{
		AssetA:   assetGold,
		AssetB:   assetSilver,
		StakeA:   big.NewInt(stakeA),
		StakeB:   big.NewInt(stakeB),
		Deadline: t0.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return m
}

func (h *harness) fund(t *testing.T, asset, owner common.Address, amount int64) {
	t.Helper()
	h.ledger.Mint(asset, owner, big.NewInt(amount))
}

func (h *harness) balance(t *testing.T, asset, owner common.Address) int64 {
	t.Helper()
	bal, err := h.ledger.BalanceOf(context.Background(), asset, owner)
	require.NoError(t, err)
	return bal.Int64()
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestPlaceBetMovesStakeIntoCustody(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, common.Address{})
	m := h.createMarket(t, 100, 40)
	h.fund(t, assetGold, alice, 150)

	pos, err := h.svc.PlaceBet(ctx, m.ID, alice, domain.SideA, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, domain.SideA, pos.Side)

	assert.EqualValues(t, 50, h.balance(t, assetGold, alice))
	assert.EqualValues(t, 100, h.balance(t, assetGold, operator))

	stored, err := h.positions.Get(ctx, m.ID, alice)
	require.NoError(t, err)
	assert.False(t, stored.Claimed)
	assert.True(t, h.audit.has("bet.placed"))
	assert.Contains(t, h.bus.channels, ChannelBets)
}

func TestPlaceBetRejectionLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, common.Address{})
	m := h.createMarket(t, 100, 40)
	h.fund(t, assetGold, alice, 500)

	// Wrong amount is rejected before any transfer happens.
	_, err := h.svc.PlaceBet(ctx, m.ID, alice, domain.SideA, big.NewInt(99))
	assert.ErrorIs(t, err, domain.ErrWrongAmount)
	assert.EqualValues(t, 500, h.balance(t, assetGold, alice))

	// Insufficient funds surfaces the ledger error and records nothing.
	_, err = h.svc.PlaceBet(ctx, m.ID, bob, domain.SideA, big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	_, err = h.positions.Get(ctx, m.ID, bob)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBetUnknownMarket(t *testing.T) {
	h := newHarness(t, common.Address{})
	_, err := h.svc.PlaceBet(context.Background(), "missing", alice, domain.SideA, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveVerifiesSignature(t *testing.T) {
	ctx := context.Background()

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	resolver := ethcrypto.PubkeyToAddress(key.PublicKey)

	h := newHarness(t, resolver)
	m := h.createMarket(t, 100, 40)

	*h.clock = t0.Add(25 * time.Hour)

	// A signature from some other key must be rejected.
	wrongKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	badSig, err := crypto.SignResolution(wrongKey, m.ID, domain.SideA)
	require.NoError(t, err)
	_, err = h.svc.Resolve(ctx, m.ID, domain.SideA, badSig)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	sig, err := crypto.SignResolution(key, m.ID, domain.SideA)
	require.NoError(t, err)
	snap, err := h.svc.Resolve(ctx, m.ID, domain.SideA, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseResolved, snap.Phase)
	assert.Equal(t, domain.SideA, snap.Winner)
	assert.True(t, h.audit.has("market.resolved"))
}

func TestResolveBeforeDeadline(t *testing.T) {
	h := newHarness(t, common.Address{})
	m := h.createMarket(t, 100, 40)

	_, err := h.svc.Resolve(context.Background(), m.ID, domain.SideA, nil)
	assert.ErrorIs(t, err, domain.ErrTooEarly)
}

// settle builds a resolved market with alice and bob on side A and carol on
// side B, then returns it.
func (h *harness) settle(t *testing.T) domain.Market {
	t.Helper()
	ctx := context.Background()
	m := h.createMarket(t, 100, 40)

	h.fund(t, assetGold, alice, 100)
	h.fund(t, assetGold, bob, 100)
	h.fund(t, assetSilver, carol, 40)

	_, err := h.svc.PlaceBet(ctx, m.ID, alice, domain.SideA, big.NewInt(100))
	require.NoError(t, err)
	_, err = h.svc.PlaceBet(ctx, m.ID, bob, domain.SideA, big.NewInt(100))
	require.NoError(t, err)
	_, err = h.svc.PlaceBet(ctx, m.ID, carol, domain.SideB, big.NewInt(40))
	require.NoError(t, err)

	*h.clock = t0.Add(25 * time.Hour)
	_, err = h.svc.Resolve(ctx, m.ID, domain.SideA, nil)
	require.NoError(t, err)
	return m
}

func TestClaimPaysRefundAndWinnings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, common.Address{})
	m := h.settle(t)

	settlement, err := h.svc.Claim(ctx, m.ID, []common.Address{alice, bob}, []common.Address{carol})
	require.NoError(t, err)

	// Each winner gets their gold stake back plus half of carol's 40 silver.
	assert.EqualValues(t, 100, h.balance(t, assetGold, alice))
	assert.EqualValues(t, 100, h.balance(t, assetGold, bob))
	assert.EqualValues(t, 20, h.balance(t, assetSilver, alice))
	assert.EqualValues(t, 20, h.balance(t, assetSilver, bob))
	assert.EqualValues(t, 0, h.balance(t, assetSilver, carol))
	assert.EqualValues(t, 0, h.balance(t, assetGold, operator))
	assert.EqualValues(t, 0, h.balance(t, assetSilver, operator))
	assert.EqualValues(t, 0, settlement.Remainder.Int64())

	// Positions are settled in the store too.
	p, err := h.positions.Get(ctx, m.ID, carol)
	require.NoError(t, err)
	assert.True(t, p.Claimed)
	assert.EqualValues(t, 0, p.Payout.Int64())

	assert.Contains(t, h.bus.streams, SettlementStream)
	assert.True(t, h.audit.has("claim.settled"))

	// The same batch cannot settle twice.
	_, err = h.svc.Claim(ctx, m.ID, []common.Address{alice, bob}, []common.Address{carol})
	assert.ErrorIs(t, err, domain.ErrInvalidClaimSet)
}

func TestClaimInsufficientCustody(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, common.Address{})
	m := h.settle(t)

	// Drain part of the custodied gold so refunds cannot be covered.
	require.NoError(t, h.ledger.Transfer(ctx, assetGold, alice, big.NewInt(150)))

	_, err := h.svc.Claim(ctx, m.ID, []common.Address{alice, bob}, []common.Address{carol})
	assert.ErrorIs(t, err, domain.ErrInsufficientCustody)

	// Nothing was marked claimed.
	p, err := h.positions.Get(ctx, m.ID, bob)
	require.NoError(t, err)
	assert.False(t, p.Claimed)
}

func TestSweepRemainder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, common.Address{})
	m := h.createMarket(t, 2, 10)

	h.fund(t, assetGold, alice, 2)
	h.fund(t, assetGold, bob, 2)
	h.fund(t, assetGold, carol, 2)
	dave := common.HexToAddress("0x0000000000000000000000000000000000000da3")
	h.fund(t, assetSilver, dave, 10)

	for _, w := range []common.Address{alice, bob, carol} {
		_, err := h.svc.PlaceBet(ctx, m.ID, w, domain.SideA, big.NewInt(2))
		require.NoError(t, err)
	}
	_, err := h.svc.PlaceBet(ctx, m.ID, dave, domain.SideB, big.NewInt(10))
	require.NoError(t, err)

	*h.clock = t0.Add(25 * time.Hour)
	_, err = h.svc.Resolve(ctx, m.ID, domain.SideA, nil)
	require.NoError(t, err)

	// 10 silver split three ways floors to 3 each, leaving 1 in custody.
	settlement, err := h.svc.Claim(ctx, m.ID, []common.Address{alice, bob, carol}, []common.Address{dave})
	require.NoError(t, err)
	assert.EqualValues(t, 1, settlement.Remainder.Int64())
	assert.EqualValues(t, 1, h.balance(t, assetSilver, operator))

	swept, err := h.svc.SweepRemainder(ctx, m.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, swept.Int64())
	assert.True(t, h.audit.has("remainder.swept"))

	// Sweeping twice finds nothing.
	_, err = h.svc.SweepRemainder(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadMarketsRehydratesState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, common.Address{})
	m := h.settle(t)

	// A fresh service sharing the same stores picks the market back up.
	fresh := NewEscrowService(Deps{
		Markets:   h.markets,
		Positions: h.positions,
		Audit:     h.audit,
		Cache:     fakeCache{},
		Locks:     fakeLocks{},
		Bus:       h.bus,
		Ledger:    h.ledger,
		Logger:    slog.New(slog.DiscardHandler),
		LockTTL:   time.Second,
	})
	clock := t0.Add(26 * time.Hour)
	fresh.now = func() time.Time { return clock }

	require.NoError(t, fresh.LoadMarkets(ctx))

	snap, err := fresh.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseResolved, snap.Phase)
	assert.Equal(t, domain.SideA, snap.Winner)

	positions, err := fresh.ListPositions(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, positions, 3)

	// Settlement still works against the rehydrated instance.
	_, err = fresh.Claim(ctx, m.ID, []common.Address{alice, bob}, []common.Address{carol})
	require.NoError(t, err)
}
