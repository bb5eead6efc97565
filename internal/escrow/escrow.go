// Package escrow implements the wagering escrow state machine: per-market
// stake bookkeeping, deadline enforcement, resolution gating, and
// proportional loss-free settlement.
//
// A Market is a single owned value behind one mutex. Every operation is
// atomic: it either applies fully or returns an error with no state change.
// The package performs no I/O; moving real funds against an AssetLedger and
// persisting state are the service layer's job, sequenced around the calls
// in this package.
package escrow

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// Params are the immutable market parameters fixed at initialization.
type Params struct {
	AssetA   common.Address
	AssetB   common.Address
	StakeA   *big.Int
	StakeB   *big.Int
	Deadline time.Time
}

// Market is one escrow instance. The zero value is unusable; use New.
type Market struct {
	mu sync.Mutex

	id     string
	params Params

	// phase holds only the stored phases (uninitialized, open, resolved).
	// "locked" is derived from the clock, never stored.
	phase  domain.Phase
	winner domain.Side

	positions map[common.Address]*domain.Position
	order     []common.Address // placement order, for deterministic listings

	totalA    *big.Int
	totalB    *big.Int
	remainder *big.Int // losing-asset dust accrued by settlement floor division

	createdAt  time.Time
	resolvedAt time.Time
}

// New creates an uninitialized market escrow with the given ID.
func New(id string) *Market {
	return &Market{
		id:        id,
		phase:     domain.PhaseUninitialized,
		positions: make(map[common.Address]*domain.Position),
		totalA:    new(big.Int),
		totalB:    new(big.Int),
		remainder: new(big.Int),
	}
}

// ID returns the market identifier.
func (m *Market) ID() string { return m.id }

// Initialize fixes the market parameters and opens betting. It is legal only
// once: a second call fails with ErrAlreadyInitialized. The deadline must be
// strictly in the future and both stakes strictly positive.
func (m *Market) Initialize(p Params, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != domain.PhaseUninitialized {
		return domain.ErrAlreadyInitialized
	}
	if p.StakeA == nil || p.StakeA.Sign() <= 0 || p.StakeB == nil || p.StakeB.Sign() <= 0 {
		return domain.ErrInvalidStake
	}
	if !p.Deadline.After(now) {
		return domain.ErrInvalidDeadline
	}
	if p.AssetA == p.AssetB {
		return fmt.Errorf("escrow: market %s: custodied assets must be distinct", m.id)
	}

	m.params = Params{
		AssetA:   p.AssetA,
		AssetB:   p.AssetB,
		StakeA:   new(big.Int).Set(p.StakeA),
		StakeB:   new(big.Int).Set(p.StakeB),
		Deadline: p.Deadline,
	}
	m.phase = domain.PhaseOpen
	m.createdAt = now
	return nil
}

// open reports whether betting is logically open: the stored phase is Open
// and the clock has not reached the deadline. The clock is authoritative;
// no explicit transition to Locked is required.
func (m *Market) open(now time.Time) bool {
	return m.phase == domain.PhaseOpen && now.Before(m.params.Deadline)
}

// CanPlace validates a prospective bet without mutating anything. The
// service calls it before debiting the participant so that funds are never
// pulled for a bet that cannot be recorded.
func (m *Market) CanPlace(participant common.Address, side domain.Side, amount *big.Int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validatePlace(participant, side, amount, now)
}

// Place records a new position. Exactly one position per participant; the
// side is fixed forever and the amount must equal the side's fixed stake.
func (m *Market) Place(participant common.Address, side domain.Side, amount *big.Int, now time.Time) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validatePlace(participant, side, amount, now); err != nil {
		return domain.Position{}, err
	}

	pos := &domain.Position{
		MarketID:    m.id,
		Participant: participant,
		Side:        side,
		Amount:      new(big.Int).Set(amount),
		PlacedAt:    now,
	}
	m.positions[participant] = pos
	m.order = append(m.order, participant)

	if side == domain.SideA {
		m.totalA.Add(m.totalA, amount)
	} else {
		m.totalB.Add(m.totalB, amount)
	}

	return copyPosition(pos), nil
}

func (m *Market) validatePlace(participant common.Address, side domain.Side, amount *big.Int, now time.Time) error {
	if !m.open(now) {
		return domain.ErrBettingClosed
	}
	if !side.Valid() {
		return fmt.Errorf("escrow: market %s: invalid side %q", m.id, side)
	}
	if _, ok := m.positions[participant]; ok {
		return domain.ErrAlreadyPositioned
	}
	if amount == nil || amount.Cmp(m.stake(side)) != 0 {
		return domain.ErrWrongAmount
	}
	return nil
}

func (m *Market) stake(side domain.Side) *big.Int {
	if side == domain.SideA {
		return m.params.StakeA
	}
	return m.params.StakeB
}

func (m *Market) asset(side domain.Side) common.Address {
	if side == domain.SideA {
		return m.params.AssetA
	}
	return m.params.AssetB
}

// Resolve fixes the winning side. It is accepted exactly once, and only
// after the deadline: before the deadline it fails with ErrTooEarly, after
// the first success it fails with ErrAlreadyResolved. Who decides the
// winning side is the caller's concern; the market only gates when a
// resolution is accepted.
func (m *Market) Resolve(winner domain.Side, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == domain.PhaseResolved {
		return domain.ErrAlreadyResolved
	}
	if m.phase != domain.PhaseOpen {
		return domain.ErrNotFound
	}
	if !winner.Valid() {
		return fmt.Errorf("escrow: market %s: invalid winning side %q", m.id, winner)
	}
	if now.Before(m.params.Deadline) {
		return domain.ErrTooEarly
	}

	m.phase = domain.PhaseResolved
	m.winner = winner
	m.resolvedAt = now
	return nil
}

// Winner returns the winning side, or "" while unresolved.
func (m *Market) Winner() domain.Side {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.winner
}

// Position returns a copy of the participant's position.
func (m *Market) Position(participant common.Address) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[participant]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return copyPosition(pos), nil
}

// Positions returns copies of all positions in placement order.
func (m *Market) Positions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Position, 0, len(m.order))
	for _, addr := range m.order {
		out = append(out, copyPosition(m.positions[addr]))
	}
	return out
}

// Snapshot returns the persisted view of the market. The reported phase is
// derived: an open market past its deadline reports PhaseLocked.
func (m *Market) Snapshot(now time.Time) domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()

	phase := m.phase
	if phase == domain.PhaseOpen && !now.Before(m.params.Deadline) {
		phase = domain.PhaseLocked
	}

	snap := domain.Market{
		ID:        m.id,
		AssetA:    m.params.AssetA,
		AssetB:    m.params.AssetB,
		StakeA:    bigCopy(m.params.StakeA),
		StakeB:    bigCopy(m.params.StakeB),
		Deadline:  m.params.Deadline,
		Phase:     phase,
		Winner:    m.winner,
		TotalA:    bigCopy(m.totalA),
		TotalB:    bigCopy(m.totalB),
		Remainder: bigCopy(m.remainder),
		CreatedAt: m.createdAt,
		UpdatedAt: now,
	}
	if !m.resolvedAt.IsZero() {
		t := m.resolvedAt
		snap.ResolvedAt = &t
	}
	return snap
}

// Restore rebuilds a market escrow from persisted state. Used on startup to
// rehydrate in-memory instances from the store.
func Restore(record domain.Market, positions []domain.Position) (*Market, error) {
	m := New(record.ID)

	if record.Phase == domain.PhaseUninitialized {
		return m, nil
	}

	m.params = Params{
		AssetA:   record.AssetA,
		AssetB:   record.AssetB,
		StakeA:   bigCopy(record.StakeA),
		StakeB:   bigCopy(record.StakeB),
		Deadline: record.Deadline,
	}
	m.createdAt = record.CreatedAt
	m.remainder = bigCopy(record.Remainder)
	if m.remainder == nil {
		m.remainder = new(big.Int)
	}

	switch record.Phase {
	case domain.PhaseOpen, domain.PhaseLocked:
		m.phase = domain.PhaseOpen
	case domain.PhaseResolved:
		m.phase = domain.PhaseResolved
		m.winner = record.Winner
		if record.ResolvedAt != nil {
			m.resolvedAt = *record.ResolvedAt
		}
	default:
		return nil, fmt.Errorf("escrow: market %s: unknown phase %q", record.ID, record.Phase)
	}

	for _, p := range positions {
		if _, ok := m.positions[p.Participant]; ok {
			return nil, fmt.Errorf("escrow: market %s: duplicate position for %s", record.ID, p.Participant)
		}
		pos := copyPosition(&p)
		m.positions[p.Participant] = &pos
		m.order = append(m.order, p.Participant)
		if p.Side == domain.SideA {
			m.totalA.Add(m.totalA, p.Amount)
		} else {
			m.totalB.Add(m.totalB, p.Amount)
		}
	}

	return m, nil
}

func copyPosition(p *domain.Position) domain.Position {
	out := *p
	out.Amount = bigCopy(p.Amount)
	out.Payout = bigCopy(p.Payout)
	if p.ClaimedAt != nil {
		t := *p.ClaimedAt
		out.ClaimedAt = &t
	}
	return out
}

func bigCopy(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
