// Package service orchestrates the escrow state machine against the ledger,
// the stores, and the messaging fabric.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/wagerd/internal/crypto"
	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/escrow"
	"github.com/alanyoungcy/wagerd/internal/notify"
)

// Pub/Sub channels for live event fan-out and the durable settlement journal
// stream.
const (
	ChannelMarkets     = "events:markets"
	ChannelBets        = "events:bets"
	ChannelResolutions = "events:resolutions"
	ChannelSettlements = "events:settlements"

	SettlementStream = "journal:settlements"
)

// Deps bundles everything the escrow service needs.
type Deps struct {
	Markets   domain.MarketStore
	Positions domain.PositionStore
	Audit     domain.AuditStore
	Cache     domain.MarketCache
	Locks     domain.LockManager
	Bus       domain.SignalBus
	Ledger    domain.AssetLedger
	Notifier  *notify.Notifier
	Logger    *slog.Logger

	// Resolver is the trusted resolution signer. The zero address disables
	// signature checks.
	Resolver common.Address

	// SweepTo receives swept remainder dust. Defaults to the ledger account
	// when zero.
	SweepTo common.Address

	// LockTTL bounds how long one escrow operation may hold a market lock.
	LockTTL time.Duration
}

// EscrowService owns the live market escrows. All mutations run under the
// market's distributed lock, so replicas behave as a single writer; within a
// replica the escrow.Market mutex serializes access.
type EscrowService struct {
	mu   sync.RWMutex
	live map[string]*escrow.Market

	markets   domain.MarketStore
	positions domain.PositionStore
	audit     domain.AuditStore
	cache     domain.MarketCache
	locks     domain.LockManager
	bus       domain.SignalBus
	ledger    domain.AssetLedger
	notifier  *notify.Notifier
	logger    *slog.Logger

	resolver common.Address
	sweepTo  common.Address
	lockTTL  time.Duration

	now func() time.Time
}

// NewEscrowService creates an EscrowService from its dependencies.
func NewEscrowService(d Deps) *EscrowService {
	sweepTo := d.SweepTo
	if sweepTo == (common.Address{}) {
		sweepTo = d.Ledger.Account()
	}
	lockTTL := d.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &EscrowService{
		live:      make(map[string]*escrow.Market),
		markets:   d.Markets,
		positions: d.Positions,
		audit:     d.Audit,
		cache:     d.Cache,
		locks:     d.Locks,
		bus:       d.Bus,
		ledger:    d.Ledger,
		notifier:  d.Notifier,
		logger:    d.Logger.With(slog.String("component", "escrow_service")),
		resolver:  d.Resolver,
		sweepTo:   sweepTo,
		lockTTL:   lockTTL,
		now:       time.Now,
	}
}

// LoadMarkets rehydrates live escrow instances from the store. Called once at
// startup before the server begins accepting requests.
func (s *EscrowService) LoadMarkets(ctx context.Context) error {
	records, err := s.markets.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("escrow_service: load markets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range records {
		positions, err := s.positions.ListByMarket(ctx, record.ID)
		if err != nil {
			return fmt.Errorf("escrow_service: load positions for %s: %w", record.ID, err)
		}
		m, err := escrow.Restore(record, positions)
		if err != nil {
			return fmt.Errorf("escrow_service: restore %s: %w", record.ID, err)
		}
		s.live[record.ID] = m
	}

	s.logger.InfoContext(ctx, "markets loaded",
		slog.Int("count", len(records)),
	)
	return nil
}

func (s *EscrowService) liveMarket(id string) (*escrow.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.live[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func marketLockKey(id string) string { return "market:" + id }

// CreateMarket initializes a new market escrow and persists it. The ID is
// generated here; callers supply only the economic parameters.
func (s *EscrowService) CreateMarket(ctx context.Context, params escrow.Params) (domain.Market, error) {
	id := uuid.New().String()
	now := s.now()

	m := escrow.New(id)
	if err := m.Initialize(params, now); err != nil {
		return domain.Market{}, fmt.Errorf("escrow_service: create market: %w", err)
	}

	snap := m.Snapshot(now)
	if err := s.markets.Create(ctx, snap); err != nil {
		return domain.Market{}, fmt.Errorf("escrow_service: persist market %s: %w", id, err)
	}

	s.mu.Lock()
	s.live[id] = m
	s.mu.Unlock()

	s.logAudit(ctx, "market.created", map[string]any{
		"market_id": id,
		"asset_a":   snap.AssetA.Hex(),
		"asset_b":   snap.AssetB.Hex(),
		"stake_a":   snap.StakeA.String(),
		"stake_b":   snap.StakeB.String(),
		"deadline":  snap.Deadline.Format(time.RFC3339),
	})
	s.publish(ctx, ChannelMarkets, snap)
	s.notify(ctx, notify.EventMarketCreated, "Market created",
		fmt.Sprintf("Market %s opened, betting until %s", id, snap.Deadline.Format(time.RFC3339)))

	s.logger.InfoContext(ctx, "market created",
		slog.String("market_id", id),
		slog.Time("deadline", snap.Deadline),
	)
	return snap, nil
}

// PlaceBet debits the participant's stake into custody and records the
// position. The bet is validated before any funds move, so a rejected bet
// never touches the ledger.
func (s *EscrowService) PlaceBet(ctx context.Context, marketID string, participant common.Address, side domain.Side, amount *big.Int) (domain.Position, error) {
	m, err := s.liveMarket(marketID)
	if err != nil {
		return domain.Position{}, err
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.lockTTL)
	if err != nil {
		return domain.Position{}, fmt.Errorf("escrow_service: place bet on %s: %w", marketID, err)
	}
	defer unlock()

	now := s.now()
	if err := m.CanPlace(participant, side, amount, now); err != nil {
		return domain.Position{}, err
	}

	snap := m.Snapshot(now)
	asset := snap.Asset(side)
	if err := s.ledger.TransferFrom(ctx, asset, participant, amount); err != nil {
		return domain.Position{}, fmt.Errorf("escrow_service: collect stake for %s: %w", marketID, err)
	}

	pos, err := m.Place(participant, side, amount, now)
	if err != nil {
		// The stake is already in custody; send it back before failing.
		if refundErr := s.ledger.Transfer(ctx, asset, participant, amount); refundErr != nil {
			s.logger.ErrorContext(ctx, "stake refund failed",
				slog.String("market_id", marketID),
				slog.String("participant", participant.Hex()),
				slog.String("error", refundErr.Error()),
			)
		}
		return domain.Position{}, err
	}

	if err := s.persistAfterBet(ctx, m, pos); err != nil {
		// Custody and in-memory state are consistent; only the store lagged.
		// Surface the error so the operator reconciles, but do not refund.
		return pos, err
	}

	s.logAudit(ctx, "bet.placed", map[string]any{
		"market_id":   marketID,
		"participant": participant.Hex(),
		"side":        string(side),
		"amount":      amount.String(),
	})
	s.publish(ctx, ChannelBets, pos)

	s.logger.InfoContext(ctx, "bet placed",
		slog.String("market_id", marketID),
		slog.String("participant", participant.Hex()),
		slog.String("side", string(side)),
	)
	return pos, nil
}

func (s *EscrowService) persistAfterBet(ctx context.Context, m *escrow.Market, pos domain.Position) error {
	if err := s.positions.Create(ctx, pos); err != nil {
		return fmt.Errorf("escrow_service: persist position %s/%s: %w", pos.MarketID, pos.Participant, err)
	}
	if err := s.markets.Update(ctx, m.Snapshot(s.now())); err != nil {
		return fmt.Errorf("escrow_service: persist market %s: %w", pos.MarketID, err)
	}
	s.invalidate(ctx, pos.MarketID)
	return nil
}

// Resolve fixes the winning side of a market. When a resolver address is
// configured the request must carry that resolver's signature over the
// market ID and outcome.
func (s *EscrowService) Resolve(ctx context.Context, marketID string, winner domain.Side, sig []byte) (domain.Market, error) {
	if s.resolver != (common.Address{}) {
		if err := crypto.VerifyResolution(marketID, winner, sig, s.resolver); err != nil {
			return domain.Market{}, fmt.Errorf("escrow_service: resolve %s: %w", marketID, err)
		}
	}

	m, err := s.liveMarket(marketID)
	if err != nil {
		return domain.Market{}, err
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.lockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("escrow_service: resolve %s: %w", marketID, err)
	}
	defer unlock()

	now := s.now()
	if err := m.Resolve(winner, now); err != nil {
		return domain.Market{}, err
	}

	snap := m.Snapshot(now)
	if err := s.markets.Update(ctx, snap); err != nil {
		return snap, fmt.Errorf("escrow_service: persist resolution %s: %w", marketID, err)
	}
	s.invalidate(ctx, marketID)

	s.logAudit(ctx, "market.resolved", map[string]any{
		"market_id": marketID,
		"winner":    string(winner),
	})
	s.publish(ctx, ChannelResolutions, snap)
	s.notify(ctx, notify.EventMarketResolved, "Market resolved",
		fmt.Sprintf("Market %s resolved, winning side %q", marketID, winner))

	s.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID),
		slog.String("winner", string(winner)),
	)
	return snap, nil
}

// Claim settles a batch of winners against a batch of losers. The plan is
// checked against custodied balances before any state changes, positions are
// marked claimed before any funds move, and only then are payouts sent. A
// transfer failure after the marks leaves the positions settled; the failed
// leg is journaled for the operator instead of risking a double payment.
func (s *EscrowService) Claim(ctx context.Context, marketID string, winners, losers []common.Address) (domain.Settlement, error) {
	m, err := s.liveMarket(marketID)
	if err != nil {
		return domain.Settlement{}, err
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.lockTTL)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("escrow_service: claim on %s: %w", marketID, err)
	}
	defer unlock()

	now := s.now()
	plan, err := m.PlanClaim(winners, losers, now)
	if err != nil {
		return domain.Settlement{}, err
	}
	if err := s.checkCustody(ctx, plan); err != nil {
		return domain.Settlement{}, err
	}

	settlement, err := m.Claim(winners, losers, now)
	if err != nil {
		return domain.Settlement{}, err
	}

	claims := make([]domain.PositionClaim, 0, len(settlement.Payouts)+len(settlement.Losers))
	for _, p := range settlement.Payouts {
		claims = append(claims, domain.PositionClaim{Participant: p.Participant, Payout: p.Winnings})
	}
	zero := new(big.Int)
	for _, addr := range settlement.Losers {
		claims = append(claims, domain.PositionClaim{Participant: addr, Payout: zero})
	}
	if err := s.positions.MarkClaimed(ctx, marketID, claims, now); err != nil {
		return settlement, fmt.Errorf("escrow_service: persist claims for %s: %w", marketID, err)
	}
	if err := s.markets.Update(ctx, m.Snapshot(now)); err != nil {
		return settlement, fmt.Errorf("escrow_service: persist market %s: %w", marketID, err)
	}
	s.invalidate(ctx, marketID)

	var failed []string
	for _, p := range settlement.Payouts {
		if err := s.ledger.Transfer(ctx, settlement.WinningAsset, p.Participant, p.Refund); err != nil {
			failed = append(failed, s.journalFailedLeg(ctx, settlement, p.Participant, settlement.WinningAsset, p.Refund, err))
		}
		if p.Winnings.Sign() > 0 {
			if err := s.ledger.Transfer(ctx, settlement.LosingAsset, p.Participant, p.Winnings); err != nil {
				failed = append(failed, s.journalFailedLeg(ctx, settlement, p.Participant, settlement.LosingAsset, p.Winnings, err))
			}
		}
	}

	s.journalSettlement(ctx, settlement)
	s.logAudit(ctx, "claim.settled", map[string]any{
		"market_id": marketID,
		"winners":   len(settlement.Payouts),
		"losers":    len(settlement.Losers),
		"remainder": settlement.Remainder.String(),
	})
	s.publish(ctx, ChannelSettlements, settlement)
	s.notify(ctx, notify.EventClaimSettled, "Claim settled",
		fmt.Sprintf("Market %s: settled %d winners and %d losers", marketID, len(settlement.Payouts), len(settlement.Losers)))

	if len(failed) > 0 {
		return settlement, fmt.Errorf("escrow_service: claim on %s settled with %d failed payout leg(s): %s",
			marketID, len(failed), strings.Join(failed, "; "))
	}

	s.logger.InfoContext(ctx, "claim settled",
		slog.String("market_id", marketID),
		slog.Int("winners", len(settlement.Payouts)),
		slog.Int("losers", len(settlement.Losers)),
	)
	return settlement, nil
}

// checkCustody verifies that the escrow account can cover every leg of the
// planned settlement before anything is marked claimed.
func (s *EscrowService) checkCustody(ctx context.Context, plan domain.Settlement) error {
	needWinning := new(big.Int)
	needLosing := new(big.Int)
	for _, p := range plan.Payouts {
		needWinning.Add(needWinning, p.Refund)
		needLosing.Add(needLosing, p.Winnings)
	}

	account := s.ledger.Account()
	for _, leg := range []struct {
		asset common.Address
		need  *big.Int
	}{
		{plan.WinningAsset, needWinning},
		{plan.LosingAsset, needLosing},
	} {
		if leg.need.Sign() == 0 {
			continue
		}
		bal, err := s.ledger.BalanceOf(ctx, leg.asset, account)
		if err != nil {
			return fmt.Errorf("escrow_service: custody balance of %s: %w", leg.asset, err)
		}
		if bal.Cmp(leg.need) < 0 {
			return fmt.Errorf("escrow_service: asset %s needs %s, holds %s: %w",
				leg.asset, leg.need, bal, domain.ErrInsufficientCustody)
		}
	}
	return nil
}

func (s *EscrowService) journalFailedLeg(ctx context.Context, settlement domain.Settlement, to common.Address, asset common.Address, amount *big.Int, cause error) string {
	s.logger.ErrorContext(ctx, "payout transfer failed",
		slog.String("market_id", settlement.MarketID),
		slog.String("participant", to.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()),
		slog.String("error", cause.Error()),
	)
	s.logAudit(ctx, "claim.payout_failed", map[string]any{
		"market_id":   settlement.MarketID,
		"participant": to.Hex(),
		"asset":       asset.Hex(),
		"amount":      amount.String(),
		"error":       cause.Error(),
	})
	s.notify(ctx, notify.EventError, "Payout transfer failed",
		fmt.Sprintf("Market %s: %s of asset %s to %s failed: %v",
			settlement.MarketID, amount, asset.Hex(), to.Hex(), cause))
	return fmt.Sprintf("%s %s to %s", amount, asset.Hex(), to.Hex())
}

// SweepRemainder releases a resolved market's accrued settlement dust to the
// configured sweep address.
func (s *EscrowService) SweepRemainder(ctx context.Context, marketID string) (*big.Int, error) {
	m, err := s.liveMarket(marketID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("escrow_service: sweep %s: %w", marketID, err)
	}
	defer unlock()

	amount, asset, err := m.SweepRemainder()
	if err != nil {
		return nil, err
	}

	if err := s.markets.Update(ctx, m.Snapshot(s.now())); err != nil {
		return amount, fmt.Errorf("escrow_service: persist sweep %s: %w", marketID, err)
	}
	s.invalidate(ctx, marketID)

	if err := s.ledger.Transfer(ctx, asset, s.sweepTo, amount); err != nil {
		return amount, fmt.Errorf("escrow_service: sweep transfer for %s: %w", marketID, err)
	}

	s.logAudit(ctx, "remainder.swept", map[string]any{
		"market_id": marketID,
		"asset":     asset.Hex(),
		"amount":    amount.String(),
		"to":        s.sweepTo.Hex(),
	})
	s.notify(ctx, notify.EventRemainderSwept, "Remainder swept",
		fmt.Sprintf("Market %s: swept %s of asset %s", marketID, amount, asset.Hex()))

	s.logger.InfoContext(ctx, "remainder swept",
		slog.String("market_id", marketID),
		slog.String("amount", amount.String()),
	)
	return amount, nil
}

// GetMarket returns a market snapshot, preferring the cache for resolved or
// quiet markets and falling back to the live instance.
func (s *EscrowService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if snap, err := s.cache.Get(ctx, id); err == nil {
		return snap, nil
	}

	m, err := s.liveMarket(id)
	if err != nil {
		return domain.Market{}, err
	}
	snap := m.Snapshot(s.now())

	if cacheErr := s.cache.Set(ctx, snap); cacheErr != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return snap, nil
}

// ListMarkets returns market snapshots from the store.
func (s *EscrowService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("escrow_service: list markets: %w", err)
	}
	return markets, nil
}

// GetPosition returns one participant's position in a market.
func (s *EscrowService) GetPosition(ctx context.Context, marketID string, participant common.Address) (domain.Position, error) {
	m, err := s.liveMarket(marketID)
	if err != nil {
		return domain.Position{}, err
	}
	return m.Position(participant)
}

// ListPositions returns every position in a market in bet order.
func (s *EscrowService) ListPositions(ctx context.Context, marketID string) ([]domain.Position, error) {
	m, err := s.liveMarket(marketID)
	if err != nil {
		return nil, err
	}
	return m.Positions(), nil
}

// ListParticipantPositions returns a participant's positions across markets.
func (s *EscrowService) ListParticipantPositions(ctx context.Context, participant common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByParticipant(ctx, participant, opts)
	if err != nil {
		return nil, fmt.Errorf("escrow_service: list positions for %s: %w", participant, err)
	}
	return positions, nil
}

// ListAudit returns audit log entries.
func (s *EscrowService) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("escrow_service: list audit: %w", err)
	}
	return entries, nil
}

// Count returns the number of markets in the store.
func (s *EscrowService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("escrow_service: count markets: %w", err)
	}
	return count, nil
}

// Helpers below are deliberately non-fatal: losing an event, a cache entry,
// or a notification never fails the escrow operation that produced it.

func (s *EscrowService) invalidate(ctx context.Context, marketID string) {
	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *EscrowService) publish(ctx context.Context, channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "event marshal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, channel, data); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *EscrowService) journalSettlement(ctx context.Context, settlement domain.Settlement) {
	data, err := json.Marshal(settlement)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement marshal failed",
			slog.String("market_id", settlement.MarketID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.StreamAppend(ctx, SettlementStream, data); err != nil {
		s.logger.WarnContext(ctx, "settlement journal append failed",
			slog.String("market_id", settlement.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *EscrowService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *EscrowService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
