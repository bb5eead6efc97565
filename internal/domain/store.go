package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market escrow state.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	Update(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists per-participant positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Get(ctx context.Context, marketID string, participant common.Address) (Position, error)
	ListByMarket(ctx context.Context, marketID string) ([]Position, error)
	ListByParticipant(ctx context.Context, participant common.Address, opts ListOpts) ([]Position, error)
	// MarkClaimed sets claimed on every listed position in a single atomic
	// statement. It fails without effect if any position is missing or was
	// already claimed.
	MarkClaimed(ctx context.Context, marketID string, claims []PositionClaim, claimedAt time.Time) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
