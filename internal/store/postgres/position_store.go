package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `market_id, participant, side, amount, claimed, payout,
	placed_at, claimed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p           domain.Position
		participant string
		side        string
		amount      string
		payout      *string
	)

	err := row.Scan(
		&p.MarketID, &participant, &side, &amount,
		&p.Claimed, &payout, &p.PlacedAt, &p.ClaimedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Participant = common.HexToAddress(participant)
	p.Side = domain.Side(side)
	if p.Amount, err = parseBig(amount); err != nil {
		return domain.Position{}, err
	}
	if payout != nil {
		if p.Payout, err = parseBig(*payout); err != nil {
			return domain.Position{}, err
		}
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			market_id, participant, side, amount, claimed, placed_at
		) VALUES ($1, $2, $3, $4, FALSE, $5)`

	_, err := s.pool.Exec(ctx, query,
		p.MarketID, p.Participant.Hex(), string(p.Side),
		bigString(p.Amount), p.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s/%s: %w", p.MarketID, p.Participant, err)
	}
	return nil
}

// Get retrieves one participant's position in a market.
func (s *PositionStore) Get(ctx context.Context, marketID string, participant common.Address) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE market_id = $1 AND participant = $2`,
		marketID, participant.Hex())

	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", marketID, participant, err)
	}
	return p, nil
}

// ListByMarket returns every position in a market in bet order.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE market_id = $1
		 ORDER BY placed_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", marketID, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", marketID, err)
	}
	return positions, nil
}

// ListByParticipant returns a participant's positions across markets with
// pagination and optional time filtering, newest first.
func (s *PositionStore) ListByParticipant(ctx context.Context, participant common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE participant = $1`
	args := []any{participant.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND placed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND placed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY placed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", participant, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", participant, err)
	}
	return positions, nil
}

// MarkClaimed settles a batch of positions in one transaction. Each position
// must exist and be unclaimed; otherwise the whole batch rolls back so a
// participant can never be paid twice.
func (s *PositionStore) MarkClaimed(ctx context.Context, marketID string, claims []domain.PositionClaim, claimedAt time.Time) error {
	if len(claims) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin claim batch for %s: %w", marketID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		UPDATE positions SET
			claimed    = TRUE,
			payout     = $3,
			claimed_at = $4
		WHERE market_id = $1 AND participant = $2 AND NOT claimed`

	for _, c := range claims {
		tag, err := tx.Exec(ctx, query,
			marketID, c.Participant.Hex(), bigString(c.Payout), claimedAt)
		if err != nil {
			return fmt.Errorf("postgres: mark claimed %s/%s: %w", marketID, c.Participant, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: position %s/%s: %w", marketID, c.Participant, domain.ErrAlreadyClaimed)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit claim batch for %s: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
