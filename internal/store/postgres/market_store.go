package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// bigString renders a big.Int for a TEXT column, treating nil as zero.
func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseBig parses a TEXT column back into a big.Int.
func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid big integer %q", s)
	}
	return v, nil
}

const marketCols = `id, asset_a, asset_b, stake_a, stake_b, deadline,
	phase, winner, total_a, total_b, remainder,
	created_at, updated_at, resolved_at`

// Create inserts a new market row.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, asset_a, asset_b, stake_a, stake_b, deadline,
			phase, winner, total_a, total_b, remainder,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.AssetA.Hex(), m.AssetB.Hex(),
		bigString(m.StakeA), bigString(m.StakeB), m.Deadline,
		string(m.Phase), string(m.Winner),
		bigString(m.TotalA), bigString(m.TotalB), bigString(m.Remainder),
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a market.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			phase       = $2,
			winner      = $3,
			total_a     = $4,
			total_b     = $5,
			remainder   = $6,
			resolved_at = $7,
			updated_at  = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, string(m.Phase), string(m.Winner),
		bigString(m.TotalA), bigString(m.TotalB), bigString(m.Remainder),
		m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                         domain.Market
		assetA, assetB            string
		stakeA, stakeB            string
		totalA, totalB, remainder string
		phase, winner             string
		resolvedAt                *time.Time
	)

	err := row.Scan(
		&m.ID, &assetA, &assetB, &stakeA, &stakeB, &m.Deadline,
		&phase, &winner, &totalA, &totalB, &remainder,
		&m.CreatedAt, &m.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.AssetA = common.HexToAddress(assetA)
	m.AssetB = common.HexToAddress(assetB)
	m.Phase = domain.Phase(phase)
	m.Winner = domain.Side(winner)
	m.ResolvedAt = resolvedAt

	if m.StakeA, err = parseBig(stakeA); err != nil {
		return domain.Market{}, err
	}
	if m.StakeB, err = parseBig(stakeB); err != nil {
		return domain.Market{}, err
	}
	if m.TotalA, err = parseBig(totalA); err != nil {
		return domain.Market{}, err
	}
	if m.TotalB, err = parseBig(totalB); err != nil {
		return domain.Market{}, err
	}
	if m.Remainder, err = parseBig(remainder); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets with pagination and optional time filtering, newest
// first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// ListResolvedBefore returns markets resolved at or before the cutoff, oldest
// first. Used by the archiver to select rows eligible for cold storage.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE phase = 'resolved' AND resolved_at <= $1
		ORDER BY resolved_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolved market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets rows: %w", err)
	}
	return markets, nil
}

// Delete removes a market and its positions. Only the archiver calls this,
// after the rows have been copied to cold storage.
func (s *MarketStore) Delete(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin delete market %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE market_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete positions for %s: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM markets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit(ctx)
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
