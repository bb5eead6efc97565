package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// MarketArchiveStore provides the queries the archiver needs against markets.
// The Postgres MarketStore satisfies it.
type MarketArchiveStore interface {
	// ListResolvedBefore returns markets resolved at or before the cutoff,
	// oldest first. A limit of 0 means no limit.
	ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Market, error)
	// Delete removes an archived market and its positions.
	Delete(ctx context.Context, id string) error
}

// PositionArchiveStore provides read access to a market's positions.
type PositionArchiveStore interface {
	ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error)
}

// AuditArchiveStore provides the queries the archiver needs against the audit
// log. The Postgres AuditStore satisfies it.
type AuditArchiveStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// marketRecord is the JSONL shape for one archived market: the market row
// together with its positions, so a single line is a self-contained record.
type marketRecord struct {
	Market    domain.Market     `json:"market"`
	Positions []domain.Position `json:"positions"`
}

// ArchiveImpl implements domain.Archiver by copying settled escrow history to
// JSONL objects in S3 and then deleting the source rows. Rows are only
// deleted after the upload succeeded.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	markets   MarketArchiveStore
	positions PositionArchiveStore
	audit     AuditArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	markets MarketArchiveStore,
	positions PositionArchiveStore,
	audit AuditArchiveStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		markets:   markets,
		positions: positions,
		audit:     audit,
	}
}

// ArchiveMarkets uploads every market resolved at or before the cutoff,
// together with its positions, to archive/markets/YYYY-MM.jsonl, then removes
// the rows from the primary store. It returns the number of archived markets.
func (a *ArchiveImpl) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListResolvedBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	records := make([]marketRecord, 0, len(markets))
	for _, m := range markets {
		positions, err := a.positions.ListByMarket(ctx, m.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive market %s positions: %w", m.ID, err)
		}
		records = append(records, marketRecord{Market: m, Positions: positions})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets marshal: %w", err)
	}

	path := archivePath("markets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive markets upload: %w", err)
	}

	var count int64
	for _, m := range markets {
		if err := a.markets.Delete(ctx, m.ID); err != nil {
			return count, fmt.Errorf("s3blob: delete archived market %s: %w", m.ID, err)
		}
		count++
	}
	return count, nil
}

// ArchiveAudit uploads audit entries created at or before the cutoff to
// archive/audit/YYYY-MM.jsonl, then removes them from the primary store. It
// returns the number of archived entries.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: delete archived audit entries: %w", err)
	}
	return deleted, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/markets/2026-01.jsonl
//	archive/audit/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
