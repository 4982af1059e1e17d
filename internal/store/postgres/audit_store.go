package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// AuditStore implements domain.AuditStore on the audit_log table. The
// market_id found in an entry's detail is copied to its own indexed column
// so per-market history stays cheap.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates an AuditStore over pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: encode detail: %w", event, err)
	}
	var marketID *string
	if id, _ := detail["market_id"].(string); id != "" {
		marketID = &id
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, market_id, detail) VALUES ($1, $2, $3)`,
		event, marketID, raw,
	); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// listAudit filters with NULL-able parameters; a NULL limit returns every row.
const listAudit = `
	SELECT id, event, detail, created_at
	FROM audit_log
	WHERE ($1::text IS NULL OR market_id = $1)
	  AND ($2::timestamptz IS NULL OR created_at >= $2)
	  AND ($3::timestamptz IS NULL OR created_at <= $3)
	ORDER BY id DESC
	LIMIT $4 OFFSET $5`

// auditArgs maps opts onto listAudit's parameters.
func auditArgs(opts domain.ListOpts) []any {
	var marketID, limit any
	if opts.MarketID != "" {
		marketID = opts.MarketID
	}
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	return []any{marketID, opts.Since, opts.Until, limit, max(opts.Offset, 0)}
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, listAudit, auditArgs(opts)...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("decode detail of entry %d: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}
