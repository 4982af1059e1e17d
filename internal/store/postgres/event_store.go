package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// EventLog implements domain.EventLog on the market_events table.
type EventLog struct {
	pool *pgxpool.Pool
}

// NewEventLog creates a new EventLog backed by the given connection pool.
func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

// Append inserts env. The insert only succeeds when env.Seq directly follows
// the stream's current tail; a taken or skipped slot is ErrSeqConflict.
func (l *EventLog) Append(ctx context.Context, env domain.Envelope) error {
	const query = `
		INSERT INTO market_events (market_id, seq, kind, at, payload)
		SELECT $1, $2, $3, $4, $5
		WHERE $2 = COALESCE((SELECT MAX(seq) FROM market_events WHERE market_id = $1), 0) + 1`

	tag, err := l.pool.Exec(ctx, query, env.MarketID, env.Seq, string(env.Kind), env.At, []byte(env.Payload))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: append %s#%d: %w", env.MarketID, env.Seq, domain.ErrSeqConflict)
		}
		return fmt.Errorf("postgres: append %s#%d: %w", env.MarketID, env.Seq, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: append %s#%d: %w", env.MarketID, env.Seq, domain.ErrSeqConflict)
	}
	return nil
}

// Load returns the events of marketID with seq > afterSeq in order.
func (l *EventLog) Load(ctx context.Context, marketID string, afterSeq int64) ([]domain.Envelope, error) {
	const query = `
		SELECT market_id, seq, kind, at, payload
		FROM market_events
		WHERE market_id = $1 AND seq > $2
		ORDER BY seq`

	rows, err := l.pool.Query(ctx, query, marketID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("postgres: load events %s: %w", marketID, err)
	}
	defer rows.Close()

	envs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Envelope, error) {
		var (
			env     domain.Envelope
			kind    string
			payload []byte
		)
		if err := row.Scan(&env.MarketID, &env.Seq, &kind, &env.At, &payload); err != nil {
			return domain.Envelope{}, err
		}
		env.Kind = domain.EventKind(kind)
		env.Payload = payload
		env.At = env.At.UTC()
		return env, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events %s: %w", marketID, err)
	}
	return envs, nil
}

// Streams lists every stream id with at least one event.
func (l *EventLog) Streams(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT DISTINCT market_id FROM market_events ORDER BY market_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list streams: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan streams: %w", err)
	}
	return ids, nil
}

// Compile-time interface check.
var _ domain.EventLog = (*EventLog)(nil)
