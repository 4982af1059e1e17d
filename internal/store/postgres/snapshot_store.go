package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore, one row per market.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save upserts the snapshot unless a newer one is already stored.
func (s *SnapshotStore) Save(ctx context.Context, marketID string, seq int64, data []byte) error {
	const query = `
		INSERT INTO market_snapshots (market_id, seq, state, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (market_id) DO UPDATE
		SET seq = EXCLUDED.seq, state = EXCLUDED.state, updated_at = NOW()
		WHERE market_snapshots.seq <= EXCLUDED.seq`

	if _, err := s.pool.Exec(ctx, query, marketID, seq, data); err != nil {
		return fmt.Errorf("postgres: save snapshot %s#%d: %w", marketID, seq, err)
	}
	return nil
}

// Latest returns the newest snapshot or domain.ErrNotFound.
func (s *SnapshotStore) Latest(ctx context.Context, marketID string) (int64, []byte, error) {
	var (
		seq  int64
		data []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT seq, state FROM market_snapshots WHERE market_id = $1`, marketID,
	).Scan(&seq, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, domain.ErrNotFound
		}
		return 0, nil, fmt.Errorf("postgres: latest snapshot %s: %w", marketID, err)
	}
	return seq, data, nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
