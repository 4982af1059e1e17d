package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit    int
	Offset   int
	Since    *time.Time
	Until    *time.Time
	MarketID string
}

// EventLog is the append-only per-market event stream. Append fails with
// ErrSeqConflict when the (market, seq) slot is already taken.
type EventLog interface {
	Append(ctx context.Context, env Envelope) error
	Load(ctx context.Context, marketID string, afterSeq int64) ([]Envelope, error)
	Streams(ctx context.Context) ([]string, error)
}

// SnapshotStore keeps the latest materialised state of each market.
type SnapshotStore interface {
	Save(ctx context.Context, marketID string, seq int64, data []byte) error
	Latest(ctx context.Context, marketID string) (seq int64, data []byte, err error)
}

// ProfileStore persists psychic profiles.
type ProfileStore interface {
	Get(ctx context.Context, address string) (PsychicProfile, error)
	Upsert(ctx context.Context, p PsychicProfile) error
	Top(ctx context.Context, limit int) ([]PsychicProfile, error)
}

// ClaimGuard is the per-bettor-per-market claimed flag. TryClaim returns
// false when the key was already taken.
type ClaimGuard interface {
	TryClaim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
