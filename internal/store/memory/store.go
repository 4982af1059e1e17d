// Package memory implements the domain store, cache, and bus interfaces in
// process memory. It backs the engine in tests and in single-node
// deployments that do not configure Postgres or Redis.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// EventLog implements domain.EventLog.
type EventLog struct {
	mu      sync.RWMutex
	streams map[string][]domain.Envelope
}

var _ domain.EventLog = (*EventLog)(nil)

// NewEventLog creates an empty EventLog.
func NewEventLog() *EventLog {
	return &EventLog{streams: map[string][]domain.Envelope{}}
}

// Append adds env at the end of its stream. The envelope's Seq must be
// exactly one past the current tail.
func (l *EventLog) Append(_ context.Context, env domain.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tail := int64(len(l.streams[env.MarketID]))
	if env.Seq != tail+1 {
		return fmt.Errorf("memory: append %s seq %d after %d: %w", env.MarketID, env.Seq, tail, domain.ErrSeqConflict)
	}
	l.streams[env.MarketID] = append(l.streams[env.MarketID], env)
	return nil
}

// Load returns every envelope of marketID with Seq > afterSeq.
func (l *EventLog) Load(_ context.Context, marketID string, afterSeq int64) ([]domain.Envelope, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.streams[marketID]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(s)) {
		return nil, nil
	}
	out := make([]domain.Envelope, len(s)-int(afterSeq))
	copy(out, s[afterSeq:])
	return out, nil
}

// Streams lists every stream id in sorted order.
func (l *EventLog) Streams(context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.streams))
	for id := range l.streams {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

type snapshot struct {
	seq  int64
	data []byte
}

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]snapshot
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: map[string]snapshot{}}
}

// Save stores data as the latest snapshot unless a newer one exists.
func (s *SnapshotStore) Save(_ context.Context, marketID string, seq int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.snaps[marketID]; ok && cur.seq > seq {
		return nil
	}
	s.snaps[marketID] = snapshot{seq: seq, data: append([]byte(nil), data...)}
	return nil
}

// Latest returns the newest snapshot for marketID.
func (s *SnapshotStore) Latest(_ context.Context, marketID string) (int64, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.snaps[marketID]
	if !ok {
		return 0, nil, fmt.Errorf("memory: snapshot %s: %w", marketID, domain.ErrNotFound)
	}
	return cur.seq, append([]byte(nil), cur.data...), nil
}

// ProfileStore implements domain.ProfileStore.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.PsychicProfile
}

var _ domain.ProfileStore = (*ProfileStore)(nil)

// NewProfileStore creates an empty ProfileStore.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: map[string]domain.PsychicProfile{}}
}

// Get returns the profile for address.
func (s *ProfileStore) Get(_ context.Context, address string) (domain.PsychicProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[address]
	if !ok {
		return domain.PsychicProfile{}, fmt.Errorf("memory: profile %s: %w", address, domain.ErrNotFound)
	}
	return p, nil
}

// Upsert stores p.
func (s *ProfileStore) Upsert(_ context.Context, p domain.PsychicProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Address] = p
	return nil
}

// Top returns up to limit profiles by descending score.
func (s *ProfileStore) Top(_ context.Context, limit int) ([]domain.PsychicProfile, error) {
	s.mu.RLock()
	out := make([]domain.PsychicProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Address < out[j].Address
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	now     func() time.Time
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		if opts.MarketID != "" && e.Detail["market_id"] != opts.MarketID {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ClaimGuard implements domain.ClaimGuard with a sync.Map.
type ClaimGuard struct {
	claimed sync.Map
}

var _ domain.ClaimGuard = (*ClaimGuard)(nil)

// NewClaimGuard creates an empty ClaimGuard.
func NewClaimGuard() *ClaimGuard {
	return &ClaimGuard{}
}

// TryClaim takes key if nobody holds it.
func (g *ClaimGuard) TryClaim(_ context.Context, key string) (bool, error) {
	_, loaded := g.claimed.LoadOrStore(key, struct{}{})
	return !loaded, nil
}

// Release frees key after a failed claim.
func (g *ClaimGuard) Release(_ context.Context, key string) error {
	g.claimed.Delete(key)
	return nil
}

// LockManager implements domain.LockManager for engines sharing one
// process. Locks are released explicitly, so ttl is ignored.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager with no locks held.
func NewLockManager() *LockManager {
	return &LockManager{locks: map[string]chan struct{}{}}
}

// Acquire blocks until key is free or ctx is done. The returned unlock may
// be called more than once.
func (l *LockManager) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	sem, ok := l.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		l.locks[key] = sem
	}
	l.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("memory: lock %s: %w", key, ctx.Err())
	}
	var once sync.Once
	return func() { once.Do(func() { <-sem }) }, nil
}

// OddsCache implements domain.OddsCache.
type OddsCache struct {
	mu   sync.RWMutex
	odds map[string]domain.OddsSnapshot
}

var _ domain.OddsCache = (*OddsCache)(nil)

// NewOddsCache creates an empty OddsCache.
func NewOddsCache() *OddsCache {
	return &OddsCache{odds: map[string]domain.OddsSnapshot{}}
}

// Set stores odds unless a newer sequence is cached.
func (c *OddsCache) Set(_ context.Context, odds domain.OddsSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.odds[odds.MarketID]; ok && cur.Seq > odds.Seq {
		return nil
	}
	c.odds[odds.MarketID] = odds
	return nil
}

// Get returns the cached odds for marketID.
func (c *OddsCache) Get(_ context.Context, marketID string) (domain.OddsSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.odds[marketID]
	if !ok {
		return domain.OddsSnapshot{}, fmt.Errorf("memory: odds %s: %w", marketID, domain.ErrNotFound)
	}
	return o, nil
}

// Invalidate drops the cached odds for marketID.
func (c *OddsCache) Invalidate(_ context.Context, marketID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.odds, marketID)
	return nil
}
