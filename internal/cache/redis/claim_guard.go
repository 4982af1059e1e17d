package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// ClaimGuard implements domain.ClaimGuard with SETNX. The flag only sheds
// duplicate claims; the engine's event log decides whether a payout was
// drawn, so a flag left by a crashed process does not strand it. Keys never
// expire unless WithTTL is set.
type ClaimGuard struct {
	c   *Client
	ttl time.Duration
}

// NewClaimGuard creates a ClaimGuard backed by the given Client.
func NewClaimGuard(c *Client) *ClaimGuard {
	return &ClaimGuard{c: c}
}

// WithTTL expires claimed flags after ttl. Zero keeps them forever.
func (g *ClaimGuard) WithTTL(ttl time.Duration) *ClaimGuard {
	g.ttl = ttl
	return g
}

func (g *ClaimGuard) claimKey(key string) string { return g.c.key("claimed:", key) }

// TryClaim sets the flag for key and reports whether this caller set it.
func (g *ClaimGuard) TryClaim(ctx context.Context, key string) (bool, error) {
	ok, err := g.c.rdb.SetNX(ctx, g.claimKey(key), time.Now().UTC().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", key, err)
	}
	return ok, nil
}

// Release clears the flag after a claim failed to commit.
func (g *ClaimGuard) Release(ctx context.Context, key string) error {
	if err := g.c.rdb.Del(ctx, g.claimKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: release claim %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ClaimGuard = (*ClaimGuard)(nil)
