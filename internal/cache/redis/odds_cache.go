package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// OddsTTL bounds how long a snapshot outlives its market's last commit.
const OddsTTL = 15 * time.Second

// OddsCache implements domain.OddsCache with one hash per market.
//
// Key schema:
//
//	odds:{marketID} - hash with fields "data" (JSON snapshot) and "seq"
type OddsCache struct {
	c   *Client
	ttl time.Duration
}

// NewOddsCache creates an OddsCache backed by the given Client.
func NewOddsCache(c *Client) *OddsCache {
	return &OddsCache{c: c, ttl: OddsTTL}
}

func (oc *OddsCache) oddsKey(id string) string { return oc.c.key("odds:", id) }

// setIfNewerLua writes the snapshot only when its seq is not older than the
// cached one, so a slow writer cannot roll the odds back.
const setIfNewerLua = `
local cur = redis.call('HGET', KEYS[1], 'seq')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
    return 0
end
redis.call('HSET', KEYS[1], 'seq', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`

var setIfNewer = redis.NewScript(setIfNewerLua)

// Set stores snap unless a newer snapshot for the same market is cached.
func (oc *OddsCache) Set(ctx context.Context, snap domain.OddsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal odds %s: %w", snap.MarketID, err)
	}
	err = setIfNewer.Run(ctx, oc.c.rdb, []string{oc.oddsKey(snap.MarketID)},
		snap.Seq, data, oc.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis: set odds %s: %w", snap.MarketID, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (oc *OddsCache) Get(ctx context.Context, marketID string) (domain.OddsSnapshot, error) {
	data, err := oc.c.rdb.HGet(ctx, oc.oddsKey(marketID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OddsSnapshot{}, domain.ErrNotFound
		}
		return domain.OddsSnapshot{}, fmt.Errorf("redis: get odds %s: %w", marketID, err)
	}

	var snap domain.OddsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OddsSnapshot{}, fmt.Errorf("redis: unmarshal odds %s: %w", marketID, err)
	}
	return snap, nil
}

// Invalidate removes a market's snapshot.
func (oc *OddsCache) Invalidate(ctx context.Context, marketID string) error {
	if err := oc.c.rdb.Del(ctx, oc.oddsKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate odds %s: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OddsCache = (*OddsCache)(nil)
