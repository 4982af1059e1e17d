package engine

import (
	"sync"
	"time"
)

// requestCache remembers client request ids so a retried placeBet returns
// the original bet instead of staking twice. It is safe for concurrent use.
type requestCache struct {
	seen map[string]cachedRequest
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

type cachedRequest struct {
	marketID string
	betID    string
	at       time.Time
}

// sweepAt is the cache size past which expired entries are dropped on write.
const sweepAt = 4096

func newRequestCache(ttl time.Duration) *requestCache {
	return &requestCache{seen: map[string]cachedRequest{}, ttl: ttl, now: time.Now}
}

// lookup returns the bet recorded under key if it was seen within the TTL.
func (d *requestCache) lookup(key string) (cachedRequest, bool) {
	if key == "" || d.ttl <= 0 {
		return cachedRequest{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.seen[key]
	if !ok || d.now().Sub(c.at) >= d.ttl {
		return cachedRequest{}, false
	}
	return c, true
}

func (d *requestCache) remember(key, marketID, betID string) {
	if key == "" || d.ttl <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	d.seen[key] = cachedRequest{marketID: marketID, betID: betID, at: now}
	if len(d.seen) > sweepAt {
		for k, c := range d.seen {
			if now.Sub(c.at) >= d.ttl {
				delete(d.seen, k)
			}
		}
	}
}
