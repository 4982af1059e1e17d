package domain

import (
	"context"
	"time"
)

// OddsCache holds the latest odds snapshot per market for viewers.
type OddsCache interface {
	Set(ctx context.Context, odds OddsSnapshot) error
	Get(ctx context.Context, marketID string) (OddsSnapshot, error)
	Invalidate(ctx context.Context, marketID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub and durable streams for market events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names.
const (
	ChannelMarkets      = "markets"
	ChannelMarketPrefix = "market:"
	StreamMarketEvents  = "stream:market_events"
)

// MarketChannel is the per-market pub/sub channel.
func MarketChannel(marketID string) string {
	return ChannelMarketPrefix + marketID
}
