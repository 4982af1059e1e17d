package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysCarryPrefix(t *testing.T) {
	c := &Client{prefix: "nb:"}
	assert.Equal(t, "nb:lock:market:m1", NewLockManager(c).lockKey("market:m1"))
	assert.Equal(t, "nb:odds:m1", NewOddsCache(c).oddsKey("m1"))
	assert.Equal(t, "nb:claimed:m1:alice:market", NewClaimGuard(c).claimKey("m1:alice:market"))
	assert.Equal(t, "nb:ratelimit:bet:alice", NewRateLimiter(c).rateLimitKey("bet:alice"))

	bare := &Client{}
	assert.Equal(t, "market:m1", bare.key("market:", "m1"))
}

func TestHasPattern(t *testing.T) {
	tests := []struct {
		channel string
		want    bool
	}{
		{"markets", false},
		{"market:abc", false},
		{"market:*", true},
		{"market:?", true},
		{"market:[ab]", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hasPattern(tt.channel), tt.channel)
	}
}

func TestPayloadOf(t *testing.T) {
	got, ok := payloadOf(map[string]interface{}{"payload": "x"})
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), got)

	got, ok = payloadOf(map[string]interface{}{"payload": []byte("y")})
	assert.True(t, ok)
	assert.Equal(t, []byte("y"), got)

	_, ok = payloadOf(map[string]interface{}{"other": "z"})
	assert.False(t, ok)
}

func TestOptions(t *testing.T) {
	opts, err := options(ClientConfig{Addr: "cache:6379", Password: "pw", DB: 2, PoolSize: 7, TLSEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	require.NotNil(t, opts.TLSConfig)

	opts, err = options(ClientConfig{Addr: "redis://:secret@cache:6380/4", Password: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 4, opts.DB)

	_, err = options(ClientConfig{Addr: "redis://cache:6379/notadb"})
	assert.Error(t, err)
}
