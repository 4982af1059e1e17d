package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

func TestEventLogSequencing(t *testing.T) {
	ctx := context.Background()
	l := NewEventLog()
	require.NoError(t, l.Append(ctx, domain.Envelope{MarketID: "m1", Seq: 1, Kind: domain.EventMarketOpened}))
	require.NoError(t, l.Append(ctx, domain.Envelope{MarketID: "m1", Seq: 2, Kind: domain.EventMarketLocked}))

	err := l.Append(ctx, domain.Envelope{MarketID: "m1", Seq: 2})
	require.ErrorIs(t, err, domain.ErrSeqConflict)
	err = l.Append(ctx, domain.Envelope{MarketID: "m2", Seq: 2})
	require.ErrorIs(t, err, domain.ErrSeqConflict)

	tail, err := l.Load(ctx, "m1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, domain.EventMarketLocked, tail[0].Kind)

	all, err := l.Load(ctx, "m1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	streams, err := l.Streams(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, streams)
}

func TestSnapshotStoreKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := NewSnapshotStore()
	_, _, err := s.Latest(ctx, "m1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Save(ctx, "m1", 5, []byte("five")))
	require.NoError(t, s.Save(ctx, "m1", 3, []byte("three")))
	seq, data, err := s.Latest(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), seq)
	assert.Equal(t, "five", string(data))
}

func TestClaimGuardConcurrent(t *testing.T) {
	g := NewClaimGuard()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.TryClaim(context.Background(), "m1:alice:market")
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	require.NoError(t, g.Release(context.Background(), "m1:alice:market"))
	ok, err := g.TryClaim(context.Background(), "m1:alice:market")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockManager(t *testing.T) {
	l := NewLockManager()
	unlock, err := l.Acquire(context.Background(), "market:m1", time.Second)
	require.NoError(t, err)

	other, err := l.Acquire(context.Background(), "market:m2", time.Second)
	require.NoError(t, err, "keys lock independently")
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "market:m1", time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		again, err := l.Acquire(context.Background(), "market:m1", time.Second)
		if err == nil {
			again()
		}
		close(acquired)
	}()
	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}

func TestEventBusPatterns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewEventBus()

	all, err := b.Subscribe(ctx, "market:*")
	require.NoError(t, err)
	one, err := b.Subscribe(ctx, "market:m2")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "market:m1", []byte("a")))
	require.NoError(t, b.Publish(ctx, "market:m2", []byte("b")))
	require.NoError(t, b.Publish(ctx, "markets", []byte("c")))

	recv := func(ch <-chan []byte) string {
		select {
		case p := <-ch:
			return string(p)
		case <-time.After(time.Second):
			return ""
		}
	}
	assert.Equal(t, "a", recv(all))
	assert.Equal(t, "b", recv(all))
	assert.Equal(t, "b", recv(one))

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-one
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestEventBusStreams(t *testing.T) {
	ctx := context.Background()
	b := NewEventBus()
	for _, p := range []string{"x", "y", "z"} {
		require.NoError(t, b.StreamAppend(ctx, domain.StreamMarketEvents, []byte(p)))
	}
	msgs, err := b.StreamRead(ctx, domain.StreamMarketEvents, "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "x", string(msgs[0].Payload))

	msgs, err = b.StreamRead(ctx, domain.StreamMarketEvents, msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "z", string(msgs[0].Payload))
}

func TestProfileTop(t *testing.T) {
	ctx := context.Background()
	s := NewProfileStore()
	for addr, score := range map[string]int{"a": 900, "b": 1600, "c": 1200} {
		p := domain.NewPsychicProfile(addr)
		p.Score = score
		require.NoError(t, s.Upsert(ctx, p))
	}
	top, err := s.Top(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Address)
	assert.Equal(t, "c", top[1].Address)

	_, err = s.Get(ctx, "zz")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
