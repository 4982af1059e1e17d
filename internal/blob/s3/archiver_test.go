package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/crypto"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/store/memory"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newBlobs() *blobs { return &blobs{objects: map[string][]byte{}} }

func (b *blobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[path] = raw
	b.mu.Unlock()
	return nil
}

func (b *blobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *blobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *blobs) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func appendEvents(t *testing.T, log domain.EventLog, marketID string, evs ...domain.Event) {
	t.Helper()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, ev := range evs {
		env, err := domain.NewEnvelope(marketID, int64(i+1), at, ev)
		require.NoError(t, err)
		require.NoError(t, log.Append(context.Background(), env))
	}
}

func TestArchiveMarket(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventLog()
	audit := memory.NewAuditStore()
	store := newBlobs()

	st := domain.Settlement{
		MarketID:   "m1",
		WinningSet: []int{0},
		TotalPool:  ledger.Units(400),
		Payouts:    map[string]ledger.Amount{"alice": ledger.Units(340)},
	}
	appendEvents(t, events, "m1",
		domain.MarketOpened{},
		domain.MarketResolved{Settlement: st, Source: "oracle"},
	)

	att, err := crypto.NewAttestor(testKeyHex, 1)
	require.NoError(t, err)
	a := NewArchiver(store, store, events, audit).WithAttestor(att)

	ok, err := a.Archived(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := a.ArchiveMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err = a.Archived(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	lines := strings.Split(strings.TrimSpace(string(store.objects["markets/m1/events.jsonl"])), "\n")
	require.Len(t, lines, 2)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &env))
	assert.Equal(t, domain.EventMarketResolved, env.Kind)

	got, err := a.ReadSettlement(ctx, "m1", 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.Units(340), got.Payouts["alice"])

	_, err = a.ReadSettlement(ctx, "m1", 5)
	require.Error(t, err, "attestation is bound to its chain id")

	entries, err := audit.List(ctx, domain.ListOpts{MarketID: "m1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.market", entries[0].Event)
}

func TestArchiveMarketRequiresSettlement(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventLog()
	store := newBlobs()
	appendEvents(t, events, "open", domain.MarketOpened{})

	a := NewArchiver(store, store, events, nil)
	_, err := a.ArchiveMarket(ctx, "open")
	require.ErrorIs(t, err, domain.ErrNotResolved)
	_, err = a.ArchiveMarket(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, store.objects)
}

func TestArchiverContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/x-ndjson", contentTypeFor("markets/m/events.jsonl"))
	assert.Equal(t, "application/json", contentTypeFor("markets/m/settlement.json"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("x.bin"))
}
