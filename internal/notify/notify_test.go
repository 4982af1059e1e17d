package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
}

func (r *recorder) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func TestNotifyFiltersAndJoinsErrors(t *testing.T) {
	ctx := context.Background()
	ok := &recorder{name: "ok"}
	bad := &recorder{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{ok, bad}, []string{EventMarketDisputed, " "}, discard())

	require.NoError(t, n.Notify(ctx, EventMarketResolved, "ignored", ""))
	assert.Empty(t, ok.sent())

	err := n.Notify(ctx, EventMarketDisputed, "Market disputed", "m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"Market disputed"}, ok.sent())

	var none *Notifier
	require.NoError(t, none.Notify(ctx, EventOracleFailed, "x", "y"))
}

func TestDescribe(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	disputed, err := domain.NewEnvelope("m1", 4, at, domain.MarketDisputed{
		At:       at,
		Deadline: at.Add(48 * time.Hour),
		Reason:   "low confidence",
		Verdict:  &domain.OracleVerdict{Outcome: 1, ConfidenceBps: 6_050},
	})
	require.NoError(t, err)
	event, title, msg, ok := Describe(disputed)
	require.True(t, ok)
	assert.Equal(t, EventMarketDisputed, event)
	assert.Equal(t, "Market disputed", title)
	assert.Contains(t, msg, "2026-03-03T12:00:00Z")
	assert.Contains(t, msg, "60.50%")

	resolved, err := domain.NewEnvelope("m1", 5, at, domain.MarketResolved{
		Source:     "dispute_vote",
		Settlement: domain.Settlement{WinningSet: []int{1}, TotalPool: ledger.Units(400)},
	})
	require.NoError(t, err)
	event, _, msg, ok = Describe(resolved)
	require.True(t, ok)
	assert.Equal(t, EventMarketResolved, event)
	assert.Contains(t, msg, "dispute_vote")

	opened, err := domain.NewEnvelope("m1", 2, at, domain.MarketOpened{})
	require.NoError(t, err)
	_, _, _, ok = Describe(opened)
	assert.False(t, ok)
}

func TestWatchForwardsBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewEventBus()
	rec := &recorder{name: "rec"}
	n := NewNotifier([]Sender{rec}, nil, discard())

	done := make(chan error, 1)
	go func() { done <- n.Watch(ctx, bus) }()

	env, err := domain.NewEnvelope("m1", 3, time.Now().UTC(), domain.MarketVoided{Reason: "operator"})
	require.NoError(t, err)
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, domain.ChannelMarkets, payload)
		return len(rec.sent()) > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "Market voided", rec.sent()[0])

	cancel()
	require.NoError(t, <-done)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"no content", http.StatusNoContent, false},
		{"rate limited", http.StatusTooManyRequests, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "m")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
