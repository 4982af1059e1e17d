package resolver

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/engine"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/notify"
	"github.com/alanyoungcy/narrativebet/internal/oracle"
	"github.com/alanyoungcy/narrativebet/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type titles struct {
	mu  sync.Mutex
	got []string
}

func (s *titles) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	s.got = append(s.got, title)
	s.mu.Unlock()
	return nil
}

func (s *titles) Name() string { return "test" }

func (s *titles) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

type archiver struct {
	mu   sync.Mutex
	done map[string]bool
}

func (a *archiver) ArchiveMarket(_ context.Context, id string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.done[id] = true
	return 1, nil
}

func (a *archiver) Archived(_ context.Context, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done[id], nil
}

func TestTickDrivesMarketsToSettlement(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	clk := &clock{now: t0}

	var fail string
	orc := oracle.Func(func(_ context.Context, req oracle.Request) (domain.OracleVerdict, error) {
		if req.MarketID == fail {
			return domain.OracleVerdict{}, domain.ErrOracleUnavailable
		}
		return domain.OracleVerdict{Outcome: 0, ConfidenceBps: 9_500}, nil
	})
	eng := engine.New(engine.DefaultConfig(), engine.Deps{
		Events:    memory.NewEventLog(),
		Snapshots: memory.NewSnapshotStore(),
		Profiles:  memory.NewProfileStore(),
		Claims:    memory.NewClaimGuard(),
		Oracle:    orc,
	}, logger).WithClock(clk.Now)

	open := func(hours int) string {
		m, err := eng.CreateMarket(ctx, engine.MarketSpec{
			Kind:       domain.MarketKindParimutuel,
			Question:   "Who opens the vault?",
			Outcomes:   []string{"A", "B"},
			DeadlineAt: t0.Add(time.Duration(hours) * time.Hour),
		})
		require.NoError(t, err)
		_, err = eng.OpenMarket(ctx, m.ID)
		require.NoError(t, err)
		for i, who := range []string{"alice", "bob"} {
			_, err = eng.PlaceBet(ctx, engine.BetRequest{MarketID: m.ID, Bettor: who, Selection: []int{i}, Amount: ledger.Units(100)})
			require.NoError(t, err)
		}
		return m.ID
	}
	good := open(1)
	fail = open(1)
	later := open(10)

	sent := &titles{}
	arch := &archiver{done: map[string]bool{}}
	cfg := DefaultConfig()
	cfg.ArchiveAfter = time.Hour
	r := New(eng, arch, notify.NewNotifier([]notify.Sender{sent}, nil, logger), nil, cfg, logger).WithClock(clk.Now)

	rep := r.Tick(ctx)
	assert.Empty(t, rep.Locked, "nothing is due yet")

	clk.Advance(2 * time.Hour)
	rep = r.Tick(ctx)
	assert.ElementsMatch(t, []string{good, fail}, rep.Locked)
	assert.Equal(t, []string{good}, rep.Resolved)
	assert.Equal(t, []string{fail}, rep.Disputed)
	assert.Zero(t, rep.Failed)
	assert.Contains(t, sent.list(), "Oracle failed")

	v, err := eng.Market(later)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, v.Market.Status)

	clk.Advance(2 * time.Hour)
	rep = r.Tick(ctx)
	assert.Equal(t, []string{good}, rep.Archived)
	assert.Empty(t, rep.Locked)

	clk.Advance(48 * time.Hour)
	rep = r.Tick(ctx)
	assert.Equal(t, []string{later}, rep.Locked)
	assert.Equal(t, []string{later}, rep.Resolved)
	assert.Equal(t, []string{fail}, rep.Closed)
	v, err = eng.Market(fail)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusVoided, v.Market.Status)
	assert.Contains(t, sent.list(), "Dispute window closed")

	rep = r.Tick(ctx)
	assert.NotContains(t, rep.Archived, good, "archived once")
}

func TestTickAdoptsMarketsFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	clk := &clock{now: t0}
	deps := engine.Deps{
		Events:    memory.NewEventLog(),
		Snapshots: memory.NewSnapshotStore(),
		Profiles:  memory.NewProfileStore(),
		Claims:    memory.NewClaimGuard(),
		Locks:     memory.NewLockManager(),
		Oracle: oracle.Func(func(context.Context, oracle.Request) (domain.OracleVerdict, error) {
			return domain.OracleVerdict{Outcome: 1, ConfidenceBps: 9_500}, nil
		}),
	}
	newEngine := func() *engine.Engine {
		e := engine.New(engine.DefaultConfig(), deps, logger).WithClock(clk.Now)
		require.NoError(t, e.Restore(ctx))
		return e
	}
	server := newEngine()
	r := New(newEngine(), nil, nil, nil, DefaultConfig(), logger).WithClock(clk.Now)

	m, err := server.CreateMarket(ctx, engine.MarketSpec{
		Question:   "Does the lighthouse keeper lie?",
		Outcomes:   []string{"No", "Yes"},
		DeadlineAt: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = server.OpenMarket(ctx, m.ID)
	require.NoError(t, err)
	for i, who := range []string{"alice", "bob"} {
		_, err = server.PlaceBet(ctx, engine.BetRequest{MarketID: m.ID, Bettor: who, Selection: []int{i}, Amount: ledger.Units(50)})
		require.NoError(t, err)
	}

	clk.Advance(2 * time.Hour)
	rep := r.Tick(ctx)
	assert.Equal(t, []string{m.ID}, rep.Locked)
	assert.Equal(t, []string{m.ID}, rep.Resolved)

	c, err := server.Claim(ctx, m.ID, "bob", domain.ClaimLayerMarket)
	require.NoError(t, err)
	assert.Positive(t, int64(c.Amount))
}
