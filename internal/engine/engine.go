// Package engine owns every market's state. Each market serialises its
// writers behind its own mutex (and optionally a Redis lock when several
// processes share a store), appends events to the log before applying them,
// and publishes an immutable View for lock-free readers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/amm"
	"github.com/alanyoungcy/narrativebet/internal/consensus"
	"github.com/alanyoungcy/narrativebet/internal/dispute"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/oracle"
	"github.com/alanyoungcy/narrativebet/internal/parimutuel"
	"github.com/alanyoungcy/narrativebet/internal/suspicion"
	"github.com/alanyoungcy/narrativebet/internal/temporal"
)

// StoryStream is the event stream that carries the chapter clock.
const StoryStream = "story"

// Config holds the engine's market rules and operational limits.
type Config struct {
	MinBet           ledger.Amount
	MaxBet           ledger.Amount
	Fees             ledger.FeeSchedule
	AMMFeeBps        int64
	Parimutuel       parimutuel.Rules
	Consensus        consensus.Rules
	Dispute          dispute.Rules
	MinConfidenceBps int64
	Suspicion        suspicion.ScoreConfig

	OracleTimeout  time.Duration
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
	SnapshotEvery  int64
	ClaimWorkers   int
}

// DefaultConfig returns the standard rules: 1 to 10,000 unit bets, the
// 85/12.5/2.5 split, 0.3% swap fee, and a 0.75 confidence floor.
func DefaultConfig() Config {
	return Config{
		MinBet:           ledger.Units(1),
		MaxBet:           ledger.Units(10_000),
		Fees:             ledger.DefaultFeeSchedule(),
		AMMFeeBps:        30,
		Parimutuel:       parimutuel.DefaultRules(),
		Consensus:        consensus.DefaultRules(),
		Dispute:          dispute.DefaultRules(),
		MinConfidenceBps: temporal.DefaultConfidenceBps,
		Suspicion:        suspicion.DefaultScoreConfig(),
		OracleTimeout:    30 * time.Second,
		LockTTL:          10 * time.Second,
		IdempotencyTTL:   10 * time.Minute,
		SnapshotEvery:    1,
		ClaimWorkers:     8,
	}
}

// Deps are the stores and collaborators the engine writes through. Bus,
// Odds, Locks, and Oracle are optional.
type Deps struct {
	Events    domain.EventLog
	Snapshots domain.SnapshotStore
	Profiles  domain.ProfileStore
	Audit     domain.AuditStore
	Claims    domain.ClaimGuard
	Bus       domain.EventBus
	Odds      domain.OddsCache
	Locks     domain.LockManager
	Oracle    oracle.Oracle
}

type market struct {
	id    string
	mu    sync.Mutex
	state *marketState
	view  atomic.Pointer[View]
}

// Engine is the settlement engine. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	markets map[string]*market

	story struct {
		mu  sync.Mutex
		seq int64
	}
	chapter atomic.Int64

	requests *requestCache

	flagsMu sync.Mutex
	flags   map[string]int
}

// New creates an Engine. Call Restore before serving traffic to load
// existing markets from the event log.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 1
	}
	if cfg.ClaimWorkers <= 0 {
		cfg.ClaimWorkers = 1
	}
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
		markets:  map[string]*market{},
		requests: newRequestCache(cfg.IdempotencyTTL),
		flags:    map[string]int{},
	}
}

// WithClock replaces the wall clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.requests.now = now
	return e
}

// Config returns the engine's rules.
func (e *Engine) Config() Config {
	return e.cfg
}

// loaded returns a market this engine already holds.
func (e *Engine) loaded(id string) (*market, error) {
	e.mu.RLock()
	m, ok := e.markets[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// market returns the market id, adopting it from the event log when another
// process sharing the store created it.
func (e *Engine) market(ctx context.Context, id string) (*market, error) {
	if m, err := e.loaded(id); err == nil {
		return m, nil
	}
	return e.adopt(ctx, id)
}

// adopt loads id from its snapshot and log and registers it. A market with
// no events does not exist.
func (e *Engine) adopt(ctx context.Context, id string) (*market, error) {
	if id == "" || id == StoryStream {
		return nil, fmt.Errorf("engine: market %q: %w", id, domain.ErrNotFound)
	}
	s, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Seq == 0 {
		return nil, fmt.Errorf("engine: market %s: %w", id, domain.ErrNotFound)
	}
	m := &market{id: id, state: s}
	m.view.Store(s.view(e.cfg, e.now().UTC()))

	e.mu.Lock()
	if prev, ok := e.markets[id]; ok {
		e.mu.Unlock()
		return prev, nil
	}
	e.markets[id] = m
	e.mu.Unlock()

	if s.Pool != nil {
		for _, b := range s.Pool.Bets {
			if b.SuspicionScore >= e.cfg.Suspicion.FlagThreshold {
				e.flag(b.Bettor)
			}
		}
	}
	return m, nil
}

// lock serialises writers on m. With a LockManager the distributed lock is
// taken first. Either way the local state is caught up with events other
// processes appended before the caller reads it.
func (e *Engine) lock(ctx context.Context, m *market) (func(), error) {
	release := func() {}
	if e.deps.Locks != nil {
		unlock, err := e.deps.Locks.Acquire(ctx, "market:"+m.id, e.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("engine: lock market %s: %w", m.id, err)
		}
		release = unlock
	}
	m.mu.Lock()
	if err := e.catchUp(ctx, m); err != nil {
		m.mu.Unlock()
		release()
		return nil, err
	}
	return func() {
		m.mu.Unlock()
		release()
	}, nil
}

// refresh catches m up without taking the distributed lock.
func (e *Engine) refresh(ctx context.Context, m *market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.catchUp(ctx, m)
}

// catchUp applies events appended after m's sequence. Caller holds m.mu.
func (e *Engine) catchUp(ctx context.Context, m *market) error {
	envs, err := e.deps.Events.Load(ctx, m.id, m.state.Seq)
	if err != nil {
		return fmt.Errorf("engine: catch up %s: %w", m.id, err)
	}
	if len(envs) == 0 {
		return nil
	}
	for _, env := range envs {
		ev, err := env.Decode()
		if err != nil {
			return err
		}
		if err := m.state.apply(env, ev); err != nil {
			return err
		}
	}
	m.view.Store(m.state.view(e.cfg, e.now().UTC()))
	return nil
}

// commit appends evs to m's log, applies them, and publishes the new view.
// Caller holds m's lock and has validated every event.
func (e *Engine) commit(ctx context.Context, m *market, evs ...domain.Event) ([]domain.Envelope, error) {
	now := e.now().UTC()
	envs := make([]domain.Envelope, 0, len(evs))
	for _, ev := range evs {
		env, err := domain.NewEnvelope(m.id, m.state.Seq+1, now, ev)
		if err != nil {
			return envs, err
		}
		if err := e.deps.Events.Append(ctx, env); err != nil {
			return envs, fmt.Errorf("engine: append %s to %s: %w", ev.Kind(), m.id, err)
		}
		if err := m.state.apply(env, ev); err != nil {
			e.logger.ErrorContext(ctx, "engine: committed event failed to apply",
				slog.String("market_id", m.id),
				slog.Int64("seq", env.Seq),
				slog.String("kind", string(env.Kind)),
				slog.String("error", err.Error()),
			)
			return envs, err
		}
		envs = append(envs, env)
	}

	v := m.state.view(e.cfg, now)
	m.view.Store(v)
	e.snapshot(ctx, m, v)
	for _, env := range envs {
		e.announce(ctx, env)
	}
	e.cacheOdds(ctx, v)
	return envs, nil
}

func (e *Engine) snapshot(ctx context.Context, m *market, v *View) {
	if m.state.Seq%e.cfg.SnapshotEvery != 0 && !v.Market.Status.Final() {
		return
	}
	data, err := m.state.encode()
	if err == nil {
		err = e.deps.Snapshots.Save(ctx, m.id, m.state.Seq, data)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "engine: snapshot failed",
			slog.String("market_id", m.id),
			slog.String("error", err.Error()),
		)
	}
}

// announce publishes env on the bus and writes an audit row. Neither is
// allowed to fail the operation that produced the event.
func (e *Engine) announce(ctx context.Context, env domain.Envelope) {
	if e.deps.Bus != nil {
		payload, err := json.Marshal(env)
		if err == nil {
			for _, ch := range []string{domain.MarketChannel(env.MarketID), domain.ChannelMarkets} {
				if perr := e.deps.Bus.Publish(ctx, ch, payload); perr != nil {
					err = perr
				}
			}
			if serr := e.deps.Bus.StreamAppend(ctx, domain.StreamMarketEvents, payload); serr != nil {
				err = serr
			}
		}
		if err != nil {
			e.logger.WarnContext(ctx, "engine: publish failed",
				slog.String("market_id", env.MarketID),
				slog.String("kind", string(env.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.deps.Audit != nil {
		detail := map[string]any{"market_id": env.MarketID, "seq": env.Seq}
		if err := e.deps.Audit.Log(ctx, "engine."+string(env.Kind), detail); err != nil {
			e.logger.WarnContext(ctx, "engine: audit log failed",
				slog.String("market_id", env.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) cacheOdds(ctx context.Context, v *View) {
	if e.deps.Odds == nil {
		return
	}
	if err := e.deps.Odds.Set(ctx, v.OddsSnapshot()); err != nil {
		e.logger.WarnContext(ctx, "engine: odds cache set failed",
			slog.String("market_id", v.Market.ID),
			slog.String("error", err.Error()),
		)
	}
}

// register adds a freshly created market. It fails when the id is taken.
func (e *Engine) register(id string) (*market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.markets[id]; ok {
		return nil, fmt.Errorf("engine: market %s: %w", id, domain.ErrAlreadyExists)
	}
	m := &market{id: id, state: &marketState{}}
	e.markets[id] = m
	return m, nil
}

func (e *Engine) unregister(id string) {
	e.mu.Lock()
	delete(e.markets, id)
	e.mu.Unlock()
}

// Market returns the latest committed view of a market.
func (e *Engine) Market(id string) (*View, error) {
	m, err := e.loaded(id)
	if err != nil {
		return nil, err
	}
	v := m.view.Load()
	if v == nil {
		return nil, fmt.Errorf("engine: market %s: %w", id, domain.ErrNotFound)
	}
	return v, nil
}

// Markets returns the views of every market ordered by id.
func (e *Engine) Markets() []*View {
	e.mu.RLock()
	out := make([]*View, 0, len(e.markets))
	for _, m := range e.markets {
		if v := m.view.Load(); v != nil {
			out = append(out, v)
		}
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Market.ID < out[j].Market.ID })
	return out
}

// Odds returns the cached odds of a market, falling back to the live view
// and back-filling the cache on a miss.
func (e *Engine) Odds(ctx context.Context, id string) (domain.OddsSnapshot, error) {
	if e.deps.Odds != nil {
		if snap, err := e.deps.Odds.Get(ctx, id); err == nil {
			return snap, nil
		}
	}
	v, err := e.Market(id)
	if err != nil {
		return domain.OddsSnapshot{}, err
	}
	e.cacheOdds(ctx, v)
	return v.OddsSnapshot(), nil
}

// QuoteSwap prices a swap against the latest committed reserves.
func (e *Engine) QuoteSwap(id string, from, to int, amountIn ledger.Amount) (amm.Quote, error) {
	v, err := e.Market(id)
	if err != nil {
		return amm.Quote{}, err
	}
	return v.QuoteSwap(from, to, amountIn)
}

// CombinedOdds is the displayed multiplier of a multi-leg selection.
type CombinedOdds struct {
	MarketID  string         `json:"market_id"`
	Seq       int64          `json:"seq"`
	Selection []int          `json:"selection"`
	Type      domain.BetType `json:"type"`
	// MultiplierBps is nil while any leg has nothing staked.
	MultiplierBps *int64 `json:"multiplier_bps"`
	Display       string `json:"display"`
}

// CombinedOdds multiplies the current leg multipliers of selection, with
// the teaser factor for TEASER. It is a guide for viewers: a winning
// combination is paid from the pool by its settlement weight, not at this
// multiplier.
func (e *Engine) CombinedOdds(id string, selection []int, betType domain.BetType) (CombinedOdds, error) {
	v, err := e.Market(id)
	if err != nil {
		return CombinedOdds{}, err
	}
	if err := parimutuel.ValidateSelection(selection, betType, len(v.Odds)); err != nil {
		return CombinedOdds{}, err
	}
	out := CombinedOdds{MarketID: id, Seq: v.Seq, Selection: selection, Type: betType, Display: parimutuel.UndefinedOdds}
	if bps, ok := v.CombinedOddsBps(selection, betType, e.cfg.Parimutuel.Teasers); ok {
		out.MultiplierBps = &bps
		out.Display = parimutuel.FormatMultiplier(bps)
	}
	return out, nil
}

// Profile returns a bettor's psychic profile, or a fresh one.
func (e *Engine) Profile(ctx context.Context, address string) (domain.PsychicProfile, error) {
	p, err := e.deps.Profiles.Get(ctx, address)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewPsychicProfile(address), nil
	}
	return domain.PsychicProfile{}, fmt.Errorf("engine: profile %s: %w", address, err)
}

// Leaderboard returns the highest-scoring profiles.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]domain.PsychicProfile, error) {
	return e.deps.Profiles.Top(ctx, limit)
}

// Chapter is the story's current chapter.
func (e *Engine) Chapter() int {
	return int(e.chapter.Load())
}
