// Package resolver runs the background settlement chores: locking markets
// whose deadline passed, pulling oracle verdicts for locked markets, closing
// expired disputes, and archiving settled markets to cold storage.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/engine"
	"github.com/alanyoungcy/narrativebet/internal/notify"
)

// Config controls which chores run and how often.
type Config struct {
	Interval time.Duration
	// AutoLock locks OPEN markets once their deadline has passed.
	AutoLock bool
	// OraclePull asks the oracle to resolve every LOCKED market. Temporal
	// markets are always pulled once their resolve chapter locks them.
	OraclePull bool
	// CloseExpired ends disputes whose window has run out: the decided
	// outcome wins, otherwise the market is voided.
	CloseExpired bool
	// ArchiveAfter is how long a settled market stays hot before it is
	// archived. Zero disables archival.
	ArchiveAfter time.Duration
	// Workers bounds concurrent oracle calls and uploads per tick.
	Workers int
}

// DefaultConfig ticks every 15s with every chore but archival enabled.
func DefaultConfig() Config {
	return Config{
		Interval:     15 * time.Second,
		AutoLock:     true,
		OraclePull:   true,
		CloseExpired: true,
		Workers:      4,
	}
}

// Report counts what one tick did.
type Report struct {
	Locked   []string `json:"locked"`
	Resolved []string `json:"resolved"`
	Disputed []string `json:"disputed"`
	Closed   []string `json:"closed"`
	Archived []string `json:"archived"`
	Failed   int      `json:"failed"`
}

// Resolver drives markets forward on a ticker.
type Resolver struct {
	eng      *engine.Engine
	archiver domain.Archiver
	notifier *notify.Notifier
	bus      domain.EventBus
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	archived map[string]bool
	warned   map[string]bool
}

// New creates a Resolver. archiver, notifier and bus may be nil.
func New(eng *engine.Engine, archiver domain.Archiver, notifier *notify.Notifier, bus domain.EventBus, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Resolver{
		eng:      eng,
		archiver: archiver,
		notifier: notifier,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "resolver")),
		now:      time.Now,
		archived: map[string]bool{},
		warned:   map[string]bool{},
	}
}

// WithClock overrides the time source.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Run ticks until ctx is cancelled. When a notifier and bus are configured
// the notifier also watches the market event stream.
func (r *Resolver) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "resolver: starting",
		slog.Duration("interval", r.cfg.Interval),
		slog.Bool("auto_lock", r.cfg.AutoLock),
		slog.Bool("oracle_pull", r.cfg.OraclePull),
		slog.Duration("archive_after", r.cfg.ArchiveAfter),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			r.Tick(ctx)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	if r.notifier.Enabled() && r.bus != nil {
		g.Go(func() error {
			return r.notifier.Watch(ctx, r.bus)
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.ErrorContext(ctx, "resolver: stopped with error", slog.String("error", err.Error()))
		return err
	}
	r.logger.Info("resolver: stopped cleanly")
	return nil
}

// Tick catches the engine up with the shared event log, then runs every
// enabled chore once over its markets.
func (r *Resolver) Tick(ctx context.Context) Report {
	var rep Report
	now := r.now().UTC()

	// Markets created or settled by a server process sharing the store.
	if adopted, advanced, err := r.eng.Sync(ctx); err != nil {
		r.logger.WarnContext(ctx, "resolver: sync with event log failed", slog.String("error", err.Error()))
	} else if adopted > 0 || advanced > 0 {
		r.logger.DebugContext(ctx, "resolver: synced with event log",
			slog.Int("adopted", adopted),
			slog.Int("advanced", advanced),
		)
	}

	if r.cfg.AutoLock {
		r.lockDue(ctx, now, &rep)
	}
	r.resolveLocked(ctx, &rep)
	r.expireDisputes(ctx, now, &rep)
	if r.cfg.ArchiveAfter > 0 && r.archiver != nil {
		r.archive(ctx, now, &rep)
	}

	if n := len(rep.Locked) + len(rep.Resolved) + len(rep.Disputed) + len(rep.Closed) + len(rep.Archived); n > 0 || rep.Failed > 0 {
		r.logger.InfoContext(ctx, "resolver: tick",
			slog.Int("locked", len(rep.Locked)),
			slog.Int("resolved", len(rep.Resolved)),
			slog.Int("disputed", len(rep.Disputed)),
			slog.Int("closed", len(rep.Closed)),
			slog.Int("archived", len(rep.Archived)),
			slog.Int("failed", rep.Failed),
		)
	}
	return rep
}

func (r *Resolver) lockDue(ctx context.Context, now time.Time, rep *Report) {
	for _, v := range r.eng.Markets() {
		m := v.Market
		if m.Status != domain.MarketStatusOpen || m.DeadlineAt.IsZero() || now.Before(m.DeadlineAt) {
			continue
		}
		if _, err := r.eng.LockMarket(ctx, m.ID); err != nil {
			r.fail(ctx, rep, "lock", m.ID, err)
			continue
		}
		rep.Locked = append(rep.Locked, m.ID)
	}
}

func (r *Resolver) resolveLocked(ctx context.Context, rep *Report) {
	var due []string
	for _, v := range r.eng.Markets() {
		m := v.Market
		switch m.Status {
		case domain.MarketStatusLocked:
			if m.Kind == domain.MarketKindTemporal || r.cfg.OraclePull {
				due = append(due, m.ID)
			}
		case domain.MarketStatusResolving:
			// A previous process died mid-call; ask again.
			due = append(due, m.ID)
		}
	}
	if len(due) == 0 {
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, id := range due {
		g.Go(func() error {
			res, err := r.eng.ResolveWithOracle(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if engine.IsOracleError(err) {
					r.notify(ctx, notify.EventOracleFailed, "Oracle unavailable", fmt.Sprintf("Market %s: %v", id, err))
				}
				r.fail(ctx, rep, "resolve", id, err)
				return nil
			}
			switch res.Status {
			case domain.MarketStatusDisputed:
				rep.Disputed = append(rep.Disputed, id)
				if res.Verdict == nil {
					r.notify(ctx, notify.EventOracleFailed, "Oracle failed",
						fmt.Sprintf("Market %s moved to DISPUTED: %s", id, res.Reason))
				}
			default:
				rep.Resolved = append(rep.Resolved, id)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Resolver) expireDisputes(ctx context.Context, now time.Time, rep *Report) {
	for _, v := range r.eng.ExpiredDisputes(now) {
		id := v.Market.ID
		if !r.cfg.CloseExpired {
			if r.once(r.warned, id) {
				r.notify(ctx, notify.EventDisputeExpired, "Dispute window closed",
					fmt.Sprintf("Market %s needs an operator decision", id))
			}
			continue
		}
		res, err := r.eng.CloseDispute(ctx, id, nil)
		if err != nil {
			r.fail(ctx, rep, "close dispute", id, err)
			continue
		}
		rep.Closed = append(rep.Closed, id)
		r.notify(ctx, notify.EventDisputeExpired, "Dispute window closed",
			fmt.Sprintf("Market %s closed as %s", id, res.Status))
	}
}

func (r *Resolver) archive(ctx context.Context, now time.Time, rep *Report) {
	var due []string
	for _, v := range r.eng.Markets() {
		m := v.Market
		if !m.Status.Final() || m.ResolvedAt == nil || now.Sub(*m.ResolvedAt) < r.cfg.ArchiveAfter {
			continue
		}
		r.mu.Lock()
		done := r.archived[m.ID]
		r.mu.Unlock()
		if !done {
			due = append(due, m.ID)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, id := range due {
		g.Go(func() error {
			ok, err := r.archiver.Archived(gctx, id)
			if err == nil && !ok {
				_, err = r.archiver.ArchiveMarket(gctx, id)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.fail(ctx, rep, "archive", id, err)
				r.notify(ctx, notify.EventArchiveFailed, "Archive failed", fmt.Sprintf("Market %s: %v", id, err))
				return nil
			}
			r.once(r.archived, id)
			if !ok {
				rep.Archived = append(rep.Archived, id)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// once marks id in set and reports whether it was new.
func (r *Resolver) once(set map[string]bool, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set[id] {
		return false
	}
	set[id] = true
	return true
}

func (r *Resolver) fail(ctx context.Context, rep *Report, op, id string, err error) {
	// Another actor got there first; not worth a warning.
	if errors.Is(err, domain.ErrAlreadyResolved) || errors.Is(err, domain.ErrInvalidTransition) {
		r.logger.DebugContext(ctx, "resolver: skipped "+op,
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	rep.Failed++
	r.logger.WarnContext(ctx, "resolver: "+op+" failed",
		slog.String("market_id", id),
		slog.String("error", err.Error()),
	)
}

func (r *Resolver) notify(ctx context.Context, event, title, msg string) {
	if err := r.notifier.Notify(ctx, event, title, msg); err != nil {
		r.logger.WarnContext(ctx, "resolver: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
