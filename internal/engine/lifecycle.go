package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/settlement"
	"github.com/alanyoungcy/narrativebet/internal/temporal"
)

// MarketSpec is an operator's definition of a parimutuel or consensus
// market. Zero limits and a nil fee schedule take the engine defaults.
type MarketSpec struct {
	ID         string
	Kind       domain.MarketKind
	Question   string
	Outcomes   []string
	DeadlineAt time.Time
	MinBet     ledger.Amount
	MaxBet     ledger.Amount
	Fees       *ledger.FeeSchedule
	AMMFeeBps  int64
}

// TemporalSpec defines a yes/no market on a future chapter.
type TemporalSpec struct {
	ID             string
	Question       string
	OpenChapter    int
	ResolveChapter int
	Criteria       string
	ResolutionType string
	DeadlineAt     time.Time
	MinBet         ledger.Amount
	MaxBet         ledger.Amount
}

func (e *Engine) header(id string, kind domain.MarketKind, question string, outcomes []string, minBet, maxBet ledger.Amount, fees *ledger.FeeSchedule) (domain.Market, error) {
	if strings.TrimSpace(question) == "" {
		return domain.Market{}, fmt.Errorf("engine: empty question: %w", domain.ErrInvalidMarket)
	}
	if len(outcomes) < 2 {
		return domain.Market{}, fmt.Errorf("engine: %d outcomes: %w", len(outcomes), domain.ErrInvalidMarket)
	}
	seen := map[string]bool{}
	for _, o := range outcomes {
		label := strings.TrimSpace(o)
		if label == "" || seen[label] {
			return domain.Market{}, fmt.Errorf("engine: outcome label %q: %w", o, domain.ErrInvalidMarket)
		}
		seen[label] = true
	}
	if minBet == 0 {
		minBet = e.cfg.MinBet
	}
	if maxBet == 0 {
		maxBet = e.cfg.MaxBet
	}
	if minBet < 0 || maxBet < 0 || (maxBet > 0 && minBet > maxBet) {
		return domain.Market{}, fmt.Errorf("engine: bet limits %s..%s: %w", minBet, maxBet, domain.ErrInvalidMarket)
	}
	schedule := e.cfg.Fees
	if fees != nil {
		schedule = *fees
	}
	if err := schedule.Validate(); err != nil {
		return domain.Market{}, fmt.Errorf("engine: %v: %w", err, domain.ErrInvalidMarket)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return domain.Market{
		ID:        id,
		Kind:      kind,
		Question:  question,
		Outcomes:  append([]string(nil), outcomes...),
		Status:    domain.MarketStatusPending,
		CreatedAt: e.now().UTC(),
		MinBet:    minBet,
		MaxBet:    maxBet,
		Fees:      schedule,
	}, nil
}

// CreateMarket registers a PENDING parimutuel or consensus market.
func (e *Engine) CreateMarket(ctx context.Context, spec MarketSpec) (domain.Market, error) {
	if spec.Kind == "" {
		spec.Kind = domain.MarketKindParimutuel
	}
	if spec.Kind != domain.MarketKindParimutuel && spec.Kind != domain.MarketKindConsensus {
		return domain.Market{}, fmt.Errorf("engine: kind %q: %w", spec.Kind, domain.ErrInvalidMarket)
	}
	m, err := e.header(spec.ID, spec.Kind, spec.Question, spec.Outcomes, spec.MinBet, spec.MaxBet, spec.Fees)
	if err != nil {
		return domain.Market{}, err
	}
	if spec.AMMFeeBps < 0 || spec.AMMFeeBps >= ledger.BpsDenominator {
		return domain.Market{}, fmt.Errorf("engine: amm fee %d bps: %w", spec.AMMFeeBps, domain.ErrInvalidMarket)
	}
	m.AMMFeeBps = spec.AMMFeeBps
	if m.AMMFeeBps == 0 {
		m.AMMFeeBps = e.cfg.AMMFeeBps
	}
	m.DeadlineAt = spec.DeadlineAt.UTC()
	if err := e.create(ctx, m, domain.MarketCreated{Market: m}); err != nil {
		return domain.Market{}, err
	}
	e.logger.InfoContext(ctx, "engine: market created",
		slog.String("market_id", m.ID),
		slog.String("kind", string(m.Kind)),
		slog.Int("outcomes", len(m.Outcomes)),
	)
	return m, nil
}

// CreateTemporalMarket registers a PENDING yes/no market that opens at
// OpenChapter and locks at ResolveChapter.
func (e *Engine) CreateTemporalMarket(ctx context.Context, spec TemporalSpec) (domain.Market, error) {
	if err := temporal.ValidateHorizon(spec.OpenChapter, spec.ResolveChapter); err != nil {
		return domain.Market{}, err
	}
	m, err := e.header(spec.ID, domain.MarketKindTemporal, spec.Question, temporal.Labels, spec.MinBet, spec.MaxBet, nil)
	if err != nil {
		return domain.Market{}, err
	}
	m.OpenChapter = spec.OpenChapter
	m.ResolveChapter = spec.ResolveChapter
	m.Criteria = spec.Criteria
	m.OracleResolutionType = spec.ResolutionType
	m.DeadlineAt = spec.DeadlineAt.UTC()
	ev := domain.TemporalMarketCreated{Market: m, MultiplierBps: temporal.MultiplierBps(m.Horizon())}
	if err := e.create(ctx, m, ev); err != nil {
		return domain.Market{}, err
	}
	e.logger.InfoContext(ctx, "engine: temporal market created",
		slog.String("market_id", m.ID),
		slog.Int("horizon", m.Horizon()),
		slog.Int64("multiplier_bps", ev.MultiplierBps),
	)
	return m, nil
}

func (e *Engine) create(ctx context.Context, m domain.Market, ev domain.Event) error {
	mk, err := e.register(m.ID)
	if err != nil {
		return err
	}
	unlock, err := e.lock(ctx, mk)
	if err != nil {
		e.unregister(m.ID)
		return err
	}
	defer unlock()
	if mk.state.Seq > 0 {
		// Another process created it first; lock adopted its log.
		return fmt.Errorf("engine: market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	if _, err := e.commit(ctx, mk, ev); err != nil {
		if mk.state.Seq == 0 {
			e.unregister(m.ID)
		}
		return err
	}
	return nil
}

// OpenMarket moves a PENDING market to OPEN.
func (e *Engine) OpenMarket(ctx context.Context, id string) (*View, error) {
	return e.transition(ctx, id, domain.MarketStatusOpen, func(s *marketState) domain.Event {
		return domain.MarketOpened{At: e.now().UTC()}
	})
}

// LockMarket moves an OPEN market to LOCKED and records the crowd
// favourite for the consensus layer.
func (e *Engine) LockMarket(ctx context.Context, id string) (*View, error) {
	return e.transition(ctx, id, domain.MarketStatusLocked, func(s *marketState) domain.Event {
		return domain.MarketLocked{At: e.now().UTC(), CrowdOutcome: s.Pool.CrowdOutcome()}
	})
}

func (e *Engine) transition(ctx context.Context, id string, next domain.MarketStatus, build func(*marketState) domain.Event) (*View, error) {
	m, err := e.market(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := checkTransition(m.state.Market, next); err != nil {
		return nil, err
	}
	if _, err := e.commit(ctx, m, build(m.state)); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "engine: market status changed",
		slog.String("market_id", id),
		slog.String("status", string(next)),
	)
	return m.view.Load(), nil
}

func checkTransition(m domain.Market, next domain.MarketStatus) error {
	if m.Status.CanTransition(next) {
		return nil
	}
	if m.Status.Final() {
		return fmt.Errorf("engine: market %s is %s: %w", m.ID, m.Status, domain.ErrAlreadyResolved)
	}
	return fmt.Errorf("engine: market %s: %s -> %s: %w", m.ID, m.Status, next, domain.ErrInvalidTransition)
}

// VoidMarket cancels a market that has not settled and refunds every stake
// on every layer.
func (e *Engine) VoidMarket(ctx context.Context, id, reason string) (domain.Settlement, error) {
	m, err := e.market(ctx, id)
	if err != nil {
		return domain.Settlement{}, err
	}
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return domain.Settlement{}, err
	}
	defer unlock()
	if err := checkTransition(m.state.Market, domain.MarketStatusVoided); err != nil {
		return domain.Settlement{}, err
	}
	st, err := e.refund(m.state)
	if err != nil {
		return domain.Settlement{}, err
	}
	if reason == "" {
		reason = "voided by operator"
	}
	if _, err := e.commit(ctx, m, domain.MarketVoided{At: e.now().UTC(), Reason: reason, Settlement: st}); err != nil {
		return domain.Settlement{}, err
	}
	e.logger.InfoContext(ctx, "engine: market voided",
		slog.String("market_id", id),
		slog.String("reason", reason),
		slog.String("refunded", st.TotalPool.String()),
	)
	return st, nil
}

// refund builds the all-layers refund settlement of s.
func (e *Engine) refund(s *marketState) (domain.Settlement, error) {
	st := settlement.Refund(s.Market.ID, s.Pool)
	if s.Exchange != nil {
		xs, err := s.Exchange.Settle(nil, true)
		if err != nil {
			return domain.Settlement{}, err
		}
		st.Exchange = &xs
	}
	if s.Consensus != nil {
		cs, err := consensusSettle(s, nil, true, e.cfg)
		if err != nil {
			return domain.Settlement{}, err
		}
		st.Consensus = &cs
	}
	return st, nil
}

// AdvanceChapter moves the story clock forward. Temporal markets whose
// open chapter has arrived are opened, and those whose resolve chapter has
// arrived are locked for the resolver. It returns the ids of every market
// it moved.
func (e *Engine) AdvanceChapter(ctx context.Context, chapter int) ([]string, error) {
	e.story.mu.Lock()
	if err := e.catchUpStory(ctx); err != nil {
		e.story.mu.Unlock()
		return nil, err
	}
	current := e.Chapter()
	if chapter <= current {
		e.story.mu.Unlock()
		return nil, fmt.Errorf("engine: chapter %d not after %d: %w", chapter, current, domain.ErrInvalidHorizon)
	}
	env, err := domain.NewEnvelope(StoryStream, e.story.seq+1, e.now().UTC(), domain.ChapterAdvanced{Chapter: chapter})
	if err == nil {
		err = e.deps.Events.Append(ctx, env)
	}
	if err != nil {
		e.story.mu.Unlock()
		return nil, fmt.Errorf("engine: advance chapter: %w", err)
	}
	e.story.seq = env.Seq
	e.chapter.Store(int64(chapter))
	e.story.mu.Unlock()
	e.announce(ctx, env)

	var moved []string
	for _, v := range e.Markets() {
		m := v.Market
		if m.Kind != domain.MarketKindTemporal {
			continue
		}
		var err error
		switch {
		case m.Status == domain.MarketStatusPending && chapter >= m.OpenChapter:
			_, err = e.OpenMarket(ctx, m.ID)
			if err == nil && chapter >= m.ResolveChapter {
				_, err = e.LockMarket(ctx, m.ID)
			}
		case m.Status == domain.MarketStatusOpen && chapter >= m.ResolveChapter:
			_, err = e.LockMarket(ctx, m.ID)
		default:
			continue
		}
		if err != nil {
			e.logger.WarnContext(ctx, "engine: chapter transition failed",
				slog.String("market_id", m.ID),
				slog.Int("chapter", chapter),
				slog.String("error", err.Error()),
			)
			continue
		}
		moved = append(moved, m.ID)
	}
	e.logger.InfoContext(ctx, "engine: chapter advanced",
		slog.Int("chapter", chapter),
		slog.Int("markets_moved", len(moved)),
	)
	return moved, nil
}
