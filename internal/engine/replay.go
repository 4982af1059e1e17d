package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// Restore loads every market from its latest snapshot plus the events
// appended after it, and replays the chapter clock.
func (e *Engine) Restore(ctx context.Context) error {
	adopted, _, err := e.sync(ctx)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "engine: restored markets",
		slog.Int("markets", adopted),
		slog.Int("chapter", e.Chapter()),
	)
	return nil
}

// Sync brings the engine level with the shared event log: markets another
// process created are adopted, known markets and the chapter clock catch
// up. It returns how many markets were adopted and how many advanced.
func (e *Engine) Sync(ctx context.Context) (adopted, advanced int, err error) {
	return e.sync(ctx)
}

func (e *Engine) sync(ctx context.Context) (adopted, advanced int, err error) {
	streams, err := e.deps.Events.Streams(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("engine: list streams: %w", err)
	}
	for _, id := range streams {
		if id == StoryStream {
			if err := e.restoreStory(ctx); err != nil {
				return adopted, advanced, err
			}
			continue
		}
		m, err := e.loaded(id)
		if err != nil {
			if _, err := e.adopt(ctx, id); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				return adopted, advanced, err
			}
			adopted++
			continue
		}
		before := m.view.Load()
		if err := e.refresh(ctx, m); err != nil {
			return adopted, advanced, err
		}
		if after := m.view.Load(); after != before {
			advanced++
		}
	}
	return adopted, advanced, nil
}

// Follow keeps this engine's views current with events other processes
// publish on bus, until ctx is cancelled. Events this engine committed
// itself are already applied and skipped.
func (e *Engine) Follow(ctx context.Context, bus domain.EventBus) error {
	events, err := bus.Subscribe(ctx, domain.ChannelMarkets)
	if err != nil {
		return fmt.Errorf("engine: follow: %w", err)
	}
	return e.track(ctx, events)
}

// track applies the envelopes arriving on events.
func (e *Engine) track(ctx context.Context, events <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			var env struct {
				MarketID string `json:"market_id"`
				Seq      int64  `json:"seq"`
			}
			if json.Unmarshal(data, &env) != nil || env.MarketID == "" {
				continue
			}
			if err := e.follow(ctx, env.MarketID, env.Seq); err != nil {
				e.logger.WarnContext(ctx, "engine: follow failed",
					slog.String("market_id", env.MarketID),
					slog.Int64("seq", env.Seq),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (e *Engine) follow(ctx context.Context, id string, seq int64) error {
	if id == StoryStream {
		return e.restoreStory(ctx)
	}
	m, err := e.loaded(id)
	if err != nil {
		_, err = e.adopt(ctx, id)
		return err
	}
	if v := m.view.Load(); v != nil && v.Seq >= seq {
		return nil
	}
	return e.refresh(ctx, m)
}

// load rebuilds one market from its snapshot and log tail.
func (e *Engine) load(ctx context.Context, id string) (*marketState, error) {
	s := &marketState{}
	seq, data, err := e.deps.Snapshots.Latest(ctx, id)
	switch {
	case err == nil:
		if s, err = decodeState(data); err != nil {
			return nil, err
		}
		if s.Seq != seq {
			return nil, fmt.Errorf("engine: snapshot of %s claims seq %d, stored at %d", id, s.Seq, seq)
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, fmt.Errorf("engine: load snapshot %s: %w", id, err)
	}
	if err := e.replay(ctx, id, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) replay(ctx context.Context, id string, s *marketState) error {
	envs, err := e.deps.Events.Load(ctx, id, s.Seq)
	if err != nil {
		return fmt.Errorf("engine: load events %s: %w", id, err)
	}
	for _, env := range envs {
		ev, err := env.Decode()
		if err != nil {
			return err
		}
		if err := s.apply(env, ev); err != nil {
			return err
		}
	}
	return nil
}

// restoreStory applies chapter events after the last one seen.
func (e *Engine) restoreStory(ctx context.Context) error {
	e.story.mu.Lock()
	defer e.story.mu.Unlock()
	return e.catchUpStory(ctx)
}

// catchUpStory requires e.story.mu.
func (e *Engine) catchUpStory(ctx context.Context) error {
	envs, err := e.deps.Events.Load(ctx, StoryStream, e.story.seq)
	if err != nil {
		return fmt.Errorf("engine: load story: %w", err)
	}
	for _, env := range envs {
		ev, err := env.Decode()
		if err != nil {
			return err
		}
		if c, ok := ev.(domain.ChapterAdvanced); ok {
			e.chapter.Store(int64(c.Chapter))
		}
		e.story.seq = env.Seq
	}
	return nil
}

// AuditReport compares a market's live state with a replay of its log.
type AuditReport struct {
	MarketID string `json:"market_id"`
	Seq      int64  `json:"seq"`
	Events   int    `json:"events"`
	Match    bool   `json:"match"`
}

// Audit replays a market's whole log from the first event and checks the
// result is byte-identical to the live state.
func (e *Engine) Audit(ctx context.Context, id string) (AuditReport, error) {
	m, err := e.market(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}
	m.mu.Lock()
	live, err := m.state.encode()
	m.mu.Unlock()
	if err != nil {
		return AuditReport{}, err
	}

	replayed := &marketState{}
	if err := e.replay(ctx, id, replayed); err != nil {
		return AuditReport{}, err
	}
	fresh, err := replayed.encode()
	if err != nil {
		return AuditReport{}, err
	}
	report := AuditReport{MarketID: id, Seq: replayed.Seq, Events: int(replayed.Seq), Match: bytes.Equal(live, fresh)}
	if !report.Match {
		e.logger.ErrorContext(ctx, "engine: replay does not match live state",
			slog.String("market_id", id),
			slog.Int64("seq", replayed.Seq),
		)
	}
	return report, nil
}
