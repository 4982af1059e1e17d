package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

func claimKey(marketID, bettor string, layer domain.ClaimLayer) string {
	return marketID + ":" + bettor + ":" + string(layer)
}

// Claim pays bettor's frozen payout on layer exactly once. The claim guard
// turns away most duplicates before they queue on the market lock, but the
// Claimed event in the log is what decides: a flag left behind by a process
// that died before appending does not block the payout.
func (e *Engine) Claim(ctx context.Context, marketID, bettor string, layer domain.ClaimLayer) (domain.Claimed, error) {
	if layer == "" {
		layer = domain.ClaimLayerMarket
	}
	m, err := e.market(ctx, marketID)
	if err != nil {
		return domain.Claimed{}, err
	}
	if err := e.refresh(ctx, m); err != nil {
		return domain.Claimed{}, err
	}
	v := m.view.Load()
	if v == nil {
		return domain.Claimed{}, fmt.Errorf("engine: market %s: %w", marketID, domain.ErrNotFound)
	}
	if _, err := v.Claimable(bettor, layer); err != nil {
		return domain.Claimed{}, err
	}

	key := claimKey(marketID, bettor, layer)
	won, err := e.deps.Claims.TryClaim(ctx, key)
	if err != nil {
		return domain.Claimed{}, fmt.Errorf("engine: claim guard: %w", err)
	}

	claim, err := e.recordClaim(ctx, m, bettor, layer)
	if err != nil {
		if won && !errors.Is(err, domain.ErrAlreadyClaimed) {
			if rerr := e.deps.Claims.Release(ctx, key); rerr != nil {
				e.logger.ErrorContext(ctx, "engine: claim guard release failed",
					slog.String("key", key),
					slog.String("error", rerr.Error()),
				)
			}
		}
		return domain.Claimed{}, err
	}
	if !won {
		e.logger.WarnContext(ctx, "engine: claim flag was set but the log had no payout",
			slog.String("key", key),
		)
	}
	e.logger.InfoContext(ctx, "engine: payout claimed",
		slog.String("market_id", marketID),
		slog.String("bettor", bettor),
		slog.String("layer", string(layer)),
		slog.String("amount", claim.Amount.String()),
	)
	return claim, nil
}

// recordClaim appends the claim under the market lock. The amount is read
// from the caught-up state, which already holds every Claimed event.
func (e *Engine) recordClaim(ctx context.Context, m *market, bettor string, layer domain.ClaimLayer) (domain.Claimed, error) {
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return domain.Claimed{}, err
	}
	defer unlock()
	if !m.state.Market.Status.Final() {
		return domain.Claimed{}, fmt.Errorf("engine: market %s is %s: %w", m.id, m.state.Market.Status, domain.ErrNotResolved)
	}
	amount, err := m.state.Claims[layer].Claimable(bettor)
	if err != nil {
		return domain.Claimed{}, fmt.Errorf("engine: claim on %s: %w", m.id, err)
	}
	c := domain.Claimed{Bettor: bettor, Layer: layer, Amount: amount, At: e.now().UTC()}
	if _, err := e.commit(ctx, m, c); err != nil {
		return domain.Claimed{}, err
	}
	return c, nil
}

// ClaimResult is one entry of a batch claim.
type ClaimResult struct {
	Bettor string         `json:"bettor"`
	Claim  domain.Claimed `json:"claim"`
	Error  string         `json:"error,omitempty"`
}

// ClaimMany claims for several bettors in parallel. Each result carries its
// own error; the batch only fails when ctx is cancelled.
func (e *Engine) ClaimMany(ctx context.Context, marketID string, bettors []string, layer domain.ClaimLayer) ([]ClaimResult, error) {
	results := make([]ClaimResult, len(bettors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ClaimWorkers)
	for i, b := range bettors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := e.Claim(gctx, marketID, b, layer)
			results[i] = ClaimResult{Bettor: b, Claim: c}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
