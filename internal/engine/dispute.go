package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/dispute"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// VoteResult is a recorded vote and, when it tipped the dispute, the
// resulting resolution.
type VoteResult struct {
	Vote       domain.Vote `json:"vote"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

func (e *Engine) disputed(ctx context.Context, id string) (*market, func(), error) {
	m, err := e.market(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return nil, nil, err
	}
	s := m.state
	if s.Market.Status != domain.MarketStatusDisputed || s.Dispute == nil {
		unlock()
		if s.Market.Status.Final() {
			return nil, nil, fmt.Errorf("engine: market %s is %s: %w", id, s.Market.Status, domain.ErrAlreadyResolved)
		}
		return nil, nil, fmt.Errorf("engine: market %s is %s: %w", id, s.Market.Status, domain.ErrNotDisputed)
	}
	return m, unlock, nil
}

// CastVote records a qualified voter's weighted vote. Once enough weight
// agrees the market resolves in the same commit.
func (e *Engine) CastVote(ctx context.Context, id, voter string, outcome int) (VoteResult, error) {
	if err := checkBettor(voter); err != nil {
		return VoteResult{}, err
	}
	profile, err := e.Profile(ctx, voter)
	if err != nil {
		return VoteResult{}, err
	}
	m, unlock, err := e.disputed(ctx, id)
	if err != nil {
		return VoteResult{}, err
	}
	defer unlock()

	s := m.state
	rules := e.cfg.Dispute
	vote, err := s.Dispute.CheckVote(profile, outcome, len(s.Market.Outcomes), e.now().UTC(), rules)
	if err != nil {
		return VoteResult{}, err
	}
	cast := domain.DisputeVoteCast{Vote: vote}

	after := *s.Dispute
	after.Votes = append(append([]domain.Vote(nil), s.Dispute.Votes...), vote)
	decided, ok := after.Decided(rules)
	if !ok {
		if _, err := e.commit(ctx, m, cast); err != nil {
			return VoteResult{}, err
		}
		e.logger.InfoContext(ctx, "engine: dispute vote cast",
			slog.String("market_id", id),
			slog.Int("outcome", outcome),
			slog.Int64("weight", vote.Weight),
		)
		return VoteResult{Vote: vote}, nil
	}

	res, err := e.finalize(ctx, m, voteVerdict(&after, decided), SourceDisputeVote, cast)
	if err != nil {
		return VoteResult{}, err
	}
	return VoteResult{Vote: vote, Resolution: &res}, nil
}

func voteVerdict(d *dispute.State, outcome int) domain.OracleVerdict {
	tally, total := d.Tally()
	var conf int64
	if total > 0 {
		conf, _ = ledger.MulDiv(tally[outcome], ledger.BpsDenominator, total)
	}
	return domain.OracleVerdict{
		Outcome:       outcome,
		ConfidenceBps: conf,
		Reasoning:     fmt.Sprintf("dispute vote: %d of %d weight", tally[outcome], total),
	}
}

// CloseDispute ends a dispute by operator decision. With a nil outcome the
// current vote decides if it can; otherwise the market is voided.
func (e *Engine) CloseDispute(ctx context.Context, id string, outcome *int) (Resolution, error) {
	m, unlock, err := e.disputed(ctx, id)
	if err != nil {
		return Resolution{}, err
	}
	defer unlock()

	s := m.state
	if outcome != nil {
		v := domain.OracleVerdict{Outcome: *outcome, ConfidenceBps: ledger.BpsDenominator, Reasoning: "closed by operator"}
		return e.finalize(ctx, m, v, SourceDisputeManual)
	}
	if decided, ok := s.Dispute.Decided(e.cfg.Dispute); ok {
		return e.finalize(ctx, m, voteVerdict(s.Dispute, decided), SourceDisputeManual)
	}

	st, err := e.refund(s)
	if err != nil {
		return Resolution{}, err
	}
	reason := "dispute closed without a decision"
	if _, err := e.commit(ctx, m, domain.MarketVoided{At: e.now().UTC(), Reason: reason, Settlement: st}); err != nil {
		return Resolution{}, err
	}
	e.logger.InfoContext(ctx, "engine: dispute closed",
		slog.String("market_id", id),
		slog.String("reason", reason),
	)
	return Resolution{MarketID: id, Status: domain.MarketStatusVoided, Settlement: &st, Reason: reason}, nil
}

// ExpiredDisputes lists disputed markets whose voting window has closed.
func (e *Engine) ExpiredDisputes(now time.Time) []*View {
	var out []*View
	for _, v := range e.Markets() {
		if v.Market.Status == domain.MarketStatusDisputed && v.Dispute != nil && !now.Before(v.Dispute.Deadline) {
			out = append(out, v)
		}
	}
	return out
}
