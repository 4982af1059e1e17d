package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/consensus"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/oracle"
	"github.com/alanyoungcy/narrativebet/internal/settlement"
	"github.com/alanyoungcy/narrativebet/internal/temporal"
)

// Resolution sources recorded on MarketResolved events.
const (
	SourceOracle        = "oracle"
	SourceOraclePull    = "oracle_pull"
	SourceDisputeVote   = "dispute_vote"
	SourceDisputeManual = "dispute_manual"
)

// Resolution is the outcome of a resolution attempt. A low-confidence or
// failed oracle answer is not an error: the market moves to DISPUTED.
type Resolution struct {
	MarketID        string                `json:"market_id"`
	Status          domain.MarketStatus   `json:"status"`
	Settlement      *domain.Settlement    `json:"settlement,omitempty"`
	Verdict         *domain.OracleVerdict `json:"verdict,omitempty"`
	Reason          string                `json:"reason,omitempty"`
	DisputeDeadline *time.Time            `json:"dispute_deadline,omitempty"`
}

// ResolveMarket settles a locked market on the oracle's word. extra lists
// outcomes that also occurred, for combinatorial bets.
func (e *Engine) ResolveMarket(ctx context.Context, id string, winning int, extra ...int) (domain.Settlement, error) {
	v := domain.OracleVerdict{Outcome: winning, Extra: extra, ConfidenceBps: ledger.BpsDenominator}
	res, err := e.SubmitVerdict(ctx, id, v, SourceOracle)
	if err != nil {
		return domain.Settlement{}, err
	}
	return *res.Settlement, nil
}

// SubmitVerdict applies an oracle verdict to a LOCKED or RESOLVING market.
// Verdicts below the confidence floor open a dispute instead.
func (e *Engine) SubmitVerdict(ctx context.Context, id string, v domain.OracleVerdict, source string) (Resolution, error) {
	m, err := e.market(ctx, id)
	if err != nil {
		return Resolution{}, err
	}
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return Resolution{}, err
	}
	defer unlock()
	if err := checkResolvable(m.state.Market); err != nil {
		return Resolution{}, err
	}
	return e.decide(ctx, m, &v, nil, source)
}

// ResolveWithOracle asks the oracle for a verdict. The market is moved to
// RESOLVING first, so bets and swaps stop, and the lock is released while
// the oracle runs. Oracle failures end in DISPUTED.
func (e *Engine) ResolveWithOracle(ctx context.Context, id string) (Resolution, error) {
	if e.deps.Oracle == nil {
		return Resolution{}, fmt.Errorf("engine: no oracle configured: %w", domain.ErrOracleUnavailable)
	}
	m, err := e.market(ctx, id)
	if err != nil {
		return Resolution{}, err
	}

	req, err := e.beginResolution(ctx, m, SourceOraclePull)
	if err != nil {
		return Resolution{}, err
	}

	octx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
	v, oerr := e.deps.Oracle.Resolve(octx, req)
	cancel()
	if oerr != nil {
		e.logger.WarnContext(ctx, "engine: oracle failed",
			slog.String("market_id", id),
			slog.String("error", oerr.Error()),
		)
	}

	unlock, err := e.lock(ctx, m)
	if err != nil {
		return Resolution{}, err
	}
	defer unlock()
	if st := m.state.Market.Status; st != domain.MarketStatusResolving {
		return Resolution{}, fmt.Errorf("engine: market %s became %s during oracle call: %w", id, st, domain.ErrAlreadyResolved)
	}
	if oerr != nil {
		return e.decide(ctx, m, nil, oerr, SourceOraclePull)
	}
	return e.decide(ctx, m, &v, nil, SourceOraclePull)
}

func (e *Engine) beginResolution(ctx context.Context, m *market, source string) (oracle.Request, error) {
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return oracle.Request{}, err
	}
	defer unlock()
	if err := checkResolvable(m.state.Market); err != nil {
		return oracle.Request{}, err
	}
	if m.state.Market.Status == domain.MarketStatusLocked {
		if _, err := e.commit(ctx, m, domain.ResolutionStarted{At: e.now().UTC(), Source: source}); err != nil {
			return oracle.Request{}, err
		}
	}
	return oracle.NewRequest(m.state.Market), nil
}

func checkResolvable(m domain.Market) error {
	switch m.Status {
	case domain.MarketStatusLocked, domain.MarketStatusResolving:
		return nil
	case domain.MarketStatusResolved, domain.MarketStatusVoided:
		return fmt.Errorf("engine: market %s is %s: %w", m.ID, m.Status, domain.ErrAlreadyResolved)
	case domain.MarketStatusDisputed:
		return fmt.Errorf("engine: market %s is disputed: %w", m.ID, domain.ErrInvalidTransition)
	default:
		return fmt.Errorf("engine: market %s is %s: %w", m.ID, m.Status, domain.ErrNotLocked)
	}
}

// decide turns a verdict, or an oracle error, into the final events. Caller
// holds m's lock and has checked the market is LOCKED or RESOLVING.
func (e *Engine) decide(ctx context.Context, m *market, v *domain.OracleVerdict, oerr error, source string) (Resolution, error) {
	s := m.state
	now := e.now().UTC()
	var evs []domain.Event
	if s.Market.Status == domain.MarketStatusLocked {
		evs = append(evs, domain.ResolutionStarted{At: now, Source: source})
	}

	var reason string
	switch {
	case oerr != nil:
		reason = oerr.Error()
	case v.ConfidenceBps < e.cfg.MinConfidenceBps:
		if _, err := winningSet(s.Market, *v); err != nil {
			return Resolution{}, err
		}
		reason = fmt.Sprintf("oracle confidence %d bps below %d", v.ConfidenceBps, e.cfg.MinConfidenceBps)
	}
	if reason != "" {
		deadline := now.Add(e.cfg.Dispute.Window)
		evs = append(evs, domain.MarketDisputed{At: now, Deadline: deadline, Verdict: v, Reason: reason})
		if _, err := e.commit(ctx, m, evs...); err != nil {
			return Resolution{}, err
		}
		e.logger.WarnContext(ctx, "engine: market disputed",
			slog.String("market_id", m.id),
			slog.String("reason", reason),
			slog.Time("deadline", deadline),
		)
		return Resolution{MarketID: m.id, Status: domain.MarketStatusDisputed, Verdict: v, Reason: reason, DisputeDeadline: &deadline}, nil
	}

	return e.finalize(ctx, m, *v, source, evs...)
}

// finalize settles every layer of m against v and commits the result after
// any prefix events. Caller holds m's lock.
func (e *Engine) finalize(ctx context.Context, m *market, v domain.OracleVerdict, source string, prefix ...domain.Event) (Resolution, error) {
	s := m.state
	winning, err := winningSet(s.Market, v)
	if err != nil {
		return Resolution{}, err
	}
	st, err := e.settle(s, winning)
	if err != nil {
		return Resolution{}, err
	}

	now := e.now().UTC()
	var final domain.Event = domain.MarketResolved{At: now, Settlement: st, Verdict: &v, Source: source}
	status := domain.MarketStatusResolved
	reason := ""
	if st.Voided {
		reason = "no winning bets"
		final = domain.MarketVoided{At: now, Reason: reason, Settlement: st}
		status = domain.MarketStatusVoided
	}
	if _, err := e.commit(ctx, m, append(prefix, final)...); err != nil {
		return Resolution{}, err
	}
	e.applyProfiles(ctx, st.Consensus)
	e.logger.InfoContext(ctx, "engine: market settled",
		slog.String("market_id", m.id),
		slog.String("status", string(status)),
		slog.String("source", source),
		slog.Any("winning", st.WinningSet),
		slog.String("pool", st.TotalPool.String()),
		slog.String("dust", st.Dust.String()),
		slog.String("subsidy", st.Subsidy.String()),
	)
	return Resolution{MarketID: m.id, Status: status, Settlement: &st, Verdict: &v, Reason: reason}, nil
}

// winningSet validates v against the market and returns the sorted,
// de-duplicated winning outcomes.
func winningSet(m domain.Market, v domain.OracleVerdict) ([]int, error) {
	if m.Kind == domain.MarketKindTemporal {
		if err := temporal.CheckVerdict(v, 0); err != nil {
			return nil, err
		}
		if len(v.Extra) > 0 {
			return nil, fmt.Errorf("engine: temporal market %s takes one outcome: %w", m.ID, domain.ErrInvalidSelection)
		}
		return []int{v.Outcome}, nil
	}
	seen := map[int]bool{}
	var out []int
	for _, o := range append([]int{v.Outcome}, v.Extra...) {
		if o < 0 || o >= len(m.Outcomes) {
			return nil, fmt.Errorf("engine: outcome %d of %d: %w", o, len(m.Outcomes), domain.ErrInvalidSelection)
		}
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	sort.Ints(out)
	return out, nil
}

// settle computes the settlement of every layer of s.
func (e *Engine) settle(s *marketState, winning []int) (domain.Settlement, error) {
	var (
		st  domain.Settlement
		err error
	)
	if s.Market.Kind == domain.MarketKindTemporal {
		st, err = temporal.Settle(s.Market.ID, s.Pool, winning[0], s.Market.Fees)
	} else {
		st, err = settlement.Parimutuel(s.Market.ID, s.Pool, winning, s.Market.Fees, e.cfg.Parimutuel)
	}
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("engine: settle %s: %w", s.Market.ID, err)
	}
	if s.Exchange != nil {
		xs, err := s.Exchange.Settle(winning, st.Voided)
		if err != nil {
			return domain.Settlement{}, fmt.Errorf("engine: settle exchange %s: %w", s.Market.ID, err)
		}
		if !xs.Conserved() {
			return domain.Settlement{}, fmt.Errorf("engine: exchange of %s does not conserve its collateral", s.Market.ID)
		}
		st.Exchange = &xs
	}
	if s.Consensus != nil {
		cs, err := consensusSettle(s, winning, st.Voided, e.cfg)
		if err != nil {
			return domain.Settlement{}, err
		}
		st.Consensus = &cs
	}
	return st, nil
}

func consensusSettle(s *marketState, winning []int, parentVoided bool, cfg Config) (domain.ConsensusSettlement, error) {
	cs, err := consensus.Settle(s.Consensus, winning, parentVoided, s.Market.Fees, cfg.Consensus)
	if err != nil {
		return domain.ConsensusSettlement{}, fmt.Errorf("engine: settle consensus %s: %w", s.Market.ID, err)
	}
	return cs, nil
}

// applyProfiles folds consensus score deltas into the profile store. It
// runs after the settlement is committed; a failure is logged, not returned.
func (e *Engine) applyProfiles(ctx context.Context, cs *domain.ConsensusSettlement) {
	if cs == nil || len(cs.Profiles) == 0 {
		return
	}
	now := e.now().UTC()
	for _, d := range cs.Profiles {
		p, err := e.Profile(ctx, d.Address)
		if err == nil {
			p = consensus.ApplyDelta(p, d)
			p.UpdatedAt = now
			err = e.deps.Profiles.Upsert(ctx, p)
		}
		if err != nil {
			e.logger.WarnContext(ctx, "engine: profile update failed",
				slog.String("address", d.Address),
				slog.String("error", err.Error()),
			)
		}
	}
}

// IsOracleError reports whether err should move a market to DISPUTED
// rather than fail the caller.
func IsOracleError(err error) bool {
	return errors.Is(err, domain.ErrOracleUnavailable) || errors.Is(err, domain.ErrOracleLowConfidence)
}
