package engine

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/narrativebet/internal/amm"
	"github.com/alanyoungcy/narrativebet/internal/consensus"
	"github.com/alanyoungcy/narrativebet/internal/dispute"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/parimutuel"
	"github.com/alanyoungcy/narrativebet/internal/settlement"
)

// marketState is the materialised state of one market. It only changes
// through apply, so replaying a market's log rebuilds it exactly and the
// JSON form doubles as the snapshot.
type marketState struct {
	Seq        int64                                    `json:"seq"`
	Market     domain.Market                            `json:"market"`
	Pool       *parimutuel.Pool                         `json:"pool"`
	Exchange   *amm.Exchange                            `json:"exchange,omitempty"`
	Consensus  *consensus.Pool                          `json:"consensus,omitempty"`
	Dispute    *dispute.State                           `json:"dispute,omitempty"`
	Settlement *domain.Settlement                       `json:"settlement,omitempty"`
	Claims     map[domain.ClaimLayer]*settlement.Ledger `json:"claims,omitempty"`
}

func decodeState(data []byte) (*marketState, error) {
	var s marketState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("engine: decode snapshot: %w", err)
	}
	return &s, nil
}

func (s *marketState) encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("engine: encode snapshot: %w", err)
	}
	return data, nil
}

// apply advances the state by one event. Operations validate before they
// commit, so an error here means the log and the state disagree.
func (s *marketState) apply(env domain.Envelope, ev domain.Event) error {
	if env.Seq != s.Seq+1 {
		return fmt.Errorf("engine: market %s: event seq %d after %d: %w", env.MarketID, env.Seq, s.Seq, domain.ErrSeqConflict)
	}
	if s.Pool == nil {
		switch ev.(type) {
		case domain.MarketCreated, domain.TemporalMarketCreated:
		default:
			return fmt.Errorf("engine: market %s: %s before creation: %w", env.MarketID, ev.Kind(), domain.ErrInvalidTransition)
		}
	}

	switch ev := ev.(type) {
	case domain.MarketCreated:
		s.init(ev.Market)
	case domain.TemporalMarketCreated:
		s.init(ev.Market)
	case domain.MarketOpened:
		if err := s.transition(domain.MarketStatusOpen); err != nil {
			return err
		}
		at := ev.At
		s.Market.OpenedAt = &at
	case domain.MarketLocked:
		if err := s.transition(domain.MarketStatusLocked); err != nil {
			return err
		}
		at := ev.At
		s.Market.LockedAt = &at
		if s.Consensus != nil {
			s.Consensus.CrowdOutcome = ev.CrowdOutcome
		}
	case domain.BetPlaced:
		s.Pool.Apply(ev.Bet)
	case domain.TemporalBetPlaced:
		s.Pool.Apply(ev.Bet)
	case domain.BetCancelled:
		s.Pool.Cancel(ev.BetID)
	case domain.PositionMinted:
		if s.Exchange == nil {
			return errNoExchange(env.MarketID)
		}
		s.Exchange.ApplyMint(ev.Holder, ev.Outcome, ev.Amount)
	case domain.Swapped:
		if s.Exchange == nil {
			return errNoExchange(env.MarketID)
		}
		s.Exchange.ApplySwap(ev.Holder, amm.Quote{From: ev.From, To: ev.To, AmountIn: ev.AmountIn, AmountOut: ev.AmountOut, Fee: ev.Fee})
	case domain.LiquidityAdded:
		if s.Exchange == nil {
			return errNoExchange(env.MarketID)
		}
		s.Exchange.ApplyAdd(ev.Holder, ev.Outcome, amm.LiquidityQuote{Amount: ev.Amount, Shares: ev.Shares})
	case domain.LiquidityRemoved:
		if s.Exchange == nil {
			return errNoExchange(env.MarketID)
		}
		s.Exchange.ApplyRemove(ev.Holder, ev.Outcome, amm.LiquidityQuote{Amount: ev.Amount, Shares: ev.Shares})
	case domain.ConsensusBetPlaced:
		if s.Consensus == nil {
			return fmt.Errorf("engine: market %s has no consensus layer: %w", env.MarketID, domain.ErrInvalidMarket)
		}
		s.Consensus.Apply(ev.Stake)
	case domain.ResolutionStarted:
		if err := s.transition(domain.MarketStatusResolving); err != nil {
			return err
		}
	case domain.MarketResolved:
		if err := s.transition(domain.MarketStatusResolved); err != nil {
			return err
		}
		at := ev.At
		s.Market.ResolvedAt = &at
		s.Market.WinningSet = ev.Settlement.WinningSet
		if ev.Verdict != nil {
			w := ev.Verdict.Outcome
			s.Market.WinningOutcome = &w
		}
		s.freeze(ev.Settlement)
	case domain.MarketVoided:
		if err := s.transition(domain.MarketStatusVoided); err != nil {
			return err
		}
		at := ev.At
		s.Market.ResolvedAt = &at
		s.Market.VoidReason = ev.Reason
		s.freeze(ev.Settlement)
	case domain.MarketDisputed:
		if err := s.transition(domain.MarketStatusDisputed); err != nil {
			return err
		}
		deadline := ev.Deadline
		s.Market.DisputeDeadline = &deadline
		s.Dispute = &dispute.State{OpenedAt: ev.At, Deadline: ev.Deadline, Reason: ev.Reason, Verdict: ev.Verdict}
	case domain.DisputeVoteCast:
		if s.Dispute == nil {
			return fmt.Errorf("engine: market %s: %w", env.MarketID, domain.ErrNotDisputed)
		}
		s.Dispute.Apply(ev.Vote)
	case domain.Claimed:
		l := s.Claims[ev.Layer]
		if l == nil {
			return fmt.Errorf("engine: market %s: claim on %s layer: %w", env.MarketID, ev.Layer, domain.ErrNotResolved)
		}
		l.MarkClaimed(ev.Bettor)
	default:
		return fmt.Errorf("engine: market %s: unexpected event %s", env.MarketID, ev.Kind())
	}
	s.Seq = env.Seq
	return nil
}

func errNoExchange(marketID string) error {
	return fmt.Errorf("engine: market %s has no exchange: %w", marketID, domain.ErrInvalidMarket)
}

func (s *marketState) init(m domain.Market) {
	s.Market = m
	s.Pool = parimutuel.NewPool(m.Outcomes)
	fee := m.AMMFeeBps
	if fee == 0 {
		fee = amm.DefaultFeeBps
	}
	switch m.Kind {
	case domain.MarketKindParimutuel:
		s.Exchange = amm.NewExchange(len(m.Outcomes), fee)
	case domain.MarketKindConsensus:
		s.Exchange = amm.NewExchange(len(m.Outcomes), fee)
		s.Consensus = consensus.NewPool()
	}
}

func (s *marketState) transition(next domain.MarketStatus) error {
	if !s.Market.Status.CanTransition(next) {
		return fmt.Errorf("engine: market %s: %s -> %s: %w", s.Market.ID, s.Market.Status, next, domain.ErrInvalidTransition)
	}
	s.Market.Status = next
	return nil
}

// freeze stores the settlement and opens one claim ledger per payout layer.
func (s *marketState) freeze(st domain.Settlement) {
	s.Settlement = &st
	market := map[string]ledger.Amount{}
	for b, v := range st.Payouts {
		market[b] += v
	}
	if st.Exchange != nil {
		for h, v := range st.Exchange.Payouts {
			market[h] += v
		}
	}
	s.Claims = map[domain.ClaimLayer]*settlement.Ledger{
		domain.ClaimLayerMarket: settlement.NewLedger(market),
	}
	if st.Consensus != nil {
		s.Claims[domain.ClaimLayerConsensus] = settlement.NewLedger(st.Consensus.Payouts)
	}
}
