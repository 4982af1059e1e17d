package engine

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/amm"
	"github.com/alanyoungcy/narrativebet/internal/consensus"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/parimutuel"
	"github.com/alanyoungcy/narrativebet/internal/settlement"
)

// View is an immutable copy of a market taken after each commit. Readers
// load it without taking the market lock.
type View struct {
	Market     domain.Market        `json:"market"`
	Seq        int64                `json:"seq"`
	TotalPool  ledger.Amount        `json:"total_pool"`
	Odds       []domain.OutcomeOdds `json:"odds"`
	ActiveBets int                  `json:"active_bets"`
	Reserves   []domain.ReservePool `json:"reserves,omitempty"`
	FeeBps     int64                `json:"fee_bps,omitempty"`
	Consensus  *ConsensusView       `json:"consensus,omitempty"`
	Dispute    *DisputeView         `json:"dispute,omitempty"`
	Settlement *domain.Settlement   `json:"settlement,omitempty"`
	UpdatedAt  time.Time            `json:"updated_at"`

	claims map[domain.ClaimLayer]*settlement.Ledger
}

// ConsensusView is the read side of a consensus layer.
type ConsensusView struct {
	CrowdRight   ledger.Amount  `json:"crowd_right"`
	CrowdWrong   ledger.Amount  `json:"crowd_wrong"`
	Stakes       int            `json:"stakes"`
	CrowdOutcome int            `json:"crowd_outcome"`
	Edge         consensus.Edge `json:"edge"`
}

// DisputeView is the read side of an open or closed dispute.
type DisputeView struct {
	OpenedAt time.Time             `json:"opened_at"`
	Deadline time.Time             `json:"deadline"`
	Reason   string                `json:"reason"`
	Verdict  *domain.OracleVerdict `json:"verdict,omitempty"`
	Votes    int                   `json:"votes"`
	Tally    map[int]int64         `json:"tally"`
	Total    int64                 `json:"total_weight"`
}

func (s *marketState) view(rules Config, at time.Time) *View {
	v := &View{
		Market:     s.Market,
		Seq:        s.Seq,
		TotalPool:  s.Pool.TotalPool,
		Odds:       s.Pool.Odds(),
		ActiveBets: len(s.Pool.ActiveBets()),
		Settlement: s.Settlement,
		UpdatedAt:  at,
	}
	if s.Exchange != nil {
		v.Reserves = append([]domain.ReservePool(nil), s.Exchange.Reserves...)
		v.FeeBps = s.Exchange.FeeBps
	}
	if c := s.Consensus; c != nil {
		v.Consensus = &ConsensusView{
			CrowdRight:   c.CrowdRight,
			CrowdWrong:   c.CrowdWrong,
			Stakes:       len(c.Stakes),
			CrowdOutcome: c.CrowdOutcome,
			Edge:         c.PsychicEdge(rules.Consensus.ContrarianBonusBps),
		}
	}
	if d := s.Dispute; d != nil {
		tally, total := d.Tally()
		v.Dispute = &DisputeView{
			OpenedAt: d.OpenedAt,
			Deadline: d.Deadline,
			Reason:   d.Reason,
			Verdict:  d.Verdict,
			Votes:    len(d.Votes),
			Tally:    tally,
			Total:    total,
		}
	}
	if s.Claims != nil {
		v.claims = make(map[domain.ClaimLayer]*settlement.Ledger, len(s.Claims))
		for layer, l := range s.Claims {
			claimed := make(map[string]bool, len(l.Claimed))
			for b, ok := range l.Claimed {
				claimed[b] = ok
			}
			v.claims[layer] = &settlement.Ledger{Payouts: l.Payouts, Claimed: claimed}
		}
	}
	return v
}

// Claimable returns what bettor can claim on layer.
func (v *View) Claimable(bettor string, layer domain.ClaimLayer) (ledger.Amount, error) {
	if !v.Market.Status.Final() {
		return 0, fmt.Errorf("engine: market %s is %s: %w", v.Market.ID, v.Market.Status, domain.ErrNotResolved)
	}
	l, ok := v.claims[layer]
	if !ok {
		return 0, fmt.Errorf("engine: market %s has no %s payouts: %w", v.Market.ID, layer, domain.ErrNothingToClaim)
	}
	return l.Claimable(bettor)
}

// Outstanding is the unclaimed total on layer.
func (v *View) Outstanding(layer domain.ClaimLayer) ledger.Amount {
	return v.claims[layer].Outstanding()
}

// OddsSnapshot converts the view to the cached odds form.
func (v *View) OddsSnapshot() domain.OddsSnapshot {
	return domain.OddsSnapshot{
		MarketID:  v.Market.ID,
		Seq:       v.Seq,
		Status:    v.Market.Status,
		TotalPool: v.TotalPool,
		Outcomes:  v.Odds,
		UpdatedAt: v.UpdatedAt,
	}
}

// QuoteSwap prices a swap against the view's reserves.
func (v *View) QuoteSwap(from, to int, amountIn ledger.Amount) (amm.Quote, error) {
	if v.Reserves == nil {
		return amm.Quote{}, fmt.Errorf("engine: market %s has no exchange: %w", v.Market.ID, domain.ErrInvalidMarket)
	}
	x := amm.Exchange{FeeBps: v.FeeBps, Reserves: v.Reserves}
	return x.QuoteSwap(from, to, amountIn)
}

// CombinedOddsBps is the combined multiplier of a combinatorial selection.
func (v *View) CombinedOddsBps(selection []int, betType domain.BetType, teasers parimutuel.TeaserTable) (int64, bool) {
	p := parimutuel.Pool{TotalPool: v.TotalPool, Outcomes: make([]domain.OutcomeSlot, len(v.Odds))}
	for i, o := range v.Odds {
		p.Outcomes[i] = domain.OutcomeSlot{Index: o.Index, Label: o.Label, TotalStaked: o.TotalStaked}
	}
	return p.CombinedOddsBps(selection, betType, teasers)
}
