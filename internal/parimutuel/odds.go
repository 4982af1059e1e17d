package parimutuel

import (
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// UndefinedOdds is shown for an outcome with nothing staked on it.
const UndefinedOdds = "—"

// MultiplierBps is totalPool / totalStaked(i) in basis points. ok is false
// when the outcome has no stake and the multiplier is undefined.
func (p *Pool) MultiplierBps(i int) (bps int64, ok bool) {
	if i < 0 || i >= len(p.Outcomes) {
		return 0, false
	}
	staked := p.Outcomes[i].TotalStaked
	if staked == 0 {
		return 0, false
	}
	v, err := ledger.MulDiv(int64(p.TotalPool), ledger.BpsDenominator, int64(staked))
	if err != nil {
		return 0, false
	}
	return v, true
}

// ImpliedProbBps is totalStaked(i) / Σ totalStaked in basis points. It is
// zero when the pool is empty.
func (p *Pool) ImpliedProbBps(i int) int64 {
	var sum int64
	for _, o := range p.Outcomes {
		sum += int64(o.TotalStaked)
	}
	if sum == 0 || i < 0 || i >= len(p.Outcomes) {
		return 0
	}
	v, err := ledger.MulDiv(int64(p.Outcomes[i].TotalStaked), ledger.BpsDenominator, sum)
	if err != nil {
		return 0
	}
	return v
}

// CombinedOddsBps multiplies the leg multipliers of a selection and applies
// the teaser factor for TEASER bets. ok is false if any leg is undefined.
func (p *Pool) CombinedOddsBps(selection []int, betType domain.BetType, teasers TeaserTable) (bps int64, ok bool) {
	acc := ledger.BpsDenominator
	for _, idx := range selection {
		leg, legOK := p.MultiplierBps(idx)
		if !legOK {
			return 0, false
		}
		next, err := ledger.MulDiv(acc, leg, ledger.BpsDenominator)
		if err != nil {
			return 0, false
		}
		acc = next
	}
	if betType == domain.BetTeaser {
		row, found := teasers.Lookup(len(selection))
		if !found {
			return 0, false
		}
		next, err := ledger.MulDiv(acc, row.OddsFactorBps, ledger.BpsDenominator)
		if err != nil {
			return 0, false
		}
		acc = next
	}
	return acc, true
}

// Odds builds the viewer-facing odds of every outcome.
func (p *Pool) Odds() []domain.OutcomeOdds {
	out := make([]domain.OutcomeOdds, len(p.Outcomes))
	for i, o := range p.Outcomes {
		oo := domain.OutcomeOdds{
			Index:          o.Index,
			Label:          o.Label,
			TotalStaked:    o.TotalStaked,
			ImpliedProbBps: p.ImpliedProbBps(i),
			Display:        UndefinedOdds,
		}
		if m, ok := p.MultiplierBps(i); ok {
			oo.MultiplierBps = &m
			oo.Display = FormatMultiplier(m)
		}
		out[i] = oo
	}
	return out
}

// FormatMultiplier renders a bps multiplier as "1.15x".
func FormatMultiplier(bps int64) string {
	return ledger.Amount(bps*100).Decimal().StringFixed(2) + "x"
}
