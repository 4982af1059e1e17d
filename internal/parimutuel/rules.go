package parimutuel

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// TeaserRule is one operator-configured row: a teaser with Legs selections
// has its combined odds scaled by OddsFactorBps and still wins with up to
// MaxMissed losing legs.
type TeaserRule struct {
	Legs          int   `json:"legs" toml:"legs"`
	OddsFactorBps int64 `json:"odds_factor_bps" toml:"odds_factor_bps"`
	MaxMissed     int   `json:"max_missed" toml:"max_missed"`
}

// TeaserTable is the full teaser adjustment curve.
type TeaserTable []TeaserRule

// DefaultTeaserTable is used when the operator configures none.
func DefaultTeaserTable() TeaserTable {
	return TeaserTable{
		{Legs: 2, OddsFactorBps: 5000, MaxMissed: 1},
		{Legs: 3, OddsFactorBps: 6000, MaxMissed: 1},
		{Legs: 4, OddsFactorBps: 7000, MaxMissed: 1},
		{Legs: 5, OddsFactorBps: 6500, MaxMissed: 2},
		{Legs: 6, OddsFactorBps: 7500, MaxMissed: 2},
	}
}

// Validate rejects rows that would make a teaser pay more than a parlay or
// allow every leg to miss.
func (t TeaserTable) Validate() error {
	seen := map[int]bool{}
	for _, r := range t {
		if r.Legs < 2 {
			return fmt.Errorf("parimutuel: teaser row with %d legs", r.Legs)
		}
		if seen[r.Legs] {
			return fmt.Errorf("parimutuel: duplicate teaser row for %d legs", r.Legs)
		}
		seen[r.Legs] = true
		if r.OddsFactorBps <= 0 || r.OddsFactorBps > ledger.BpsDenominator {
			return fmt.Errorf("parimutuel: teaser factor %d bps out of range", r.OddsFactorBps)
		}
		if r.MaxMissed < 0 || r.MaxMissed >= r.Legs {
			return fmt.Errorf("parimutuel: teaser max_missed %d invalid for %d legs", r.MaxMissed, r.Legs)
		}
	}
	return nil
}

// Lookup returns the row for legs, falling back to the largest row with
// fewer legs.
func (t TeaserTable) Lookup(legs int) (TeaserRule, bool) {
	rows := append(TeaserTable(nil), t...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Legs < rows[j].Legs })
	var best TeaserRule
	found := false
	for _, r := range rows {
		if r.Legs > legs {
			break
		}
		best, found = r, true
	}
	return best, found
}

// Rules are the settlement parameters for combinatorial bets.
type Rules struct {
	Teasers TeaserTable
	// ProgressivePartialBps scales a progressive bet that missed one leg.
	ProgressivePartialBps int64
}

// DefaultRules pays a one-miss progressive at half weight.
func DefaultRules() Rules {
	return Rules{Teasers: DefaultTeaserTable(), ProgressivePartialBps: 5000}
}

// Weight is a bet's claim on the winner pool given the winning set. Singles
// weigh their amount; a parlay weighs amount times its leg count, so a
// correct conjunction earns more than a correct single; a round robin is
// treated as its C(n,2) two-leg parlays each staked amount/C(n,2). A zero
// weight means the bet lost.
func Weight(bet domain.Bet, winning map[int]bool, rules Rules) (int64, error) {
	legs := int64(len(bet.Selection))
	hits := int64(0)
	for _, idx := range bet.Selection {
		if winning[idx] {
			hits++
		}
	}
	misses := legs - hits
	amount := int64(bet.Amount)

	switch bet.Type {
	case domain.BetSingle:
		if hits == 1 {
			return amount, nil
		}
		return 0, nil
	case domain.BetParlay:
		if misses == 0 {
			return ledger.MulDiv(amount, legs, 1)
		}
		return 0, nil
	case domain.BetTeaser:
		row, ok := rules.Teasers.Lookup(int(legs))
		if !ok || misses > int64(row.MaxMissed) {
			return 0, nil
		}
		return ledger.MulDiv(amount, legs*row.OddsFactorBps, ledger.BpsDenominator)
	case domain.BetRoundRobin:
		if hits < 2 {
			return 0, nil
		}
		return ledger.MulDiv(amount, 2*pairs(hits), pairs(legs))
	case domain.BetProgressive:
		switch misses {
		case 0:
			return ledger.MulDiv(amount, legs, 1)
		case 1:
			return ledger.MulDiv(amount, legs*rules.ProgressivePartialBps, ledger.BpsDenominator)
		}
		return 0, nil
	}
	return 0, fmt.Errorf("parimutuel: weight for bet type %q: %w", bet.Type, domain.ErrInvalidSelection)
}

func pairs(n int64) int64 {
	return n * (n - 1) / 2
}
