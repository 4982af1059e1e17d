// Package parimutuel implements N-outcome stake pools: bet validation, odds
// derived from pool shares, combined odds for combinatorial bets, and the
// per-bet-type win conditions used at settlement.
package parimutuel

import (
	"fmt"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// Limits bounds a single bet's amount.
type Limits struct {
	Min ledger.Amount
	Max ledger.Amount
}

// Pool is the mutable stake state of one parimutuel market. TotalPool is the
// sum of escrowed bet amounts; a combinatorial bet adds its amount to every
// selected outcome's TotalStaked but only once to TotalPool.
type Pool struct {
	Outcomes  []domain.OutcomeSlot `json:"outcomes"`
	Bets      []domain.Bet         `json:"bets"`
	TotalPool ledger.Amount        `json:"total_pool"`
}

// NewPool creates an empty pool with one slot per label.
func NewPool(labels []string) *Pool {
	p := &Pool{Outcomes: make([]domain.OutcomeSlot, len(labels))}
	for i, l := range labels {
		p.Outcomes[i] = domain.OutcomeSlot{Index: i, Label: l}
	}
	return p
}

// ValidateSelection checks indices, duplicates, and leg counts for betType.
func ValidateSelection(selection []int, betType domain.BetType, outcomes int) error {
	if !betType.Valid() {
		return fmt.Errorf("parimutuel: unknown bet type %q: %w", betType, domain.ErrInvalidSelection)
	}
	if len(selection) < betType.MinLegs() {
		return fmt.Errorf("parimutuel: %s needs at least %d legs, got %d: %w",
			betType, betType.MinLegs(), len(selection), domain.ErrInvalidSelection)
	}
	if betType == domain.BetSingle && len(selection) != 1 {
		return fmt.Errorf("parimutuel: single bet with %d legs: %w", len(selection), domain.ErrInvalidSelection)
	}
	seen := make(map[int]bool, len(selection))
	for _, idx := range selection {
		if idx < 0 || idx >= outcomes {
			return fmt.Errorf("parimutuel: outcome %d out of range: %w", idx, domain.ErrInvalidSelection)
		}
		if seen[idx] {
			return fmt.Errorf("parimutuel: outcome %d selected twice: %w", idx, domain.ErrInvalidSelection)
		}
		seen[idx] = true
	}
	return nil
}

// ValidateAmount checks amount against the configured bounds.
func ValidateAmount(amount ledger.Amount, limits Limits) error {
	if amount <= 0 {
		return fmt.Errorf("parimutuel: amount %s: %w", amount, domain.ErrInvalidAmount)
	}
	if limits.Min > 0 && amount < limits.Min {
		return fmt.Errorf("parimutuel: amount %s below minimum %s: %w", amount, limits.Min, domain.ErrInvalidAmount)
	}
	if limits.Max > 0 && amount > limits.Max {
		return fmt.Errorf("parimutuel: amount %s above maximum %s: %w", amount, limits.Max, domain.ErrInvalidAmount)
	}
	return nil
}

// ValidateBet checks bet against the pool without changing it, including
// that applying it cannot overflow any total.
func (p *Pool) ValidateBet(bet domain.Bet, limits Limits, teasers TeaserTable) error {
	if err := ValidateAmount(bet.Amount, limits); err != nil {
		return err
	}
	if err := ValidateSelection(bet.Selection, bet.Type, len(p.Outcomes)); err != nil {
		return err
	}
	if bet.Type == domain.BetTeaser {
		if _, ok := teasers.Lookup(len(bet.Selection)); !ok {
			return fmt.Errorf("parimutuel: no teaser row for %d legs: %w", len(bet.Selection), domain.ErrInvalidSelection)
		}
	}
	if _, err := p.TotalPool.Add(bet.Amount); err != nil {
		return fmt.Errorf("parimutuel: pool total: %w", err)
	}
	for _, idx := range bet.Selection {
		if _, err := p.Outcomes[idx].TotalStaked.Add(bet.Amount); err != nil {
			return fmt.Errorf("parimutuel: outcome %d total: %w", idx, err)
		}
	}
	return nil
}

// Apply records a validated bet.
func (p *Pool) Apply(bet domain.Bet) {
	for _, idx := range bet.Selection {
		p.Outcomes[idx].TotalStaked += bet.Amount
	}
	p.TotalPool += bet.Amount
	p.Bets = append(p.Bets, bet)
}

// FindActive returns the live bet with the given id owned by bettor.
func (p *Pool) FindActive(betID, bettor string) (domain.Bet, error) {
	for _, b := range p.Bets {
		if b.ID != betID {
			continue
		}
		if b.Bettor != bettor {
			return domain.Bet{}, fmt.Errorf("parimutuel: bet %s: %w", betID, domain.ErrUnauthorized)
		}
		if b.Cancelled {
			return domain.Bet{}, fmt.Errorf("parimutuel: bet %s already cancelled: %w", betID, domain.ErrNotFound)
		}
		return b, nil
	}
	return domain.Bet{}, fmt.Errorf("parimutuel: bet %s: %w", betID, domain.ErrNotFound)
}

// Cancel reverses a bet previously returned by FindActive.
func (p *Pool) Cancel(betID string) {
	for i := range p.Bets {
		b := &p.Bets[i]
		if b.ID != betID || b.Cancelled {
			continue
		}
		for _, idx := range b.Selection {
			p.Outcomes[idx].TotalStaked -= b.Amount
		}
		p.TotalPool -= b.Amount
		b.Cancelled = true
		return
	}
}

// ActiveBets returns every bet that has not been cancelled.
func (p *Pool) ActiveBets() []domain.Bet {
	out := make([]domain.Bet, 0, len(p.Bets))
	for _, b := range p.Bets {
		if !b.Cancelled {
			out = append(out, b)
		}
	}
	return out
}

// CrowdOutcome is the outcome with the largest stake; ties go to the lowest
// index. It returns -1 when nothing is staked.
func (p *Pool) CrowdOutcome() int {
	best := -1
	var bestStake ledger.Amount
	for _, o := range p.Outcomes {
		if o.TotalStaked > bestStake {
			best = o.Index
			bestStake = o.TotalStaked
		}
	}
	return best
}
