// Package settlement turns a resolved parimutuel pool into a frozen payout
// map and tracks which bettors have claimed from it.
package settlement

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/parimutuel"
)

// BetShare is one bet's slice of the winner pool.
type BetShare struct {
	Bet    domain.Bet
	Weight int64
	Share  ledger.Amount
}

// Won reports whether any share carries weight.
func Won(shares []BetShare) bool {
	for _, s := range shares {
		if s.Weight > 0 {
			return true
		}
	}
	return false
}

// Shares splits winnerPool across bets by their win weight. Bets that lost
// get a zero share. The returned dust is what integer flooring left behind;
// when no bet won the whole pool comes back as dust.
func Shares(bets []domain.Bet, winning []int, winnerPool ledger.Amount, rules parimutuel.Rules) ([]BetShare, ledger.Amount, error) {
	won := make(map[int]bool, len(winning))
	for _, i := range winning {
		won[i] = true
	}
	weights := make([]int64, len(bets))
	for i, b := range bets {
		w, err := parimutuel.Weight(b, won, rules)
		if err != nil {
			return nil, 0, err
		}
		weights[i] = w
	}
	amounts, dust, err := ledger.ProRata(winnerPool, weights)
	if err != nil {
		return nil, 0, fmt.Errorf("settlement: pro rata: %w", err)
	}
	out := make([]BetShare, len(bets))
	for i, b := range bets {
		out[i] = BetShare{Bet: b, Weight: weights[i], Share: amounts[i]}
	}
	return out, dust, nil
}

// Parimutuel settles a locked pool against the winning set. The winner share
// of the fee schedule is distributed pro rata; treasury and dev keep their
// shares and the treasury also receives the rounding dust. If nothing won,
// the market is voided and every stake refunded.
func Parimutuel(marketID string, pool *parimutuel.Pool, winning []int, fees ledger.FeeSchedule, rules parimutuel.Rules) (domain.Settlement, error) {
	bets := pool.ActiveBets()
	split, err := fees.Split(pool.TotalPool)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("settlement: fee split: %w", err)
	}
	shares, dust, err := Shares(bets, winning, split.Winner, rules)
	if err != nil {
		return domain.Settlement{}, err
	}
	if !Won(shares) {
		return Refund(marketID, pool), nil
	}

	s := domain.Settlement{
		MarketID:   marketID,
		WinningSet: sortedCopy(winning),
		TotalPool:  pool.TotalPool,
		Split:      split,
		Dust:       dust,
		Payouts:    map[string]ledger.Amount{},
	}
	for _, bs := range shares {
		if bs.Share == 0 {
			continue
		}
		next, err := s.Payouts[bs.Bet.Bettor].Add(bs.Share)
		if err != nil {
			return domain.Settlement{}, fmt.Errorf("settlement: payout: %w", err)
		}
		s.Payouts[bs.Bet.Bettor] = next
	}
	if !s.Conserved() {
		return domain.Settlement{}, fmt.Errorf("settlement: market %s does not conserve its pool", marketID)
	}
	return s, nil
}

// Refund builds a voided settlement that returns every active stake with no
// fees taken.
func Refund(marketID string, pool *parimutuel.Pool) domain.Settlement {
	s := domain.Settlement{
		MarketID:  marketID,
		Voided:    true,
		TotalPool: pool.TotalPool,
		Payouts:   map[string]ledger.Amount{},
	}
	for _, b := range pool.ActiveBets() {
		s.Payouts[b.Bettor] += b.Amount
	}
	return s
}

func sortedCopy(xs []int) []int {
	out := append([]int(nil), xs...)
	sort.Ints(out)
	return out
}
