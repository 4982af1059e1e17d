package temporal

import (
	"fmt"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/parimutuel"
	"github.com/alanyoungcy/narrativebet/internal/settlement"
)

// DefaultConfidenceBps is the 0.75 oracle confidence floor.
const DefaultConfidenceBps int64 = 7_500

// Labels are the two outcomes of every temporal market.
var Labels = []string{"YES", "NO"}

// ValidateHorizon rejects a market that resolves at or before it opens.
func ValidateHorizon(openChapter, resolveChapter int) error {
	if resolveChapter <= openChapter {
		return fmt.Errorf("temporal: resolve chapter %d not after open chapter %d: %w",
			resolveChapter, openChapter, domain.ErrInvalidHorizon)
	}
	return nil
}

// RemainingHorizon is the horizon a bet placed at currentChapter locks in.
// Bets placed before the market opens get the full horizon.
func RemainingHorizon(m domain.Market, currentChapter int) int {
	from := currentChapter
	if from < m.OpenChapter {
		from = m.OpenChapter
	}
	return m.ResolveChapter - from
}

// NewBet fixes the bet shape of a temporal stake and locks its multiplier.
func NewBet(m domain.Market, currentChapter int, bettor string, yes bool, amount ledger.Amount) domain.Bet {
	outcome := domain.OutcomeNo
	if yes {
		outcome = domain.OutcomeYes
	}
	return domain.Bet{
		MarketID:            m.ID,
		Bettor:              bettor,
		Selection:           []int{outcome},
		Type:                domain.BetSingle,
		Amount:              amount,
		LockedMultiplierBps: MultiplierBps(RemainingHorizon(m, currentChapter)),
	}
}

// CheckVerdict accepts a verdict only at or above the confidence floor.
func CheckVerdict(v domain.OracleVerdict, minConfidenceBps int64) error {
	if v.Outcome != domain.OutcomeYes && v.Outcome != domain.OutcomeNo {
		return fmt.Errorf("temporal: verdict outcome %d: %w", v.Outcome, domain.ErrInvalidSelection)
	}
	if v.ConfidenceBps < minConfidenceBps {
		return fmt.Errorf("temporal: confidence %d bps below %d: %w",
			v.ConfidenceBps, minConfidenceBps, domain.ErrOracleLowConfidence)
	}
	return nil
}

// Settle pays winners their plain parimutuel share with the locked
// multiplier applied to profit only:
//
//	payout = principal + floor((base - principal) * multiplier)
//
// A winner whose base share does not exceed the stake gets the base share.
// The boost above base is funded by the treasury and recorded as subsidy.
func Settle(marketID string, pool *parimutuel.Pool, outcome int, fees ledger.FeeSchedule) (domain.Settlement, error) {
	split, err := fees.Split(pool.TotalPool)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("temporal: fee split: %w", err)
	}
	shares, dust, err := settlement.Shares(pool.ActiveBets(), []int{outcome}, split.Winner, parimutuel.DefaultRules())
	if err != nil {
		return domain.Settlement{}, err
	}
	if !settlement.Won(shares) {
		return settlement.Refund(marketID, pool), nil
	}

	s := domain.Settlement{
		MarketID:   marketID,
		WinningSet: []int{outcome},
		TotalPool:  pool.TotalPool,
		Split:      split,
		Dust:       dust,
		Payouts:    map[string]ledger.Amount{},
	}
	for _, bs := range shares {
		if bs.Weight == 0 {
			continue
		}
		pay, err := boosted(bs.Bet, bs.Share)
		if err != nil {
			return domain.Settlement{}, err
		}
		if s.Subsidy, err = s.Subsidy.Add(pay - bs.Share); err != nil {
			return domain.Settlement{}, fmt.Errorf("temporal: subsidy: %w", err)
		}
		if s.Payouts[bs.Bet.Bettor], err = s.Payouts[bs.Bet.Bettor].Add(pay); err != nil {
			return domain.Settlement{}, fmt.Errorf("temporal: payout: %w", err)
		}
	}
	if !s.Conserved() {
		return domain.Settlement{}, fmt.Errorf("temporal: market %s does not conserve its pool", marketID)
	}
	return s, nil
}

func boosted(bet domain.Bet, base ledger.Amount) (ledger.Amount, error) {
	if base <= bet.Amount {
		return base, nil
	}
	mult := bet.LockedMultiplierBps
	if mult < ledger.BpsDenominator {
		mult = ledger.BpsDenominator
	}
	profit, err := (base - bet.Amount).MulBps(mult)
	if err != nil {
		return 0, fmt.Errorf("temporal: boost: %w", err)
	}
	pay, err := bet.Amount.Add(profit)
	if err != nil {
		return 0, fmt.Errorf("temporal: boost: %w", err)
	}
	return pay, nil
}
