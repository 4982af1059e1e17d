package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/parimutuel"
)

func TestMultiplierBoundaries(t *testing.T) {
	tests := []struct {
		h    int
		want int64
	}{
		{-3, 10_000},
		{0, 10_000},
		{1, 11_500},
		{2, 13_000},
		{5, 17_500},
		{6, 21_000},
		{10, 35_000},
		{20, 60_000},
		{50, 105_000},
		{100, 155_000},
		{145, 200_000},
		{500, 200_000},
		{1 << 30, 200_000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MultiplierBps(tt.h), "h=%d", tt.h)
	}
}

func TestMultiplierMonotonic(t *testing.T) {
	prev := MultiplierBps(0)
	for h := 1; h <= 200; h++ {
		m := MultiplierBps(h)
		assert.GreaterOrEqual(t, m, prev, "h=%d", h)
		assert.LessOrEqual(t, m, MaxMultiplierBps)
		prev = m
	}
}

func TestValidateHorizon(t *testing.T) {
	require.NoError(t, ValidateHorizon(3, 4))
	require.ErrorIs(t, ValidateHorizon(4, 4), domain.ErrInvalidHorizon)
	require.ErrorIs(t, ValidateHorizon(5, 2), domain.ErrInvalidHorizon)
}

func TestNewBetLocksRemainingHorizon(t *testing.T) {
	m := domain.Market{ID: "t1", OpenChapter: 3, ResolveChapter: 13}

	early := NewBet(m, 1, "a", true, ledger.Units(10))
	assert.Equal(t, MultiplierBps(10), early.LockedMultiplierBps)
	assert.Equal(t, []int{domain.OutcomeYes}, early.Selection)

	late := NewBet(m, 8, "b", false, ledger.Units(10))
	assert.Equal(t, MultiplierBps(5), late.LockedMultiplierBps)
	assert.Equal(t, []int{domain.OutcomeNo}, late.Selection)
}

func TestCheckVerdict(t *testing.T) {
	require.NoError(t, CheckVerdict(domain.OracleVerdict{Outcome: 0, ConfidenceBps: 7_500}, DefaultConfidenceBps))
	err := CheckVerdict(domain.OracleVerdict{Outcome: 1, ConfidenceBps: 7_499}, DefaultConfidenceBps)
	require.ErrorIs(t, err, domain.ErrOracleLowConfidence)
	assert.Equal(t, domain.ClassOracle, domain.Classify(err))
	require.ErrorIs(t, CheckVerdict(domain.OracleVerdict{Outcome: 2, ConfidenceBps: 9_000}, DefaultConfidenceBps), domain.ErrInvalidSelection)
}

func TestSettleAppliesMultiplierToProfitOnly(t *testing.T) {
	p := parimutuel.NewPool(Labels)
	yes := domain.Bet{ID: "1", Bettor: "alice", Type: domain.BetSingle, Selection: []int{0}, Amount: ledger.Units(100), LockedMultiplierBps: 11_500}
	no := domain.Bet{ID: "2", Bettor: "bob", Type: domain.BetSingle, Selection: []int{1}, Amount: ledger.Units(300), LockedMultiplierBps: 35_000}
	p.Apply(yes)
	p.Apply(no)

	s, err := Settle("t1", p, domain.OutcomeYes, ledger.DefaultFeeSchedule())
	require.NoError(t, err)
	// base 340, profit 240 * 1.15 = 276, payout 376.
	assert.Equal(t, ledger.Units(376), s.Payouts["alice"])
	assert.Equal(t, ledger.Units(36), s.Subsidy)
	assert.True(t, s.Conserved())

	s, err = Settle("t1", p, domain.OutcomeNo, ledger.DefaultFeeSchedule())
	require.NoError(t, err)
	// base 340 is above the 300 stake: profit 40 * 3.5 = 140.
	assert.Equal(t, ledger.Units(440), s.Payouts["bob"])
	assert.True(t, s.Conserved())
}

func TestSettleBaseBelowStakeGetsNoBoost(t *testing.T) {
	p := parimutuel.NewPool(Labels)
	p.Apply(domain.Bet{ID: "1", Bettor: "a", Type: domain.BetSingle, Selection: []int{0}, Amount: ledger.Units(100), LockedMultiplierBps: MaxMultiplierBps})
	p.Apply(domain.Bet{ID: "2", Bettor: "b", Type: domain.BetSingle, Selection: []int{1}, Amount: ledger.Units(5), LockedMultiplierBps: MaxMultiplierBps})

	s, err := Settle("t1", p, domain.OutcomeYes, ledger.DefaultFeeSchedule())
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(89_250_000), s.Payouts["a"])
	assert.Equal(t, ledger.Amount(0), s.Subsidy)
	assert.True(t, s.Conserved())
}
