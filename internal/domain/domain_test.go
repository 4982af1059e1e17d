package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to MarketStatus
		ok       bool
	}{
		{MarketStatusPending, MarketStatusOpen, true},
		{MarketStatusOpen, MarketStatusLocked, true},
		{MarketStatusLocked, MarketStatusResolving, true},
		{MarketStatusResolving, MarketStatusResolved, true},
		{MarketStatusResolving, MarketStatusDisputed, true},
		{MarketStatusDisputed, MarketStatusResolved, true},
		{MarketStatusOpen, MarketStatusPending, false},
		{MarketStatusResolved, MarketStatusDisputed, false},
		{MarketStatusLocked, MarketStatusOpen, false},
		{MarketStatusVoided, MarketStatusOpen, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestAcceptsBetsNeedsBothGates(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := Market{Status: MarketStatusOpen, DeadlineAt: now.Add(time.Minute)}
	assert.True(t, m.AcceptsBets(now))
	assert.False(t, m.AcceptsBets(now.Add(time.Minute)))

	m.Status = MarketStatusResolving
	assert.False(t, m.AcceptsBets(now))
}

func TestBadgeThresholds(t *testing.T) {
	tests := []struct {
		score    int
		badge    Badge
		discount int64
	}{
		{0, BadgeInitiate, 0},
		{999, BadgeInitiate, 0},
		{1000, BadgeSeer, 0},
		{1249, BadgeSeer, 0},
		{1250, BadgeOracle, 50},
		{1500, BadgeProphet, 100},
		{1750, BadgeVoidSeer, 200},
		{5000, BadgeVoidSeer, 200},
	}
	for _, tt := range tests {
		got := BadgeFor(tt.score)
		assert.Equal(t, tt.badge, got, "score %d", tt.score)
		assert.Equal(t, tt.discount, got.FeeDiscountBps(), "score %d", tt.score)
	}
	assert.True(t, BadgeProphet.AtLeast(BadgeOracle))
	assert.False(t, BadgeSeer.AtLeast(BadgeOracle))
}

func TestEnvelopeDecodeReturnsValueTypes(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bet := Bet{ID: "b1", MarketID: "m1", Bettor: "alice", Selection: []int{0}, Type: BetSingle, Amount: ledger.Units(100)}

	env, err := NewEnvelope("m1", 3, at, BetPlaced{Bet: bet})
	require.NoError(t, err)
	assert.Equal(t, EventBetPlaced, env.Kind)

	ev, err := env.Decode()
	require.NoError(t, err)
	placed, ok := ev.(BetPlaced)
	require.True(t, ok)
	assert.Equal(t, bet.Amount, placed.Bet.Amount)

	_, err = Envelope{Kind: "bogus"}.Decode()
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassValidation, Classify(fmt.Errorf("engine: place bet: %w", ErrInvalidAmount)))
	assert.Equal(t, ClassState, Classify(ErrAlreadyClaimed))
	assert.Equal(t, ClassArithmetic, Classify(fmt.Errorf("x: %w", ledger.ErrOverflow)))
	assert.Equal(t, ClassOracle, Classify(ErrOracleUnavailable))
	assert.Equal(t, ClassInternal, Classify(fmt.Errorf("boom")))
}

func TestSettlementConserved(t *testing.T) {
	s := Settlement{
		TotalPool: ledger.Units(400),
		Split:     ledger.Split{Winner: ledger.Units(340), Treasury: ledger.Units(50), Dev: ledger.Units(10)},
		Payouts:   map[string]ledger.Amount{"alice": ledger.Units(340)},
	}
	assert.True(t, s.Conserved())

	s.Payouts["alice"] = ledger.Units(339)
	assert.False(t, s.Conserved())
}
