package amm

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

func seeded(t *testing.T, reserves ...int64) *Exchange {
	t.Helper()
	x := NewExchange(len(reserves), DefaultFeeBps)
	for i, r := range reserves {
		q, err := x.QuoteAdd(i, ledger.Units(r))
		require.NoError(t, err)
		x.ApplyAdd("lp", i, q)
	}
	return x
}

func mint(t *testing.T, x *Exchange, holder string, i int, units int64) {
	t.Helper()
	require.NoError(t, x.CheckMint(i, ledger.Units(units)))
	x.ApplyMint(holder, i, ledger.Units(units))
}

func snapshot(t *testing.T, x *Exchange) []byte {
	t.Helper()
	b, err := json.Marshal(x)
	require.NoError(t, err)
	return b
}

func TestSwapSlippageRejectedWithoutMutation(t *testing.T) {
	x := seeded(t, 1000, 1000)
	mint(t, x, "alice", 0, 100)
	before := snapshot(t, x)

	q, err := x.QuoteSwap(0, 1, ledger.Units(100))
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(99_700_000), q.AmountInNet)
	assert.Equal(t, ledger.Amount(300_000), q.Fee)
	assert.Equal(t, ledger.Amount(90_661_089), q.AmountOut)
	assert.Equal(t, int64(1000), q.PriceImpactBps)
	assert.Equal(t, ImpactStrong, q.Warning)
	assert.Equal(t, ledger.BpsDenominator, q.SpotPriceBps)

	_, err = x.CheckSwap("alice", 0, 1, ledger.Units(100), ledger.Units(95))
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Equal(t, domain.ClassValidation, domain.Classify(err))
	assert.JSONEq(t, string(before), string(snapshot(t, x)))
}

func TestSwapApplies(t *testing.T) {
	x := seeded(t, 1000, 1000)
	mint(t, x, "alice", 0, 100)

	q, err := x.CheckSwap("alice", 0, 1, ledger.Units(100), ledger.Units(90))
	require.NoError(t, err)
	x.ApplySwap("alice", q)

	assert.Equal(t, ledger.Units(1100), x.Reserves[0].Reserve)
	assert.Equal(t, ledger.Units(1000)-q.AmountOut, x.Reserves[1].Reserve)
	assert.Equal(t, ledger.Amount(0), x.Balance("alice", 0))
	assert.Equal(t, q.AmountOut, x.Balance("alice", 1))

	spot, ok := x.SpotPriceBps(0, 1)
	require.True(t, ok)
	assert.Less(t, spot, ledger.BpsDenominator, "selling outcome 0 cheapened it")
	back, ok := x.SpotPriceBps(1, 0)
	require.True(t, ok)
	assert.Greater(t, back, ledger.BpsDenominator)
	_, ok = x.SpotPriceBps(0, 7)
	assert.False(t, ok)
}

func TestSwapRejections(t *testing.T) {
	x := seeded(t, 1000, 1000, 0)
	mint(t, x, "alice", 0, 10)

	_, err := x.CheckSwap("alice", 0, 0, ledger.Units(1), 0)
	require.ErrorIs(t, err, domain.ErrIdenticalOutcome)

	_, err = x.CheckSwap("alice", 0, 2, ledger.Units(1), 0)
	require.ErrorIs(t, err, domain.ErrInsufficientLiquid)

	_, err = x.CheckSwap("alice", 0, 1, ledger.Units(11), 0)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = x.CheckSwap("alice", 0, 1, 0, 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = x.CheckSwap("alice", 0, 5, ledger.Units(1), 0)
	require.ErrorIs(t, err, domain.ErrInvalidSelection)
}

func TestSwapInvariantNeverDecreases(t *testing.T) {
	for _, fee := range []int64{0, DefaultFeeBps, 100} {
		x := seeded(t, 700, 1300, 50)
		x.FeeBps = fee
		mint(t, x, "t", 0, 5000)
		mint(t, x, "t", 1, 5000)
		mint(t, x, "t", 2, 5000)

		steps := []struct {
			from, to int
			in       int64
		}{
			{0, 1, 10_000_000}, {1, 0, 333_333_333}, {2, 1, 7}, {0, 2, 1_000_000_000}, {1, 2, 123_456_789},
		}
		for _, s := range steps {
			kBefore := new(big.Int).Mul(big.NewInt(int64(x.Reserves[s.from].Reserve)), big.NewInt(int64(x.Reserves[s.to].Reserve)))
			q, err := x.CheckSwap("t", s.from, s.to, ledger.Amount(s.in), 0)
			require.NoError(t, err)
			x.ApplySwap("t", q)
			kAfter := new(big.Int).Mul(big.NewInt(int64(x.Reserves[s.from].Reserve)), big.NewInt(int64(x.Reserves[s.to].Reserve)))
			assert.GreaterOrEqual(t, kAfter.Cmp(kBefore), 0, "fee %d swap %d->%d", fee, s.from, s.to)
		}
	}
}

func TestLiquidity(t *testing.T) {
	x := seeded(t, 1000, 1000)

	q, err := x.QuoteAdd(0, ledger.Units(500))
	require.NoError(t, err)
	assert.Equal(t, ledger.Units(500), q.Shares)
	x.ApplyAdd("bob", 0, q)

	// Drain reserve 0 through a swap out of it.
	mint(t, x, "alice", 1, 200)
	sq, err := x.CheckSwap("alice", 1, 0, ledger.Units(200), 0)
	require.NoError(t, err)
	x.ApplySwap("alice", sq)

	rq, err := x.QuoteRemove("bob", 0, ledger.Units(500))
	require.NoError(t, err)
	assert.Less(t, rq.Amount, ledger.Units(500), "a drained reserve returns less")
	assert.LessOrEqual(t, rq.Amount, x.Reserves[0].Reserve)
	x.ApplyRemove("bob", 0, rq)
	assert.Equal(t, rq.Amount, x.Balance("bob", 0))
	assert.Equal(t, ledger.Amount(0), x.Shares("bob", 0))

	_, err = x.QuoteRemove("bob", 0, 1)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestSettle(t *testing.T) {
	x := seeded(t, 100, 100)
	mint(t, x, "alice", 0, 50)
	mint(t, x, "bob", 1, 50)

	s, err := x.Settle([]int{0}, false)
	require.NoError(t, err)
	require.True(t, s.Conserved())
	assert.False(t, s.Voided)
	assert.Equal(t, ledger.Units(300), s.Collateral)
	// lp holds 100 of winning reserve, alice 50 tokens: 300 split 2:1.
	assert.Equal(t, ledger.Units(200), s.Payouts["lp"])
	assert.Equal(t, ledger.Units(100), s.Payouts["alice"])
	assert.NotContains(t, s.Payouts, "bob")

	v, err := x.Settle([]int{0}, true)
	require.NoError(t, err)
	require.True(t, v.Conserved())
	assert.True(t, v.Voided)
	assert.Equal(t, ledger.Units(200), v.Payouts["lp"])
	assert.Equal(t, ledger.Units(50), v.Payouts["bob"])
}

func TestSettleDustAndEmptyWinners(t *testing.T) {
	x := NewExchange(3, DefaultFeeBps)
	mint(t, x, "a", 0, 1)
	mint(t, x, "b", 0, 1)
	mint(t, x, "c", 0, 1)
	x.ApplyMint("d", 1, 1)

	s, err := x.Settle([]int{0}, false)
	require.NoError(t, err)
	require.True(t, s.Conserved())
	assert.Equal(t, ledger.Amount(1), s.Dust)

	none, err := x.Settle([]int{2}, false)
	require.NoError(t, err)
	assert.True(t, none.Voided, "no winning tokens refunds deposits")
	require.True(t, none.Conserved())
}
