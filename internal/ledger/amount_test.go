package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountAddSub(t *testing.T) {
	a, err := Units(100).Add(Units(300))
	require.NoError(t, err)
	assert.Equal(t, Units(400), a)

	_, err = Amount(math.MaxInt64).Add(1)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = Units(1).Sub(Units(2))
	require.ErrorIs(t, err, ErrNegativeAmount)
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c int64
		want    int64
		ceil    int64
		err     error
	}{
		{name: "exact", a: 400, b: 8500, c: 10_000, want: 340, ceil: 340},
		{name: "floor", a: 10, b: 1, c: 3, want: 3, ceil: 4},
		{name: "wide intermediate", a: math.MaxInt64, b: 10, c: 20, want: math.MaxInt64 / 2, ceil: math.MaxInt64/2 + 1},
		{name: "zero divisor", a: 1, b: 1, c: 0, err: ErrDivideByZero},
		{name: "overflow", a: math.MaxInt64, b: 4, c: 2, err: ErrOverflow},
		{name: "negative", a: -1, b: 1, c: 1, err: ErrNegativeAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.a, tt.b, tt.c)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			up, err := MulDivCeil(tt.a, tt.b, tt.c)
			require.NoError(t, err)
			assert.Equal(t, tt.ceil, up)
		})
	}
}

func TestAmountStringAndParse(t *testing.T) {
	assert.Equal(t, "340", Units(340).String())
	assert.Equal(t, "0.000001", Amount(1).String())
	assert.Equal(t, "12.5", Amount(12_500_000).String())

	got, err := ParseAmount("12.5")
	require.NoError(t, err)
	assert.Equal(t, Amount(12_500_000), got)

	_, err = ParseAmount("0.0000001")
	require.ErrorIs(t, err, ErrPrecision)

	_, err = ParseAmount("-1")
	require.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ParseAmount("abc")
	require.Error(t, err)
}

func TestFeeScheduleSplit(t *testing.T) {
	fs := DefaultFeeSchedule()
	require.NoError(t, fs.Validate())

	split, err := fs.Split(Units(400))
	require.NoError(t, err)
	assert.Equal(t, Units(340), split.Winner)
	assert.Equal(t, Units(10), split.Dev)
	assert.Equal(t, Units(50), split.Treasury)

	// Odd micro-unit totals: floors on winner and dev, remainder to treasury.
	split, err = fs.Split(Amount(7))
	require.NoError(t, err)
	assert.Equal(t, Amount(5), split.Winner)
	assert.Equal(t, Amount(0), split.Dev)
	assert.Equal(t, Amount(2), split.Treasury)

	bad := FeeSchedule{WinnerBps: 9000, TreasuryBps: 1250, DevBps: 250}
	require.Error(t, bad.Validate())
}

func TestProRataConservesPool(t *testing.T) {
	shares, dust, err := ProRata(Amount(1000), []int64{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []Amount{333, 333, 333}, shares)
	assert.Equal(t, Amount(1), dust)

	shares, dust, err = ProRata(Amount(1000), nil)
	require.NoError(t, err)
	assert.Empty(t, shares)
	assert.Equal(t, Amount(1000), dust)
}
