package settlement

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/parimutuel"
)

func single(id, bettor string, outcome int, micro ledger.Amount) domain.Bet {
	return domain.Bet{ID: id, Bettor: bettor, Type: domain.BetSingle, Selection: []int{outcome}, Amount: micro}
}

func TestSimpleParimutuel(t *testing.T) {
	p := parimutuel.NewPool([]string{"A", "B"})
	p.Apply(single("1", "alice", 0, ledger.Units(100)))
	p.Apply(single("2", "bob", 1, ledger.Units(300)))

	s, err := Parimutuel("m1", p, []int{0}, ledger.DefaultFeeSchedule(), parimutuel.DefaultRules())
	require.NoError(t, err)

	assert.Equal(t, ledger.Units(340), s.Split.Winner)
	assert.Equal(t, ledger.Units(50), s.Split.Treasury)
	assert.Equal(t, ledger.Units(10), s.Split.Dev)
	assert.Equal(t, ledger.Units(340), s.Payouts["alice"])
	assert.NotContains(t, s.Payouts, "bob")
	assert.Equal(t, ledger.Amount(0), s.Dust)
	assert.True(t, s.Conserved())
}

func TestConservationWithDust(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		p := parimutuel.NewPool([]string{"A", "B", "C"})
		for i := 0; i < 40; i++ {
			amount := ledger.Amount(rng.Int63n(5_000_000_000) + 1)
			p.Apply(single(fmt.Sprint(i), fmt.Sprintf("b%d", rng.Intn(15)), rng.Intn(3), amount))
		}
		p.Apply(domain.Bet{ID: "parlay", Bettor: "p", Type: domain.BetParlay, Selection: []int{0, 1}, Amount: 777_777})

		s, err := Parimutuel("m", p, []int{0}, ledger.DefaultFeeSchedule(), parimutuel.DefaultRules())
		require.NoError(t, err)
		require.True(t, s.Conserved(), "round %d", round)

		var paid ledger.Amount
		for _, v := range s.Payouts {
			paid += v
		}
		assert.Equal(t, s.TotalPool, paid+s.Split.Treasury+s.Split.Dev+s.Dust)
	}
}

func TestMultiOutcomeWinningSet(t *testing.T) {
	p := parimutuel.NewPool([]string{"A", "B", "C"})
	p.Apply(single("1", "alice", 0, ledger.Units(100)))
	p.Apply(domain.Bet{ID: "2", Bettor: "bob", Type: domain.BetParlay, Selection: []int{0, 1}, Amount: ledger.Units(100)})
	p.Apply(single("3", "carol", 2, ledger.Units(200)))

	s, err := Parimutuel("m", p, []int{0, 1}, ledger.DefaultFeeSchedule(), parimutuel.DefaultRules())
	require.NoError(t, err)
	// winner pool 340, weights alice 100 and bob 200.
	assert.Equal(t, ledger.Amount(113_333_333), s.Payouts["alice"])
	assert.Equal(t, ledger.Amount(226_666_666), s.Payouts["bob"])
	assert.Equal(t, ledger.Amount(1), s.Dust)
	assert.Equal(t, []int{0, 1}, s.WinningSet)
	assert.True(t, s.Conserved())
}

func TestNoWinnerVoidsAndRefunds(t *testing.T) {
	p := parimutuel.NewPool([]string{"A", "B", "C"})
	p.Apply(single("1", "alice", 0, ledger.Units(100)))
	p.Apply(single("2", "alice", 1, ledger.Units(50)))
	p.Apply(single("3", "bob", 1, ledger.Units(300)))

	s, err := Parimutuel("m", p, []int{2}, ledger.DefaultFeeSchedule(), parimutuel.DefaultRules())
	require.NoError(t, err)
	assert.True(t, s.Voided)
	assert.Equal(t, ledger.Units(150), s.Payouts["alice"])
	assert.Equal(t, ledger.Units(300), s.Payouts["bob"])
	assert.True(t, s.Conserved())
}

func TestLedgerClaimOnce(t *testing.T) {
	var nilLedger *Ledger
	_, err := nilLedger.Claimable("alice")
	require.ErrorIs(t, err, domain.ErrNotResolved)

	l := NewLedger(map[string]ledger.Amount{"alice": ledger.Units(340)})
	amount, err := l.Claimable("alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.Units(340), amount)
	l.MarkClaimed("alice")

	_, err = l.Claimable("alice")
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	_, err = l.Claimable("bob")
	require.ErrorIs(t, err, domain.ErrNothingToClaim)
	assert.Equal(t, ledger.Amount(0), l.Outstanding())
}
