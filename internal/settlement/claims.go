package settlement

import (
	"fmt"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// Ledger records which bettors have drawn their payout from a frozen payout
// map. It is owned by the market state and only mutated by Claimed events.
type Ledger struct {
	Payouts map[string]ledger.Amount `json:"payouts"`
	Claimed map[string]bool          `json:"claimed"`
}

// NewLedger freezes payouts for claiming.
func NewLedger(payouts map[string]ledger.Amount) *Ledger {
	return &Ledger{Payouts: payouts, Claimed: map[string]bool{}}
}

// Claimable returns what bettor may claim now.
func (l *Ledger) Claimable(bettor string) (ledger.Amount, error) {
	if l == nil {
		return 0, fmt.Errorf("settlement: claim: %w", domain.ErrNotResolved)
	}
	if l.Claimed[bettor] {
		return 0, fmt.Errorf("settlement: claim by %s: %w", bettor, domain.ErrAlreadyClaimed)
	}
	amount := l.Payouts[bettor]
	if amount == 0 {
		return 0, fmt.Errorf("settlement: claim by %s: %w", bettor, domain.ErrNothingToClaim)
	}
	return amount, nil
}

// MarkClaimed records a successful claim.
func (l *Ledger) MarkClaimed(bettor string) {
	if l.Claimed == nil {
		l.Claimed = map[string]bool{}
	}
	l.Claimed[bettor] = true
}

// Outstanding is the total not yet claimed.
func (l *Ledger) Outstanding() ledger.Amount {
	if l == nil {
		return 0
	}
	var total ledger.Amount
	for b, v := range l.Payouts {
		if !l.Claimed[b] {
			total += v
		}
	}
	return total
}
