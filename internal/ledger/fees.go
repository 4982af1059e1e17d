package ledger

import "fmt"

// FeeSchedule splits a gross pool between winners, the treasury, and the
// developer fund. The three shares must sum to BpsDenominator.
type FeeSchedule struct {
	WinnerBps   int64 `json:"winner_bps" toml:"winner_bps"`
	TreasuryBps int64 `json:"treasury_bps" toml:"treasury_bps"`
	DevBps      int64 `json:"dev_bps" toml:"dev_bps"`
}

// DefaultFeeSchedule is the 85 / 12.5 / 2.5 split.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{WinnerBps: 8500, TreasuryBps: 1250, DevBps: 250}
}

// Validate checks that every share is non-negative and the total is 100%.
func (f FeeSchedule) Validate() error {
	if f.WinnerBps < 0 || f.TreasuryBps < 0 || f.DevBps < 0 {
		return fmt.Errorf("ledger: fee schedule has negative share: %+v", f)
	}
	if f.WinnerBps+f.TreasuryBps+f.DevBps != BpsDenominator {
		return fmt.Errorf("ledger: fee schedule sums to %d bps, want %d",
			f.WinnerBps+f.TreasuryBps+f.DevBps, BpsDenominator)
	}
	return nil
}

// Split is the result of applying a FeeSchedule to a pool.
type Split struct {
	Winner   Amount `json:"winner"`
	Treasury Amount `json:"treasury"`
	Dev      Amount `json:"dev"`
}

// Split divides total into winner, treasury, and dev portions. Winner and dev
// are floored; the treasury takes whatever remains, so the three parts always
// sum to total exactly.
func (f FeeSchedule) Split(total Amount) (Split, error) {
	winner, err := total.MulBps(f.WinnerBps)
	if err != nil {
		return Split{}, fmt.Errorf("ledger: winner share: %w", err)
	}
	dev, err := total.MulBps(f.DevBps)
	if err != nil {
		return Split{}, fmt.Errorf("ledger: dev share: %w", err)
	}
	taken, err := winner.Add(dev)
	if err != nil {
		return Split{}, err
	}
	treasury, err := total.Sub(taken)
	if err != nil {
		return Split{}, err
	}
	return Split{Winner: winner, Treasury: treasury, Dev: dev}, nil
}

// ProRata distributes pool across weights proportionally, flooring each
// share. It returns the shares in input order and the undistributed dust.
// A zero total weight distributes nothing and returns the whole pool as dust.
func ProRata(pool Amount, weights []int64) ([]Amount, Amount, error) {
	out := make([]Amount, len(weights))
	var total int64
	for _, w := range weights {
		if w < 0 {
			return nil, 0, ErrNegativeAmount
		}
		next, err := Amount(total).Add(Amount(w))
		if err != nil {
			return nil, 0, err
		}
		total = int64(next)
	}
	if total == 0 {
		return out, pool, nil
	}
	var paid Amount
	for i, w := range weights {
		share, err := pool.MulDiv(w, total)
		if err != nil {
			return nil, 0, err
		}
		out[i] = share
		paid += share
	}
	dust, err := pool.Sub(paid)
	if err != nil {
		return nil, 0, err
	}
	return out, dust, nil
}
