package amm

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// Settle redeems the exchange collateral against winning tokens. A holder's
// weight is their balance of every winning outcome plus their LP claim on
// each winning reserve. With no winning weight, or when voided, every
// holder gets their deposits back.
func (x *Exchange) Settle(winning []int, voided bool) (domain.ExchangeSettlement, error) {
	s := domain.ExchangeSettlement{
		Collateral: x.Collateral,
		Payouts:    map[string]ledger.Amount{},
	}
	if x.Collateral == 0 {
		return s, nil
	}
	if !voided {
		holders, weights, err := x.winningWeights(winning)
		if err != nil {
			return domain.ExchangeSettlement{}, err
		}
		shares, dust, err := ledger.ProRata(x.Collateral, weights)
		if err != nil {
			return domain.ExchangeSettlement{}, fmt.Errorf("amm: settle: %w", err)
		}
		if dust != x.Collateral {
			for i, h := range holders {
				if shares[i] > 0 {
					s.Payouts[h] = shares[i]
				}
			}
			s.Dust = dust
			return s, nil
		}
	}
	s.Voided = true
	for h, d := range x.Deposits {
		if d > 0 {
			s.Payouts[h] = d
		}
	}
	return s, nil
}

func (x *Exchange) winningWeights(winning []int) ([]string, []int64, error) {
	won := map[int]bool{}
	for _, i := range winning {
		won[i] = true
	}
	acc := map[string]ledger.Amount{}
	add := func(h string, v ledger.Amount) error {
		next, err := acc[h].Add(v)
		if err != nil {
			return fmt.Errorf("amm: weight: %w", err)
		}
		acc[h] = next
		return nil
	}
	for h, bal := range x.Holdings {
		for i, v := range bal {
			if won[i] && v > 0 {
				if err := add(h, v); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	for h, lp := range x.LPShares {
		for i, sh := range lp {
			r := x.Reserves[i]
			if !won[i] || sh == 0 || r.LPTotalSupply == 0 {
				continue
			}
			v, err := r.Reserve.MulDiv(int64(sh), int64(r.LPTotalSupply))
			if err != nil {
				return nil, nil, fmt.Errorf("amm: lp value: %w", err)
			}
			if err := add(h, v); err != nil {
				return nil, nil, err
			}
		}
	}
	holders := make([]string, 0, len(acc))
	for h := range acc {
		holders = append(holders, h)
	}
	sort.Strings(holders)
	weights := make([]int64, len(holders))
	for i, h := range holders {
		weights[i] = int64(acc[h])
	}
	return holders, weights, nil
}
