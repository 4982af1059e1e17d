// Package amm is the outcome exchange that runs beside a parimutuel pool.
// Each outcome owns a reserve seeded by liquidity providers; swaps between
// two outcomes are priced against the constant product of that pair.
package amm

import (
	"fmt"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// DefaultFeeBps is the 0.3% swap fee.
const DefaultFeeBps int64 = 30

// Exchange is the mutable exchange state of one market. Collateral is every
// unit escrowed through MintPosition or AddLiquidity and is what winning
// tokens are redeemed against at settlement.
type Exchange struct {
	FeeBps     int64                            `json:"fee_bps"`
	Reserves   []domain.ReservePool             `json:"reserves"`
	LPShares   map[string]map[int]ledger.Amount `json:"lp_shares"`
	Holdings   map[string]map[int]ledger.Amount `json:"holdings"`
	Deposits   map[string]ledger.Amount         `json:"deposits"`
	Collateral ledger.Amount                    `json:"collateral"`
}

// NewExchange creates an exchange with empty reserves for n outcomes.
func NewExchange(n int, feeBps int64) *Exchange {
	x := &Exchange{
		FeeBps:   feeBps,
		Reserves: make([]domain.ReservePool, n),
		LPShares: map[string]map[int]ledger.Amount{},
		Holdings: map[string]map[int]ledger.Amount{},
		Deposits: map[string]ledger.Amount{},
	}
	for i := range x.Reserves {
		x.Reserves[i].Index = i
	}
	return x
}

// ensure allocates maps left nil by a decoded snapshot.
func (x *Exchange) ensure() {
	if x.LPShares == nil {
		x.LPShares = map[string]map[int]ledger.Amount{}
	}
	if x.Holdings == nil {
		x.Holdings = map[string]map[int]ledger.Amount{}
	}
	if x.Deposits == nil {
		x.Deposits = map[string]ledger.Amount{}
	}
}

func (x *Exchange) outcome(i int) error {
	if i < 0 || i >= len(x.Reserves) {
		return fmt.Errorf("amm: outcome %d out of range: %w", i, domain.ErrInvalidSelection)
	}
	return nil
}

// Balance returns holder's token balance of outcome i.
func (x *Exchange) Balance(holder string, i int) ledger.Amount {
	return x.Holdings[holder][i]
}

// Shares returns holder's LP shares in outcome i's reserve.
func (x *Exchange) Shares(holder string, i int) ledger.Amount {
	return x.LPShares[holder][i]
}

func credit(m map[string]map[int]ledger.Amount, holder string, i int, amount ledger.Amount) {
	inner, ok := m[holder]
	if !ok {
		inner = map[int]ledger.Amount{}
		m[holder] = inner
	}
	inner[i] += amount
}

func debit(m map[string]map[int]ledger.Amount, holder string, i int, amount ledger.Amount) {
	inner := m[holder]
	inner[i] -= amount
	if inner[i] == 0 {
		delete(inner, i)
	}
	if len(inner) == 0 {
		delete(m, holder)
	}
}

// CheckMint validates a collateral deposit credited 1:1 as outcome tokens.
func (x *Exchange) CheckMint(i int, amount ledger.Amount) error {
	if err := x.outcome(i); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("amm: mint %s: %w", amount, domain.ErrInvalidAmount)
	}
	if _, err := x.Collateral.Add(amount); err != nil {
		return fmt.Errorf("amm: collateral: %w", err)
	}
	return nil
}

// ApplyMint records a validated mint.
func (x *Exchange) ApplyMint(holder string, i int, amount ledger.Amount) {
	x.ensure()
	credit(x.Holdings, holder, i, amount)
	x.Deposits[holder] += amount
	x.Collateral += amount
}

// LiquidityQuote is the result of adding or removing liquidity.
type LiquidityQuote struct {
	Amount ledger.Amount `json:"amount"`
	Shares ledger.Amount `json:"shares"`
}

// QuoteAdd prices a deposit of amount into outcome i's reserve. The first
// provider receives shares 1:1; later ones receive amount*supply/reserve.
func (x *Exchange) QuoteAdd(i int, amount ledger.Amount) (LiquidityQuote, error) {
	if err := x.outcome(i); err != nil {
		return LiquidityQuote{}, err
	}
	if amount <= 0 {
		return LiquidityQuote{}, fmt.Errorf("amm: add liquidity %s: %w", amount, domain.ErrInvalidAmount)
	}
	r := x.Reserves[i]
	if _, err := r.Reserve.Add(amount); err != nil {
		return LiquidityQuote{}, fmt.Errorf("amm: reserve: %w", err)
	}
	if _, err := x.Collateral.Add(amount); err != nil {
		return LiquidityQuote{}, fmt.Errorf("amm: collateral: %w", err)
	}
	shares := amount
	if r.LPTotalSupply > 0 && r.Reserve > 0 {
		s, err := amount.MulDiv(int64(r.LPTotalSupply), int64(r.Reserve))
		if err != nil {
			return LiquidityQuote{}, fmt.Errorf("amm: shares: %w", err)
		}
		shares = s
	}
	if shares <= 0 {
		return LiquidityQuote{}, fmt.Errorf("amm: deposit too small for a share: %w", domain.ErrInvalidAmount)
	}
	if _, err := r.LPTotalSupply.Add(shares); err != nil {
		return LiquidityQuote{}, fmt.Errorf("amm: supply: %w", err)
	}
	return LiquidityQuote{Amount: amount, Shares: shares}, nil
}

// ApplyAdd records a quoted deposit.
func (x *Exchange) ApplyAdd(holder string, i int, q LiquidityQuote) {
	x.ensure()
	x.Reserves[i].Reserve += q.Amount
	x.Reserves[i].LPTotalSupply += q.Shares
	credit(x.LPShares, holder, i, q.Shares)
	x.Deposits[holder] += q.Amount
	x.Collateral += q.Amount
}

// QuoteRemove prices burning shares of outcome i's reserve. The holder gets
// floor(shares*reserve/supply) outcome tokens, so a reserve that has been
// drained by swaps pays out proportionally less.
func (x *Exchange) QuoteRemove(holder string, i int, shares ledger.Amount) (LiquidityQuote, error) {
	if err := x.outcome(i); err != nil {
		return LiquidityQuote{}, err
	}
	if shares <= 0 {
		return LiquidityQuote{}, fmt.Errorf("amm: remove %s shares: %w", shares, domain.ErrInvalidAmount)
	}
	if x.Shares(holder, i) < shares {
		return LiquidityQuote{}, fmt.Errorf("amm: holder has %s shares: %w", x.Shares(holder, i), domain.ErrInsufficientFunds)
	}
	r := x.Reserves[i]
	amount, err := r.Reserve.MulDiv(int64(shares), int64(r.LPTotalSupply))
	if err != nil {
		return LiquidityQuote{}, fmt.Errorf("amm: withdrawal: %w", err)
	}
	return LiquidityQuote{Amount: amount, Shares: shares}, nil
}

// ApplyRemove records a quoted withdrawal. The tokens land in the holder's
// balance; collateral stays escrowed until settlement.
func (x *Exchange) ApplyRemove(holder string, i int, q LiquidityQuote) {
	x.ensure()
	x.Reserves[i].Reserve -= q.Amount
	x.Reserves[i].LPTotalSupply -= q.Shares
	debit(x.LPShares, holder, i, q.Shares)
	if q.Amount > 0 {
		credit(x.Holdings, holder, i, q.Amount)
	}
}
