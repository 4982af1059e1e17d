package amm

import (
	"fmt"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// Price impact thresholds in basis points. They only label a quote.
const (
	WarnImpactBps   int64 = 200
	StrongImpactBps int64 = 500
)

// ImpactWarning labels how far a swap moves the price.
type ImpactWarning string

const (
	ImpactNone   ImpactWarning = ""
	ImpactWarn   ImpactWarning = "warn"
	ImpactStrong ImpactWarning = "strong"
)

// Quote is the priced result of a swap before it is applied.
type Quote struct {
	From           int           `json:"from"`
	To             int           `json:"to"`
	AmountIn       ledger.Amount `json:"amount_in"`
	AmountInNet    ledger.Amount `json:"amount_in_net"`
	Fee            ledger.Amount `json:"fee"`
	AmountOut      ledger.Amount `json:"amount_out"`
	PriceImpactBps int64         `json:"price_impact_bps"`
	// SpotPriceBps is the marginal rate of to per unit of from before the
	// swap; AmountOut falls short of it by the fee and the price impact.
	SpotPriceBps int64         `json:"spot_price_bps"`
	Warning      ImpactWarning `json:"warning,omitempty"`
}

// QuoteSwap prices swapping amountIn tokens of from into to against the
// pair's constant product. The new reserve of to is rounded up so the
// product never decreases.
func (x *Exchange) QuoteSwap(from, to int, amountIn ledger.Amount) (Quote, error) {
	if err := x.outcome(from); err != nil {
		return Quote{}, err
	}
	if err := x.outcome(to); err != nil {
		return Quote{}, err
	}
	if from == to {
		return Quote{}, fmt.Errorf("amm: swap %d into itself: %w", from, domain.ErrIdenticalOutcome)
	}
	if amountIn <= 0 {
		return Quote{}, fmt.Errorf("amm: swap %s: %w", amountIn, domain.ErrInvalidAmount)
	}
	rA, rB := x.Reserves[from].Reserve, x.Reserves[to].Reserve
	if rA == 0 || rB == 0 {
		return Quote{}, fmt.Errorf("amm: pair %d/%d has an empty reserve: %w", from, to, domain.ErrInsufficientLiquid)
	}

	net, err := amountIn.MulDiv(ledger.BpsDenominator-x.FeeBps, ledger.BpsDenominator)
	if err != nil {
		return Quote{}, fmt.Errorf("amm: net input: %w", err)
	}
	denom, err := rA.Add(net)
	if err != nil {
		return Quote{}, fmt.Errorf("amm: reserve: %w", err)
	}
	if _, err := rA.Add(amountIn); err != nil {
		return Quote{}, fmt.Errorf("amm: reserve: %w", err)
	}
	newB, err := ledger.MulDivCeil(int64(rA), int64(rB), int64(denom))
	if err != nil {
		return Quote{}, fmt.Errorf("amm: invariant: %w", err)
	}
	out := rB - ledger.Amount(newB)
	if out <= 0 {
		return Quote{}, fmt.Errorf("amm: swap yields nothing: %w", domain.ErrInsufficientLiquid)
	}
	impact, err := ledger.MulDiv(int64(amountIn), ledger.BpsDenominator, int64(rA))
	if err != nil {
		return Quote{}, fmt.Errorf("amm: price impact: %w", err)
	}

	q := Quote{
		From:           from,
		To:             to,
		AmountIn:       amountIn,
		AmountInNet:    net,
		Fee:            amountIn - net,
		AmountOut:      out,
		PriceImpactBps: impact,
	}
	if spot, ok := x.SpotPriceBps(from, to); ok {
		q.SpotPriceBps = spot
	}
	switch {
	case impact > StrongImpactBps:
		q.Warning = ImpactStrong
	case impact > WarnImpactBps:
		q.Warning = ImpactWarn
	}
	return q, nil
}

// CheckSwap prices a swap for holder and enforces balance and slippage. It
// never mutates the exchange.
func (x *Exchange) CheckSwap(holder string, from, to int, amountIn, minOut ledger.Amount) (Quote, error) {
	q, err := x.QuoteSwap(from, to, amountIn)
	if err != nil {
		return Quote{}, err
	}
	if bal := x.Balance(holder, from); bal < amountIn {
		return Quote{}, fmt.Errorf("amm: holder has %s of outcome %d: %w", bal, from, domain.ErrInsufficientFunds)
	}
	if q.AmountOut < minOut {
		return Quote{}, fmt.Errorf("amm: out %s below minimum %s: %w", q.AmountOut, minOut, domain.ErrSlippageExceeded)
	}
	return q, nil
}

// ApplySwap records a checked swap. The whole input, fee included, joins
// the from reserve.
func (x *Exchange) ApplySwap(holder string, q Quote) {
	x.ensure()
	x.Reserves[q.From].Reserve += q.AmountIn
	x.Reserves[q.To].Reserve -= q.AmountOut
	debit(x.Holdings, holder, q.From, q.AmountIn)
	credit(x.Holdings, holder, q.To, q.AmountOut)
}

// SpotPriceBps is the marginal price of outcome i in terms of j.
func (x *Exchange) SpotPriceBps(i, j int) (int64, bool) {
	if x.outcome(i) != nil || x.outcome(j) != nil {
		return 0, false
	}
	ri, rj := x.Reserves[i].Reserve, x.Reserves[j].Reserve
	if ri == 0 {
		return 0, false
	}
	v, err := ledger.MulDiv(int64(rj), ledger.BpsDenominator, int64(ri))
	if err != nil {
		return 0, false
	}
	return v, true
}
