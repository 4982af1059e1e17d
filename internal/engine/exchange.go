package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/narrativebet/internal/amm"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// SwapRequest exchanges AmountIn tokens of From for tokens of To. The swap
// fails with SlippageExceeded when it would pay less than MinAmountOut.
type SwapRequest struct {
	MarketID     string
	Holder       string
	From         int
	To           int
	AmountIn     ledger.Amount
	MinAmountOut ledger.Amount
}

// LiquidityRequest adds Amount to, or burns Amount shares of, one outcome's
// reserve.
type LiquidityRequest struct {
	MarketID string
	Holder   string
	Outcome  int
	Amount   ledger.Amount
}

// exchangeOp runs fn under m's lock against an open market's exchange.
func (e *Engine) exchangeOp(ctx context.Context, marketID, holder string, fn func(m *market, x *amm.Exchange) error) error {
	if err := checkBettor(holder); err != nil {
		return err
	}
	m, err := e.market(ctx, marketID)
	if err != nil {
		return err
	}
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return err
	}
	defer unlock()

	s := m.state
	if s.Exchange == nil {
		return errNoExchange(marketID)
	}
	if err := s.Market.CheckOpen(e.now()); err != nil {
		return fmt.Errorf("engine: exchange on %s: %w", marketID, err)
	}
	return fn(m, s.Exchange)
}

// MintPosition credits escrowed collateral 1:1 as outcome tokens.
func (e *Engine) MintPosition(ctx context.Context, marketID, holder string, outcome int, amount ledger.Amount) error {
	return e.exchangeOp(ctx, marketID, holder, func(m *market, x *amm.Exchange) error {
		if err := x.CheckMint(outcome, amount); err != nil {
			return err
		}
		_, err := e.commit(ctx, m, domain.PositionMinted{Holder: holder, Outcome: outcome, Amount: amount})
		return err
	})
}

// Swap executes a swap against the pairwise constant product. A rejected
// swap leaves the market untouched.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) (amm.Quote, error) {
	var q amm.Quote
	err := e.exchangeOp(ctx, req.MarketID, req.Holder, func(m *market, x *amm.Exchange) error {
		var err error
		q, err = x.CheckSwap(req.Holder, req.From, req.To, req.AmountIn, req.MinAmountOut)
		if err != nil {
			return err
		}
		_, err = e.commit(ctx, m, domain.Swapped{
			Holder:    req.Holder,
			From:      q.From,
			To:        q.To,
			AmountIn:  q.AmountIn,
			AmountOut: q.AmountOut,
			Fee:       q.Fee,
		})
		return err
	})
	if err != nil {
		return amm.Quote{}, err
	}
	e.logger.InfoContext(ctx, "engine: swap executed",
		slog.String("market_id", req.MarketID),
		slog.Int("from", q.From),
		slog.Int("to", q.To),
		slog.String("in", q.AmountIn.String()),
		slog.String("out", q.AmountOut.String()),
		slog.Int64("impact_bps", q.PriceImpactBps),
	)
	return q, nil
}

// AddLiquidity deposits collateral into one outcome's reserve and mints LP
// shares.
func (e *Engine) AddLiquidity(ctx context.Context, req LiquidityRequest) (amm.LiquidityQuote, error) {
	var q amm.LiquidityQuote
	err := e.exchangeOp(ctx, req.MarketID, req.Holder, func(m *market, x *amm.Exchange) error {
		var err error
		if q, err = x.QuoteAdd(req.Outcome, req.Amount); err != nil {
			return err
		}
		_, err = e.commit(ctx, m, domain.LiquidityAdded{Holder: req.Holder, Outcome: req.Outcome, Amount: q.Amount, Shares: q.Shares})
		return err
	})
	if err != nil {
		return amm.LiquidityQuote{}, err
	}
	return q, nil
}

// RemoveLiquidity burns LP shares for a proportional slice of the reserve,
// paid as outcome tokens.
func (e *Engine) RemoveLiquidity(ctx context.Context, req LiquidityRequest) (amm.LiquidityQuote, error) {
	var q amm.LiquidityQuote
	err := e.exchangeOp(ctx, req.MarketID, req.Holder, func(m *market, x *amm.Exchange) error {
		var err error
		if q, err = x.QuoteRemove(req.Holder, req.Outcome, req.Amount); err != nil {
			return err
		}
		_, err = e.commit(ctx, m, domain.LiquidityRemoved{Holder: req.Holder, Outcome: req.Outcome, Shares: q.Shares, Amount: q.Amount})
		return err
	})
	if err != nil {
		return amm.LiquidityQuote{}, err
	}
	return q, nil
}

// Position is a holder's exchange balances on one market.
type Position struct {
	Holder    string                `json:"holder"`
	Tokens    map[int]ledger.Amount `json:"tokens"`
	Liquidity []domain.LPPosition   `json:"liquidity"`
}

// Position returns holder's tokens and LP shares. It takes the market lock
// because balances are not part of the published view.
func (e *Engine) Position(ctx context.Context, marketID, holder string) (Position, error) {
	m, err := e.market(ctx, marketID)
	if err != nil {
		return Position{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := e.catchUp(ctx, m); err != nil {
		return Position{}, err
	}
	x := m.state.Exchange
	if x == nil {
		return Position{}, errNoExchange(marketID)
	}
	p := Position{Holder: holder, Tokens: map[int]ledger.Amount{}, Liquidity: []domain.LPPosition{}}
	for i := range x.Reserves {
		if b := x.Balance(holder, i); b > 0 {
			p.Tokens[i] = b
		}
		if sh := x.Shares(holder, i); sh > 0 {
			p.Liquidity = append(p.Liquidity, domain.LPPosition{Holder: holder, OutcomeIndex: i, ShareTokens: sh})
		}
	}
	return p, nil
}
