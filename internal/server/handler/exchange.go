package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/narrativebet/internal/amm"
	"github.com/alanyoungcy/narrativebet/internal/engine"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// ExchangeService is the outcome exchange surface of the engine.
type ExchangeService interface {
	MintPosition(ctx context.Context, marketID, holder string, outcome int, amount ledger.Amount) error
	Swap(ctx context.Context, req engine.SwapRequest) (amm.Quote, error)
	AddLiquidity(ctx context.Context, req engine.LiquidityRequest) (amm.LiquidityQuote, error)
	RemoveLiquidity(ctx context.Context, req engine.LiquidityRequest) (amm.LiquidityQuote, error)
	Position(ctx context.Context, marketID, holder string) (engine.Position, error)
}

var _ ExchangeService = (*engine.Engine)(nil)

// ExchangeHandler serves the outcome token exchange.
type ExchangeHandler struct {
	exchange ExchangeService
	logger   *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler.
func NewExchangeHandler(exchange ExchangeService, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{exchange: exchange, logger: logHandler(logger, "exchange")}
}

type positionRequest struct {
	Holder  string `json:"holder" validate:"required,bettor"`
	Outcome int    `json:"outcome" validate:"min=0"`
	Amount  string `json:"amount" validate:"required,amount"`
}

// Mint credits escrowed collateral as outcome tokens.
// POST /api/markets/{id}/mint
func (h *ExchangeHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	marketID, holder := pathParam(r, "id"), normalizeAddress(req.Holder)
	if err := h.exchange.MintPosition(r.Context(), marketID, holder, req.Outcome, mustAmount(req.Amount)); err != nil {
		writeDomainError(w, r, h.logger, "mint", err)
		return
	}
	h.writePosition(w, r, marketID, holder, http.StatusCreated)
}

type swapRequest struct {
	Holder       string `json:"holder" validate:"required,bettor"`
	From         int    `json:"from" validate:"min=0"`
	To           int    `json:"to" validate:"min=0"`
	AmountIn     string `json:"amount_in" validate:"required,amount"`
	MinAmountOut string `json:"min_amount_out" validate:"omitempty,amount"`
}

// Swap exchanges tokens of one outcome for another.
// POST /api/markets/{id}/swap
func (h *ExchangeHandler) Swap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	sr := engine.SwapRequest{
		MarketID: pathParam(r, "id"),
		Holder:   normalizeAddress(req.Holder),
		From:     req.From,
		To:       req.To,
		AmountIn: mustAmount(req.AmountIn),
	}
	if req.MinAmountOut != "" {
		sr.MinAmountOut = mustAmount(req.MinAmountOut)
	}
	q, err := h.exchange.Swap(r.Context(), sr)
	if err != nil {
		writeDomainError(w, r, h.logger, "swap", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// AddLiquidity deposits into one outcome's reserve.
// POST /api/markets/{id}/liquidity
func (h *ExchangeHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	h.liquidity(w, r, "add liquidity", h.exchange.AddLiquidity)
}

// RemoveLiquidity burns LP shares. Amount is a share count.
// DELETE /api/markets/{id}/liquidity
func (h *ExchangeHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	h.liquidity(w, r, "remove liquidity", h.exchange.RemoveLiquidity)
}

func (h *ExchangeHandler) liquidity(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, engine.LiquidityRequest) (amm.LiquidityQuote, error)) {
	var req positionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	q, err := fn(r.Context(), engine.LiquidityRequest{
		MarketID: pathParam(r, "id"),
		Holder:   normalizeAddress(req.Holder),
		Outcome:  req.Outcome,
		Amount:   mustAmount(req.Amount),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Position returns a holder's tokens and LP shares.
// GET /api/markets/{id}/positions/{holder}
func (h *ExchangeHandler) Position(w http.ResponseWriter, r *http.Request) {
	h.writePosition(w, r, pathParam(r, "id"), normalizeAddress(pathParam(r, "holder")), http.StatusOK)
}

func (h *ExchangeHandler) writePosition(w http.ResponseWriter, r *http.Request, marketID, holder string, status int) {
	p, err := h.exchange.Position(r.Context(), marketID, holder)
	if err != nil {
		writeDomainError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, status, p)
}
