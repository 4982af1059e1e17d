package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/engine"
)

// BetService is the part of the engine the bet handler needs.
type BetService interface {
	Market(id string) (*engine.View, error)
	PlaceBet(ctx context.Context, req engine.BetRequest) (domain.Bet, error)
	PlaceTemporalBet(ctx context.Context, req engine.TemporalBetRequest) (domain.Bet, error)
	CancelBet(ctx context.Context, marketID, betID, bettor string) (domain.Bet, error)
	BetOnConsensus(ctx context.Context, req engine.ConsensusRequest) (domain.ConsensusStake, error)
	Claim(ctx context.Context, marketID, bettor string, layer domain.ClaimLayer) (domain.Claimed, error)
}

var _ BetService = (*engine.Engine)(nil)

// IdempotencyHeader carries a client request id for bet placement.
const IdempotencyHeader = "Idempotency-Key"

// BetHandler serves bet placement, cancellation, and claims.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logHandler(logger, "bets")}
}

type placeBetRequest struct {
	Bettor    string         `json:"bettor" validate:"required,bettor"`
	Selection []int          `json:"selection" validate:"omitempty,max=32,dive,min=0"`
	Type      domain.BetType `json:"type" validate:"omitempty,oneof=SINGLE PARLAY TEASER ROUND_ROBIN PROGRESSIVE"`
	Yes       *bool          `json:"yes"`
	Amount    string         `json:"amount" validate:"required,amount"`
	RequestID string         `json:"request_id" validate:"omitempty,max=128"`
}

// Place stakes on a market. Temporal markets take a yes/no side; every
// other market takes a selection of outcome indexes.
// POST /api/markets/{id}/bets
func (h *BetHandler) Place(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	marketID := pathParam(r, "id")
	v, err := h.bets.Market(marketID)
	if err != nil {
		writeDomainError(w, r, h.logger, "place bet", err)
		return
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = r.Header.Get(IdempotencyHeader)
	}
	bettor := normalizeAddress(req.Bettor)
	amount := mustAmount(req.Amount)

	var bet domain.Bet
	if v.Market.Kind == domain.MarketKindTemporal {
		if req.Yes == nil {
			writeError(w, http.StatusBadRequest, "validation failed: yes: required for temporal markets")
			return
		}
		bet, err = h.bets.PlaceTemporalBet(r.Context(), engine.TemporalBetRequest{
			MarketID:  marketID,
			Bettor:    bettor,
			Yes:       *req.Yes,
			Amount:    amount,
			RequestID: requestID,
		})
	} else {
		betType := req.Type
		if betType == "" {
			betType = domain.BetSingle
		}
		bet, err = h.bets.PlaceBet(r.Context(), engine.BetRequest{
			MarketID:  marketID,
			Bettor:    bettor,
			Selection: req.Selection,
			Type:      betType,
			Amount:    amount,
			RequestID: requestID,
		})
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

type cancelBetRequest struct {
	Bettor string `json:"bettor" validate:"required,bettor"`
}

// Cancel withdraws an open bet before the market locks.
// DELETE /api/markets/{id}/bets/{betId}
func (h *BetHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelBetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	bet, err := h.bets.CancelBet(r.Context(), pathParam(r, "id"), pathParam(r, "betId"), normalizeAddress(req.Bettor))
	if err != nil {
		writeDomainError(w, r, h.logger, "cancel bet", err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

type consensusBetRequest struct {
	Bettor            string `json:"bettor" validate:"required,bettor"`
	PredictCrowdRight *bool  `json:"predict_crowd_right" validate:"required"`
	Amount            string `json:"amount" validate:"required,amount"`
}

// Consensus stakes on whether the crowd favourite will win.
// POST /api/markets/{id}/consensus
func (h *BetHandler) Consensus(w http.ResponseWriter, r *http.Request) {
	var req consensusBetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	stake, err := h.bets.BetOnConsensus(r.Context(), engine.ConsensusRequest{
		MarketID:          pathParam(r, "id"),
		Bettor:            normalizeAddress(req.Bettor),
		PredictCrowdRight: *req.PredictCrowdRight,
		Amount:            mustAmount(req.Amount),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "consensus bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, stake)
}

type claimRequest struct {
	Bettor string `json:"bettor" validate:"required,bettor"`
}

// Claim pays out a bettor's market winnings or refund.
// POST /api/markets/{id}/claim
func (h *BetHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.claim(w, r, domain.ClaimLayerMarket)
}

// ClaimConsensus pays out a bettor's consensus layer winnings.
// POST /api/markets/{id}/consensus/claim
func (h *BetHandler) ClaimConsensus(w http.ResponseWriter, r *http.Request) {
	h.claim(w, r, domain.ClaimLayerConsensus)
}

func (h *BetHandler) claim(w http.ResponseWriter, r *http.Request, layer domain.ClaimLayer) {
	var req claimRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	c, err := h.bets.Claim(r.Context(), pathParam(r, "id"), normalizeAddress(req.Bettor), layer)
	if err != nil {
		writeDomainError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
