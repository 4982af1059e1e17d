package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/narrativebet/internal/engine"
)

// DisputeService is the dispute surface of the engine.
type DisputeService interface {
	CastVote(ctx context.Context, id, voter string, outcome int) (engine.VoteResult, error)
	CloseDispute(ctx context.Context, id string, outcome *int) (engine.Resolution, error)
}

var _ DisputeService = (*engine.Engine)(nil)

// DisputeHandler serves dispute votes and operator closes.
type DisputeHandler struct {
	disputes DisputeService
	logger   *slog.Logger
}

// NewDisputeHandler creates a DisputeHandler.
func NewDisputeHandler(disputes DisputeService, logger *slog.Logger) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, logger: logHandler(logger, "disputes")}
}

type voteRequest struct {
	Voter   string `json:"voter" validate:"required,bettor"`
	Outcome *int   `json:"outcome" validate:"required,min=0"`
}

// Vote casts a weighted vote on a disputed market.
// POST /api/markets/{id}/dispute/votes
func (h *DisputeHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.disputes.CastVote(r.Context(), pathParam(r, "id"), normalizeAddress(req.Voter), *req.Outcome)
	if err != nil {
		writeDomainError(w, r, h.logger, "cast vote", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type closeDisputeRequest struct {
	Outcome *int `json:"outcome" validate:"omitempty,min=0"`
}

// Close ends a dispute. Without an outcome the vote decides, or the market
// is voided.
// POST /api/markets/{id}/dispute/close
func (h *DisputeHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeDisputeRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.disputes.CloseDispute(r.Context(), pathParam(r, "id"), req.Outcome)
	if err != nil {
		writeDomainError(w, r, h.logger, "close dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
