package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/narrativebet/internal/suspicion"
)

// RoundService runs hidden-role assignment rounds.
type RoundService interface {
	Create(ctx context.Context, participants []string) (suspicion.Round, error)
	Get(id string) (suspicion.Round, error)
	Reveal(ctx context.Context, id string) ([]suspicion.Revealed, error)
}

var _ RoundService = (*suspicion.Registry)(nil)

// SuspicionHandler serves role assignment rounds.
type SuspicionHandler struct {
	rounds RoundService
	logger *slog.Logger
}

// NewSuspicionHandler creates a SuspicionHandler.
func NewSuspicionHandler(rounds RoundService, logger *slog.Logger) *SuspicionHandler {
	return &SuspicionHandler{rounds: rounds, logger: logHandler(logger, "suspicion")}
}

type createRoundRequest struct {
	Participants []string `json:"participants" validate:"required,min=1,max=10000,unique,dive,required,bettor"`
}

// CreateRound assigns hidden roles and publishes the commitments.
// POST /api/suspicion/rounds
func (h *SuspicionHandler) CreateRound(w http.ResponseWriter, r *http.Request) {
	var req createRoundRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	participants := make([]string, len(req.Participants))
	for i, p := range req.Participants {
		participants[i] = normalizeAddress(p)
	}
	round, err := h.rounds.Create(r.Context(), participants)
	if err != nil {
		writeDomainError(w, r, h.logger, "create round", err)
		return
	}
	writeJSON(w, http.StatusCreated, round)
}

// GetRound returns a round's public commitments.
// GET /api/suspicion/rounds/{id}
func (h *SuspicionHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.rounds.Get(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get round", err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

type revealResponse struct {
	Round       suspicion.Round      `json:"round"`
	Assignments []suspicion.Revealed `json:"assignments"`
}

// Reveal opens every assignment with its Merkle proof.
// POST /api/suspicion/rounds/{id}/reveal
func (h *SuspicionHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	out, err := h.rounds.Reveal(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "reveal round", err)
		return
	}
	round, err := h.rounds.Get(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "reveal round", err)
		return
	}
	writeJSON(w, http.StatusOK, revealResponse{Round: round, Assignments: out})
}
