package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/engine"
)

// ProfileService reads psychic profiles.
type ProfileService interface {
	Profile(ctx context.Context, address string) (domain.PsychicProfile, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.PsychicProfile, error)
}

var _ ProfileService = (*engine.Engine)(nil)

// ProfileHandler serves psychic profiles and the leaderboard.
type ProfileHandler struct {
	profiles ProfileService
	logger   *slog.Logger
}

// NewProfileHandler creates a ProfileHandler.
func NewProfileHandler(profiles ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logHandler(logger, "profiles")}
}

// Get returns a profile. Unknown addresses get a fresh starting profile.
// GET /api/profiles/{address}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	addr := normalizeAddress(pathParam(r, "address"))
	if err := validate.Var(addr, "required,bettor"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	p, err := h.profiles.Profile(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type leaderboardResponse struct {
	Profiles []domain.PsychicProfile `json:"profiles"`
}

// Leaderboard returns the highest-scoring profiles.
// GET /api/profiles?limit=10
func (h *ProfileHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	ps, err := h.profiles.Leaderboard(r.Context(), opts.Limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "leaderboard", err)
		return
	}
	if ps == nil {
		ps = []domain.PsychicProfile{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Profiles: ps})
}
