package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/engine"
	"github.com/alanyoungcy/narrativebet/internal/oracle"
)

// SourceCallback tags verdicts pushed by the oracle over HTTP.
const SourceCallback = "oracle_callback"

// VerdictService accepts verdicts for locked markets.
type VerdictService interface {
	Market(id string) (*engine.View, error)
	SubmitVerdict(ctx context.Context, id string, v domain.OracleVerdict, source string) (engine.Resolution, error)
}

var _ VerdictService = (*engine.Engine)(nil)

// OracleHandler receives signed verdict callbacks. Signature checks happen
// in middleware.OracleAuth before the handler runs.
type OracleHandler struct {
	verdicts VerdictService
	logger   *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(verdicts VerdictService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{verdicts: verdicts, logger: logHandler(logger, "oracle")}
}

// Resolve applies an oracle verdict. The body has the oracle's response
// shape: {"outcome": true|false|index, "confidence": 0.9, "reasoning": ...}.
// A low-confidence verdict is accepted and opens a dispute.
// POST /api/markets/{id}/resolve
func (h *OracleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	v, err := h.verdicts.Market(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve", err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	verdict, err := oracle.ParseVerdict(body, len(v.Market.Outcomes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.verdicts.SubmitVerdict(r.Context(), id, verdict, SourceCallback)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: verdict accepted",
		slog.String("market_id", id),
		slog.String("status", string(res.Status)),
		slog.Int64("confidence_bps", verdict.ConfidenceBps),
	)
	writeJSON(w, http.StatusOK, res)
}
