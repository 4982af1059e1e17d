package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/amm"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/engine"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// MarketService is the part of the engine the market handler needs.
type MarketService interface {
	CreateMarket(ctx context.Context, spec engine.MarketSpec) (domain.Market, error)
	CreateTemporalMarket(ctx context.Context, spec engine.TemporalSpec) (domain.Market, error)
	OpenMarket(ctx context.Context, id string) (*engine.View, error)
	LockMarket(ctx context.Context, id string) (*engine.View, error)
	VoidMarket(ctx context.Context, id, reason string) (domain.Settlement, error)
	AdvanceChapter(ctx context.Context, chapter int) ([]string, error)
	Chapter() int
	Market(id string) (*engine.View, error)
	Markets() []*engine.View
	Odds(ctx context.Context, id string) (domain.OddsSnapshot, error)
	CombinedOdds(id string, selection []int, betType domain.BetType) (engine.CombinedOdds, error)
	QuoteSwap(id string, from, to int, amountIn ledger.Amount) (amm.Quote, error)
	Audit(ctx context.Context, id string) (engine.AuditReport, error)
}

var _ MarketService = (*engine.Engine)(nil)

// MarketHandler serves market lifecycle and read endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logHandler(logger, "markets")}
}

type feesRequest struct {
	WinnerBps   int64 `json:"winner_bps" validate:"min=0,max=10000"`
	TreasuryBps int64 `json:"treasury_bps" validate:"min=0,max=10000"`
	DevBps      int64 `json:"dev_bps" validate:"min=0,max=10000"`
}

type createMarketRequest struct {
	ID         string            `json:"id" validate:"omitempty,max=64"`
	Kind       domain.MarketKind `json:"kind" validate:"omitempty,oneof=PARIMUTUEL CONSENSUS"`
	Question   string            `json:"question" validate:"required,max=500"`
	Outcomes   []string          `json:"outcomes" validate:"required,min=2,max=32,dive,required,max=200"`
	DeadlineAt time.Time         `json:"deadline_at" validate:"required"`
	MinBet     string            `json:"min_bet" validate:"omitempty,amount"`
	MaxBet     string            `json:"max_bet" validate:"omitempty,amount"`
	Fees       *feesRequest      `json:"fees"`
	AMMFeeBps  int64             `json:"amm_fee_bps" validate:"min=0,max=1000"`
}

// Create defines a parimutuel or consensus market in PENDING.
// POST /api/markets
func (h *MarketHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	spec := engine.MarketSpec{
		ID:         req.ID,
		Kind:       req.Kind,
		Question:   req.Question,
		Outcomes:   req.Outcomes,
		DeadlineAt: req.DeadlineAt,
		AMMFeeBps:  req.AMMFeeBps,
	}
	if spec.Kind == "" {
		spec.Kind = domain.MarketKindParimutuel
	}
	if req.MinBet != "" {
		spec.MinBet = mustAmount(req.MinBet)
	}
	if req.MaxBet != "" {
		spec.MaxBet = mustAmount(req.MaxBet)
	}
	if req.Fees != nil {
		spec.Fees = &ledger.FeeSchedule{
			WinnerBps:   req.Fees.WinnerBps,
			TreasuryBps: req.Fees.TreasuryBps,
			DevBps:      req.Fees.DevBps,
		}
	}
	m, err := h.markets.CreateMarket(r.Context(), spec)
	if err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type createTemporalRequest struct {
	ID             string    `json:"id" validate:"omitempty,max=64"`
	Question       string    `json:"question" validate:"required,max=500"`
	OpenChapter    int       `json:"open_chapter" validate:"min=0"`
	ResolveChapter int       `json:"resolve_chapter" validate:"gtfield=OpenChapter"`
	Criteria       string    `json:"criteria" validate:"required,max=2000"`
	ResolutionType string    `json:"resolution_type" validate:"omitempty,max=64"`
	DeadlineAt     time.Time `json:"deadline_at"`
	MinBet         string    `json:"min_bet" validate:"omitempty,amount"`
	MaxBet         string    `json:"max_bet" validate:"omitempty,amount"`
}

// CreateTemporal defines a yes/no market on a future chapter.
// POST /api/temporal
func (h *MarketHandler) CreateTemporal(w http.ResponseWriter, r *http.Request) {
	var req createTemporalRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	spec := engine.TemporalSpec{
		ID:             req.ID,
		Question:       req.Question,
		OpenChapter:    req.OpenChapter,
		ResolveChapter: req.ResolveChapter,
		Criteria:       req.Criteria,
		ResolutionType: req.ResolutionType,
		DeadlineAt:     req.DeadlineAt,
	}
	if req.MinBet != "" {
		spec.MinBet = mustAmount(req.MinBet)
	}
	if req.MaxBet != "" {
		spec.MaxBet = mustAmount(req.MaxBet)
	}
	m, err := h.markets.CreateTemporalMarket(r.Context(), spec)
	if err != nil {
		writeDomainError(w, r, h.logger, "create temporal market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Open moves a market from PENDING to OPEN.
// POST /api/markets/{id}/open
func (h *MarketHandler) Open(w http.ResponseWriter, r *http.Request) {
	v, err := h.markets.OpenMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "open market", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Lock stops betting on a market.
// POST /api/markets/{id}/lock
func (h *MarketHandler) Lock(w http.ResponseWriter, r *http.Request) {
	v, err := h.markets.LockMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "lock market", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Void cancels an unresolved market and refunds every stake.
// POST /api/markets/{id}/void
func (h *MarketHandler) Void(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	s, err := h.markets.VoidMarket(r.Context(), pathParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, r, h.logger, "void market", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type chapterRequest struct {
	Chapter int `json:"chapter" validate:"min=1"`
}

type chapterResponse struct {
	Chapter int      `json:"chapter"`
	Moved   []string `json:"moved"`
}

// AdvanceChapter moves the story clock forward.
// POST /api/story/chapter
func (h *MarketHandler) AdvanceChapter(w http.ResponseWriter, r *http.Request) {
	var req chapterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	moved, err := h.markets.AdvanceChapter(r.Context(), req.Chapter)
	if err != nil {
		writeDomainError(w, r, h.logger, "advance chapter", err)
		return
	}
	if moved == nil {
		moved = []string{}
	}
	writeJSON(w, http.StatusOK, chapterResponse{Chapter: h.markets.Chapter(), Moved: moved})
}

type listMarketsResponse struct {
	Markets []*engine.View `json:"markets"`
	Chapter int            `json:"chapter"`
}

// List returns every market, optionally filtered by status.
// GET /api/markets?status=OPEN
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.MarketStatus(r.URL.Query().Get("status"))
	out := []*engine.View{}
	for _, v := range h.markets.Markets() {
		if status == "" || v.Market.Status == status {
			out = append(out, v)
		}
	}
	opts := parseListOpts(r)
	if opts.Offset >= len(out) {
		out = []*engine.View{}
	} else {
		out = out[opts.Offset:]
		if len(out) > opts.Limit {
			out = out[:opts.Limit]
		}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: out, Chapter: h.markets.Chapter()})
}

// Get returns the latest committed view of a market.
// GET /api/markets/{id}
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.markets.Market(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Odds returns the viewer-facing odds of a market. With a selection it
// returns the combined multiplier of those legs instead.
// GET /api/markets/{id}/odds
// GET /api/markets/{id}/odds?selection=0,2&type=PARLAY
func (h *MarketHandler) Odds(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("selection") {
		h.combinedOdds(w, r)
		return
	}
	snap, err := h.markets.Odds(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get odds", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *MarketHandler) combinedOdds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	selection, err := parseSelection(q.Get("selection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	betType := domain.BetType(strings.ToUpper(q.Get("type")))
	if betType == "" {
		betType = domain.BetParlay
		if len(selection) == 1 {
			betType = domain.BetSingle
		}
	}
	odds, err := h.markets.CombinedOdds(pathParam(r, "id"), selection, betType)
	if err != nil {
		writeDomainError(w, r, h.logger, "combined odds", err)
		return
	}
	writeJSON(w, http.StatusOK, odds)
}

// Quote prices a swap without executing it.
// GET /api/markets/{id}/quote?from=0&to=1&amount=100
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	from, err := queryInt(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := queryInt(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := ledger.ParseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	q, err := h.markets.QuoteSwap(pathParam(r, "id"), from, to, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "quote swap", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Consensus returns the consensus layer of a market.
// GET /api/markets/{id}/consensus
func (h *MarketHandler) Consensus(w http.ResponseWriter, r *http.Request) {
	v, err := h.markets.Market(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get consensus", err)
		return
	}
	if v.Consensus == nil {
		writeError(w, http.StatusNotFound, "market has no consensus layer")
		return
	}
	writeJSON(w, http.StatusOK, v.Consensus)
}

// Audit replays a market's event log against its live state.
// GET /api/markets/{id}/audit
func (h *MarketHandler) Audit(w http.ResponseWriter, r *http.Request) {
	rep, err := h.markets.Audit(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "audit market", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
