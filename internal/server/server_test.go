package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/crypto"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/engine"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/server/handler"
	"github.com/alanyoungcy/narrativebet/internal/store/memory"
	"github.com/alanyoungcy/narrativebet/internal/suspicion"
)

const (
	operatorKey = "op-secret"
	bettorKey   = "bettor-secret"
)

var oracleAuth = &crypto.HMACAuth{Key: "oracle-1", Secret: "oracle-secret"}

type testAPI struct {
	srv  *httptest.Server
	eng  *engine.Engine
	deny *rejectingLimiter
}

// rejectingLimiter allows everything until deny is set.
type rejectingLimiter struct{ deny bool }

func (l *rejectingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return !l.deny, nil
}

func (l *rejectingLimiter) Wait(context.Context, string) error { return nil }

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	audit := memory.NewAuditStore()
	eng := engine.New(engine.DefaultConfig(), engine.Deps{
		Events:    memory.NewEventLog(),
		Snapshots: memory.NewSnapshotStore(),
		Profiles:  memory.NewProfileStore(),
		Audit:     audit,
		Claims:    memory.NewClaimGuard(),
		Bus:       memory.NewEventBus(),
		Odds:      memory.NewOddsCache(),
	}, logger)
	require.NoError(t, eng.Restore(context.Background()))

	limiter := &rejectingLimiter{}
	cfg := Config{
		OperatorKey: operatorKey,
		BettorKey:   bettorKey,
		Oracle:      oracleAuth,
		RateLimiter: limiter,
		RateLimit:   100,
		RateWindow:  time.Second,
	}
	h := Handlers{
		Health:    handler.NewHealthHandler(nil, eng.Chapter, logger),
		Markets:   handler.NewMarketHandler(eng, logger),
		Bets:      handler.NewBetHandler(eng, logger),
		Exchange:  handler.NewExchangeHandler(eng, logger),
		Disputes:  handler.NewDisputeHandler(eng, logger),
		Oracle:    handler.NewOracleHandler(eng, logger),
		Profiles:  handler.NewProfileHandler(eng, logger),
		Suspicion: handler.NewSuspicionHandler(suspicion.NewRegistry(suspicion.DefaultRoleConfig(), "", audit, logger), logger),
		Audit:     handler.NewAuditHandler(audit, logger),
	}
	srv := httptest.NewServer(Routes(cfg, h, nil, logger))
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, eng: eng, deny: limiter}
}

func (a *testAPI) do(t *testing.T, method, path, key string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return send(t, req)
}

func (a *testAPI) resolve(t *testing.T, id string, body string, signedAt time.Time) (int, map[string]any) {
	t.Helper()
	path := "/api/markets/" + id + "/resolve"
	req, err := http.NewRequest(http.MethodPost, a.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range oracleAuth.HeadersAt(http.MethodPost, path, body, signedAt.Unix()) {
		req.Header.Set(k, v)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (a *testAPI) openMarket(t *testing.T, outcomes ...string) string {
	t.Helper()
	status, m := a.do(t, http.MethodPost, "/api/markets", operatorKey, map[string]any{
		"question":    "Who wrote the letter?",
		"outcomes":    outcomes,
		"deadline_at": time.Now().Add(24 * time.Hour).UTC(),
	})
	require.Equal(t, http.StatusCreated, status, m)
	id := m["id"].(string)
	status, _ = a.do(t, http.MethodPost, "/api/markets/"+id+"/open", operatorKey, nil)
	require.Equal(t, http.StatusOK, status)
	return id
}

func amountOf(t *testing.T, v any) ledger.Amount {
	t.Helper()
	f, ok := v.(float64)
	require.True(t, ok, "amount %v", v)
	return ledger.Amount(int64(f))
}

func TestOperatorRoutesRequireKey(t *testing.T) {
	api := newTestAPI(t)
	body := map[string]any{
		"question":    "Q?",
		"outcomes":    []string{"A", "B"},
		"deadline_at": time.Now().Add(time.Hour).UTC(),
	}

	status, _ := api.do(t, http.MethodPost, "/api/markets", "", body)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = api.do(t, http.MethodPost, "/api/markets", bettorKey, body)
	assert.Equal(t, http.StatusUnauthorized, status, "bettor key is not an operator key")

	status, _ = api.do(t, http.MethodPost, "/api/markets", operatorKey, body)
	assert.Equal(t, http.StatusCreated, status)

	status, out := api.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"])
}

func TestBetResolveClaimOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	id := api.openMarket(t, "A", "B")
	betsPath := "/api/markets/" + id + "/bets"

	tests := []struct {
		name string
		key  string
		body map[string]any
		want int
	}{
		{"no key", "", map[string]any{"bettor": "alice", "selection": []int{0}, "amount": "100"}, http.StatusUnauthorized},
		{"bad amount", bettorKey, map[string]any{"bettor": "alice", "selection": []int{0}, "amount": "1.0000001"}, http.StatusBadRequest},
		{"negative amount", bettorKey, map[string]any{"bettor": "alice", "selection": []int{0}, "amount": "-5"}, http.StatusBadRequest},
		{"bad bettor", bettorKey, map[string]any{"bettor": "al ice", "selection": []int{0}, "amount": "5"}, http.StatusBadRequest},
		{"unknown field", bettorKey, map[string]any{"bettor": "alice", "selection": []int{0}, "amount": "5", "odds": 2}, http.StatusBadRequest},
		{"outcome out of range", bettorKey, map[string]any{"bettor": "alice", "selection": []int{7}, "amount": "5"}, http.StatusBadRequest},
		{"below minimum", bettorKey, map[string]any{"bettor": "alice", "selection": []int{0}, "amount": "0.5"}, http.StatusBadRequest},
		{"alice", bettorKey, map[string]any{"bettor": "alice", "selection": []int{0}, "amount": "100"}, http.StatusCreated},
		{"bob via operator key", operatorKey, map[string]any{"bettor": "bob", "selection": []int{1}, "amount": "300"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := api.do(t, http.MethodPost, betsPath, tt.key, tt.body)
			assert.Equal(t, tt.want, status, out)
		})
	}

	status, odds := api.do(t, http.MethodGet, "/api/markets/"+id+"/odds", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, ledger.Units(400), amountOf(t, odds["total_pool"]))

	status, _ = api.do(t, http.MethodPost, "/api/markets/"+id+"/lock", operatorKey, nil)
	require.Equal(t, http.StatusOK, status)
	status, out := api.do(t, http.MethodPost, betsPath, bettorKey, map[string]any{"bettor": "carol", "selection": []int{0}, "amount": "5"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "state", out["class"])

	verdict := `{"outcome":0,"confidence":0.95,"reasoning":"chapter 3"}`
	status, _ = api.resolve(t, id, verdict, time.Now().Add(-time.Hour))
	assert.Equal(t, http.StatusUnauthorized, status, "stale signature")

	req, err := http.NewRequest(http.MethodPost, api.srv.URL+"/api/markets/"+id+"/resolve", strings.NewReader(verdict))
	require.NoError(t, err)
	for k, v := range oracleAuth.HeadersAt(http.MethodPost, "/api/markets/"+id+"/resolve", `{"outcome":1}`, time.Now().Unix()) {
		req.Header.Set(k, v)
	}
	status, _ = send(t, req)
	assert.Equal(t, http.StatusUnauthorized, status, "signature over a different body")

	status, res := api.resolve(t, id, verdict, time.Now())
	require.Equal(t, http.StatusOK, status, res)
	assert.Equal(t, string(domain.MarketStatusResolved), res["status"])

	status, claim := api.do(t, http.MethodPost, "/api/markets/"+id+"/claim", bettorKey, map[string]any{"bettor": "alice"})
	require.Equal(t, http.StatusOK, status, claim)
	assert.Equal(t, ledger.Units(340), amountOf(t, claim["amount"]))

	status, _ = api.do(t, http.MethodPost, "/api/markets/"+id+"/claim", bettorKey, map[string]any{"bettor": "alice"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = api.do(t, http.MethodPost, "/api/markets/"+id+"/claim", bettorKey, map[string]any{"bettor": "bob"})
	assert.Equal(t, http.StatusConflict, status, "losers have nothing to claim")

	status, rep := api.do(t, http.MethodGet, "/api/markets/"+id+"/audit", operatorKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, rep["match"])

	status, entries := api.do(t, http.MethodGet, "/api/audit?market_id="+id+"&limit=100", operatorKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, entries["entries"])
}

func TestCombinedOddsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	id := api.openMarket(t, "A", "B", "C")
	for _, b := range []map[string]any{
		{"bettor": "alice", "selection": []int{0}, "amount": "100"},
		{"bettor": "bob", "selection": []int{1}, "amount": "300"},
	} {
		status, out := api.do(t, http.MethodPost, "/api/markets/"+id+"/bets", bettorKey, b)
		require.Equal(t, http.StatusCreated, status, out)
	}

	tests := []struct {
		name    string
		query   string
		status  int
		typ     string
		bps     any
		display string
	}{
		{"parlay by default", "selection=0,1", http.StatusOK, "PARLAY", float64(53_332), "5.33x"},
		{"teaser factor", "selection=0,1&type=teaser", http.StatusOK, "TEASER", float64(26_666), "2.67x"},
		{"single leg", "selection=1", http.StatusOK, "SINGLE", float64(13_333), "1.33x"},
		{"unstaked leg", "selection=0,2&type=PARLAY", http.StatusOK, "PARLAY", nil, "—"},
		{"repeated leg", "selection=0,0", http.StatusBadRequest, "", nil, ""},
		{"out of range", "selection=0,5", http.StatusBadRequest, "", nil, ""},
		{"not a number", "selection=a", http.StatusBadRequest, "", nil, ""},
		{"empty", "selection=", http.StatusBadRequest, "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := api.do(t, http.MethodGet, "/api/markets/"+id+"/odds?"+tt.query, "", nil)
			require.Equal(t, tt.status, status, out)
			if tt.status != http.StatusOK {
				return
			}
			assert.Equal(t, tt.typ, out["type"])
			assert.Equal(t, tt.bps, out["multiplier_bps"])
			assert.Equal(t, tt.display, out["display"])
		})
	}

	status, out := api.do(t, http.MethodGet, "/api/markets/"+id+"/odds", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["outcomes"], 3, "without a selection the per-outcome odds are returned")
}

func TestLowConfidenceVerdictOpensDispute(t *testing.T) {
	api := newTestAPI(t)
	id := api.openMarket(t, "A", "B")
	status, _ := api.do(t, http.MethodPost, "/api/markets/"+id+"/bets", bettorKey, map[string]any{"bettor": "alice", "selection": []int{0}, "amount": "10"})
	require.Equal(t, http.StatusCreated, status)
	status, _ = api.do(t, http.MethodPost, "/api/markets/"+id+"/lock", operatorKey, nil)
	require.Equal(t, http.StatusOK, status)

	status, res := api.resolve(t, id, `{"outcome":0,"confidence":0.5}`, time.Now())
	require.Equal(t, http.StatusOK, status, res)
	assert.Equal(t, string(domain.MarketStatusDisputed), res["status"])

	status, vote := api.do(t, http.MethodPost, "/api/markets/"+id+"/dispute/votes", bettorKey, map[string]any{"voter": "alice", "outcome": 0})
	assert.Equal(t, http.StatusBadRequest, status, "a starting profile may not vote")
	assert.Equal(t, "validation", vote["class"])

	status, _ = api.do(t, http.MethodPost, "/api/markets/"+id+"/dispute/close", bettorKey, map[string]any{"outcome": 0})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, res = api.do(t, http.MethodPost, "/api/markets/"+id+"/dispute/close", operatorKey, map[string]any{"outcome": 0})
	require.Equal(t, http.StatusOK, status, res)
	assert.Equal(t, string(domain.MarketStatusResolved), res["status"])
}

func TestTemporalBetAndChapterOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	status, m := api.do(t, http.MethodPost, "/api/temporal", operatorKey, map[string]any{
		"question":        "Does the lighthouse keeper return?",
		"open_chapter":    1,
		"resolve_chapter": 6,
		"criteria":        "The keeper appears on page.",
	})
	require.Equal(t, http.StatusCreated, status, m)
	id := m["id"].(string)

	status, ch := api.do(t, http.MethodPost, "/api/story/chapter", operatorKey, map[string]any{"chapter": 1})
	require.Equal(t, http.StatusOK, status, ch)
	assert.Equal(t, float64(1), ch["chapter"])
	assert.Contains(t, ch["moved"], id)

	status, out := api.do(t, http.MethodPost, "/api/markets/"+id+"/bets", bettorKey, map[string]any{"bettor": "alice", "amount": "10"})
	assert.Equal(t, http.StatusBadRequest, status, "temporal bets need a side")
	assert.Contains(t, out["error"], "yes")

	status, bet := api.do(t, http.MethodPost, "/api/markets/"+id+"/bets", bettorKey, map[string]any{"bettor": "alice", "yes": true, "amount": "10"})
	require.Equal(t, http.StatusCreated, status, bet)
	assert.Equal(t, float64(17_500), bet["locked_multiplier_bps"])

	status, _ = api.do(t, http.MethodPost, "/api/story/chapter", operatorKey, map[string]any{"chapter": 1})
	assert.Equal(t, http.StatusBadRequest, status, "the chapter clock only moves forward")
}

func TestIdempotencyKeyAndAddressNormalization(t *testing.T) {
	api := newTestAPI(t)
	id := api.openMarket(t, "A", "B")
	lower := "0x52908400098527886e0f7030069857d2e4169ee7"
	body, err := json.Marshal(map[string]any{"bettor": lower, "selection": []int{1}, "amount": "2.5"})
	require.NoError(t, err)

	place := func() map[string]any {
		req, err := http.NewRequest(http.MethodPost, api.srv.URL+"/api/markets/"+id+"/bets", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+bettorKey)
		req.Header.Set(handler.IdempotencyHeader, "req-1")
		status, out := send(t, req)
		require.Equal(t, http.StatusCreated, status, out)
		return out
	}
	first, second := place(), place()
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", first["bettor"])
	assert.Equal(t, ledger.Amount(2_500_000), amountOf(t, first["amount"]))

	status, v := api.do(t, http.MethodGet, "/api/markets/"+id, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), v["active_bets"])

	status, p := api.do(t, http.MethodGet, "/api/profiles/"+strings.ToUpper(lower[2:]), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first["bettor"], p["address"], "unprefixed addresses normalize to the same bettor")
}

func TestExchangeOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	id := api.openMarket(t, "A", "B")
	base := "/api/markets/" + id

	for _, outcome := range []int{0, 1} {
		status, out := api.do(t, http.MethodPost, base+"/liquidity", bettorKey, map[string]any{"holder": "lp", "outcome": outcome, "amount": "1000"})
		require.Equal(t, http.StatusOK, status, out)
	}
	status, pos := api.do(t, http.MethodPost, base+"/mint", bettorKey, map[string]any{"holder": "trader", "outcome": 0, "amount": "100"})
	require.Equal(t, http.StatusCreated, status, pos)

	status, q := api.do(t, http.MethodGet, base+"/quote?from=0&to=1&amount=100", "", nil)
	require.Equal(t, http.StatusOK, status, q)
	assert.Equal(t, ledger.Amount(90_661_089), amountOf(t, q["amount_out"]))
	assert.Equal(t, float64(10_000), q["spot_price_bps"])

	status, out := api.do(t, http.MethodPost, base+"/swap", bettorKey, map[string]any{"holder": "trader", "from": 0, "to": 1, "amount_in": "100", "min_amount_out": "95"})
	assert.Equal(t, http.StatusBadRequest, status, out)

	status, out = api.do(t, http.MethodPost, base+"/swap", bettorKey, map[string]any{"holder": "trader", "from": 0, "to": 1, "amount_in": "100", "min_amount_out": "90"})
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, ledger.Amount(90_661_089), amountOf(t, out["amount_out"]))

	status, q = api.do(t, http.MethodGet, base+"/quote?from=0&to=1", "", nil)
	assert.Equal(t, http.StatusBadRequest, status, q)
}

func TestRateLimitAndNotFound(t *testing.T) {
	api := newTestAPI(t)

	status, out := api.do(t, http.MethodGet, "/api/markets/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", out["class"])

	api.deny.deny = true
	status, _ = api.do(t, http.MethodGet, "/api/markets/nope", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, _ = api.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status, "health is not rate limited")
}

func TestSuspicionRoundOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	participants := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9", "p10"}
	status, round := api.do(t, http.MethodPost, "/api/suspicion/rounds", operatorKey, map[string]any{"participants": participants})
	require.Equal(t, http.StatusCreated, status, round)
	id := round["id"].(string)
	assert.Len(t, round["commitments"], len(participants))

	status, _ = api.do(t, http.MethodPost, "/api/suspicion/rounds", operatorKey, map[string]any{"participants": []string{"p1", "p1"}})
	assert.Equal(t, http.StatusBadRequest, status, "duplicate participants")

	status, out := api.do(t, http.MethodPost, "/api/suspicion/rounds/"+id+"/reveal", operatorKey, nil)
	require.Equal(t, http.StatusOK, status, out)
	assert.Len(t, out["assignments"], len(participants))
	assert.Equal(t, true, out["round"].(map[string]any)["revealed"])
}
