package middleware

import (
	"context"
	"errors"
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
)

var quiet = slog.New(slog.NewJSONHandler(io.Discard, nil))

func echo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		keys   []string
		header string
		value  string
		want   int
	}{
		{"disabled", nil, "", "", http.StatusOK},
		{"empty keys disabled", []string{"", ""}, "", "", http.StatusOK},
		{"missing", []string{"k1"}, "", "", http.StatusUnauthorized},
		{"bearer", []string{"k1"}, "Authorization", "Bearer k1", http.StatusOK},
		{"api key header", []string{"k1"}, "X-API-Key", "k1", http.StatusOK},
		{"second key", []string{"k1", "k2"}, "Authorization", "bearer k2", http.StatusOK},
		{"wrong", []string{"k1"}, "Authorization", "Bearer k3", http.StatusUnauthorized},
		{"prefix of key", []string{"k1"}, "X-API-Key", "k", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			Auth(tt.keys...)(echo()).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestOracleAuth(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "o1", Secret: "s3cret"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	body := `{"outcome":true,"confidence":0.9}`

	signed := func(at time.Time, signedBody string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/resolve", strings.NewReader(body))
		for k, v := range auth.HeadersAt(http.MethodPost, "/api/markets/m1/resolve", signedBody, at.Unix()) {
			req.Header.Set(k, v)
		}
		return req
	}

	rec := httptest.NewRecorder()
	OracleAuth(auth, time.Minute, clock, quiet)(echo()).ServeHTTP(rec, signed(now, body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.String(), "body is restored for the handler")

	rec = httptest.NewRecorder()
	OracleAuth(auth, time.Minute, clock, quiet)(echo()).ServeHTTP(rec, signed(now.Add(-2*time.Minute), body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "stale")

	rec = httptest.NewRecorder()
	OracleAuth(auth, time.Minute, clock, quiet)(echo()).ServeHTTP(rec, signed(now, `{"outcome":false}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	OracleAuth(nil, 0, clock, quiet)(echo()).ServeHTTP(rec, signed(now, body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "callbacks are refused without a secret")
}

type stubLimiter struct {
	keys    []string
	allowed bool
	err     error
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func (s *stubLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimit(t *testing.T) {
	lim := &stubLimiter{allowed: false}
	h := RateLimit(lim, 10, time.Second, quiet)(echo())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:4321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(BettorHeader, "Alice")
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, []string{
		"ratelimit:api:ip:10.0.0.7",
		"ratelimit:api:bettor:alice",
		"ratelimit:api:ip:1.2.3.4",
	}, lim.keys)

	lim.err = errors.New("redis down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "limiter errors fail open")

	rec = httptest.NewRecorder()
	RateLimit(nil, 10, time.Second, quiet)(echo()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://reader.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	CORS([]string{"https://reader.example"})(echo()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://reader.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), crypto.HeaderSignature)
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	CORS([]string{"https://reader.example"})(echo()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcard(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://anyone.example")
	rec := httptest.NewRecorder()
	CORS([]string{"*"})(echo()).ServeHTTP(rec, req)
	assert.Equal(t, "https://anyone.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), RequestIDHeader)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"), "methods only on preflight")
}

func TestLoggingRequestID(t *testing.T) {
	h := Logging(quiet)(echo())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "oracle-cb-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "oracle-cb-42", rec.Header().Get(RequestIDHeader))
}

func TestLoggingRecoversPanic(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("pool exhausted") })
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		Logging(quiet)(boom).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}
