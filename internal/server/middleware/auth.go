package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/crypto"
)

// maxSignedBody caps the body read for signature verification.
const maxSignedBody = 1 << 20

// Auth returns middleware that validates API requests using either a Bearer
// token in the Authorization header or a static key in the X-API-Key header.
// Any of keys is accepted. With no non-empty key configured the middleware
// passes all requests through (disabled).
func Auth(keys ...string) func(http.Handler) http.Handler {
	var accepted [][]byte
	for _, k := range keys {
		if k != "" {
			accepted = append(accepted, []byte(k))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(accepted) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			ok := 0
			for _, k := range accepted {
				ok |= subtle.ConstantTimeCompare([]byte(token), k)
			}
			if ok != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OracleAuth returns middleware that checks the HMAC signature an oracle
// puts on verdict callbacks. The body is buffered and restored for the next
// handler. A nil auth refuses every callback.
func OracleAuth(auth *crypto.HMACAuth, maxSkew time.Duration, now func() time.Time, logger *slog.Logger) func(http.Handler) http.Handler {
	if maxSkew <= 0 {
		maxSkew = crypto.DefaultMaxSkew
	}
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				writeUnauthorized(w, "oracle callbacks are not enabled")
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeUnauthorized(w, "unreadable body")
				return
			}
			if err := auth.Verify(r.Header, r.Method, r.URL.Path, body, now(), maxSkew); err != nil {
				logger.WarnContext(r.Context(), "middleware: oracle signature rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				msg := "invalid signature"
				if errors.Is(err, crypto.ErrStaleSignature) {
					msg = "stale signature"
				}
				writeUnauthorized(w, msg)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
