package middleware

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/narrativebet/internal/crypto"
)

var (
	allowedMethods = "GET, POST, DELETE, OPTIONS"
	allowedHeaders = strings.Join([]string{
		"Content-Type", "Authorization", "X-API-Key", BettorHeader, "Idempotency-Key", RequestIDHeader,
		crypto.HeaderKey, crypto.HeaderTimestamp, crypto.HeaderSignature,
	}, ", ")
	exposedHeaders = strings.Join([]string{RequestIDHeader, "Retry-After", "X-RateLimit-Limit"}, ", ")
)

// CORS lets browser readers on the listed origins call the API. An empty
// list or a "*" entry admits every origin. Preflights are answered here and
// never reach the router.
func CORS(origins []string) func(http.Handler) http.Handler {
	anyOrigin := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin != "" {
				_, ok := allowed[strings.ToLower(origin)]
				if ok || anyOrigin {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Expose-Headers", exposedHeaders)
					if r.Method == http.MethodOptions {
						h.Set("Access-Control-Allow-Methods", allowedMethods)
						h.Set("Access-Control-Allow-Headers", allowedHeaders)
						h.Set("Access-Control-Max-Age", "86400")
					}
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
