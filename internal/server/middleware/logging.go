package middleware

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in both directions. A caller-supplied
// value is kept so oracle callbacks can be traced end to end.
const RequestIDHeader = "X-Request-ID"

// Logging returns middleware that tags each request with an ID, recovers
// handler panics as 500s, and writes one access log line per request.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" || len(reqID) > 64 {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					logger.ErrorContext(r.Context(), "http: handler panic",
						slog.String("request_id", reqID),
						slog.String("panic", fmt.Sprint(p)),
						slog.String("stack", string(debug.Stack())),
					)
					if !rec.wroteHeader {
						writeJSONError(rec, http.StatusInternalServerError, "internal error")
					}
				}

				level := slog.LevelInfo
				switch {
				case rec.status >= http.StatusInternalServerError:
					level = slog.LevelError
				case rec.status == http.StatusTooManyRequests, rec.status == http.StatusUnauthorized:
					level = slog.LevelWarn
				}
				attrs := []slog.Attr{
					slog.String("request_id", reqID),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", rec.status),
					slog.Int64("bytes", rec.bytes),
					slog.Duration("duration", time.Since(start)),
					slog.String("client_ip", extractClientIP(r)),
				}
				if b := r.Header.Get(BettorHeader); b != "" {
					attrs = append(attrs, slog.String("bettor", b))
				}
				logger.LogAttrs(r.Context(), level, "http: request", attrs...)
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.wroteHeader {
		rec.status = code
		rec.wroteHeader = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	rec.wroteHeader = true
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

// Hijack lets the /ws upgrade pass through the recorder.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("middleware: response writer does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	rec.wroteHeader = true
	return h.Hijack()
}

// Flush forwards to the wrapped writer when it supports streaming.
func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
