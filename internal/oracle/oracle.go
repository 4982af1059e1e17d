// Package oracle fetches resolution verdicts from the external narrator
// oracle. Verdicts are authoritative but untrusted: callers check confidence
// and fall back to a dispute when the call fails.
package oracle

import (
	"context"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// Request describes the market the oracle is asked to resolve.
type Request struct {
	MarketID       string            `json:"market_id"`
	Kind           domain.MarketKind `json:"kind"`
	Question       string            `json:"question"`
	Outcomes       []string          `json:"outcomes"`
	Criteria       string            `json:"criteria,omitempty"`
	ResolveChapter int               `json:"resolve_chapter,omitempty"`
	ResolutionType string            `json:"resolution_type,omitempty"`
}

// NewRequest builds the oracle request for m.
func NewRequest(m domain.Market) Request {
	return Request{
		MarketID:       m.ID,
		Kind:           m.Kind,
		Question:       m.Question,
		Outcomes:       m.Outcomes,
		Criteria:       m.Criteria,
		ResolveChapter: m.ResolveChapter,
		ResolutionType: m.OracleResolutionType,
	}
}

// Oracle resolves a market to a verdict. Implementations return an error
// wrapping domain.ErrOracleUnavailable when no verdict could be obtained.
type Oracle interface {
	Resolve(ctx context.Context, req Request) (domain.OracleVerdict, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (domain.OracleVerdict, error)

// Resolve calls f.
func (f Func) Resolve(ctx context.Context, req Request) (domain.OracleVerdict, error) {
	return f(ctx, req)
}

// WithDeadline bounds every Resolve call made through o to d, so a slow
// oracle can never hold a caller indefinitely.
func WithDeadline(o Oracle, d time.Duration) Oracle {
	return Func(func(ctx context.Context, req Request) (domain.OracleVerdict, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return o.Resolve(ctx, req)
	})
}
