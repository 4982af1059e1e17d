package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/narrativebet/internal/crypto"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// ResolvePath is the oracle endpoint that answers resolution requests.
const ResolvePath = "/v1/resolve"

// ClientConfig configures the HTTP oracle client.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration
	RetryMax  time.Duration
	Auth      *crypto.HMACAuth
	UserAgent string
}

// Client calls the narrator oracle over HTTP.
type Client struct {
	http   *resty.Client
	auth   *crypto.HMACAuth
	logger *slog.Logger
}

var _ Oracle = (*Client)(nil)

// NewClient builds a resty client with bounded retries. Transport errors,
// 429 and 5xx responses are retried; everything else fails immediately.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "narrativebet-oracle-client"
	}
	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMax).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})
	return &Client{
		http:   hc,
		auth:   cfg.Auth,
		logger: logger.With(slog.String("component", "oracle")),
	}
}

// verdictResponse is the oracle wire format. Outcome is either an outcome
// index or, for yes/no markets, a boolean. Confidence is a decimal in [0, 1].
type verdictResponse struct {
	Outcome    json.RawMessage `json:"outcome"`
	Extra      []int           `json:"extra,omitempty"`
	Confidence json.Number     `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
	Evidence   []string        `json:"evidence"`
}

// Resolve posts req and returns the normalised verdict.
func (c *Client) Resolve(ctx context.Context, req Request) (domain.OracleVerdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.OracleVerdict{}, fmt.Errorf("oracle: marshal request: %w", err)
	}

	r := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if c.auth != nil {
		r.SetHeaders(c.auth.Headers(http.MethodPost, ResolvePath, string(body)))
	}

	start := time.Now()
	resp, err := r.Post(ResolvePath)
	if err != nil {
		return domain.OracleVerdict{}, fmt.Errorf("oracle: resolve %s: %v: %w", req.MarketID, err, domain.ErrOracleUnavailable)
	}
	if resp.IsError() {
		return domain.OracleVerdict{}, fmt.Errorf("oracle: resolve %s: status %d: %w",
			req.MarketID, resp.StatusCode(), domain.ErrOracleUnavailable)
	}

	v, err := ParseVerdict(resp.Body(), len(req.Outcomes))
	if err != nil {
		return domain.OracleVerdict{}, fmt.Errorf("oracle: resolve %s: %w", req.MarketID, err)
	}
	c.logger.InfoContext(ctx, "oracle: verdict received",
		slog.String("market_id", req.MarketID),
		slog.Int("outcome", v.Outcome),
		slog.Int64("confidence_bps", v.ConfidenceBps),
		slog.Duration("latency", time.Since(start)),
		slog.Int("attempts", resp.Request.Attempt),
	)
	return v, nil
}

// ParseVerdict decodes an oracle response body. A malformed body is treated
// as the oracle being unavailable.
func ParseVerdict(body []byte, outcomes int) (domain.OracleVerdict, error) {
	var raw verdictResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.OracleVerdict{}, fmt.Errorf("decode verdict: %v: %w", err, domain.ErrOracleUnavailable)
	}

	outcome, err := parseOutcome(raw.Outcome)
	if err != nil {
		return domain.OracleVerdict{}, err
	}
	if outcome < 0 || outcome >= outcomes {
		return domain.OracleVerdict{}, fmt.Errorf("verdict outcome %d of %d: %w", outcome, outcomes, domain.ErrOracleUnavailable)
	}
	for _, x := range raw.Extra {
		if x < 0 || x >= outcomes {
			return domain.OracleVerdict{}, fmt.Errorf("verdict extra outcome %d of %d: %w", x, outcomes, domain.ErrOracleUnavailable)
		}
	}

	conf, err := ConfidenceBps(raw.Confidence)
	if err != nil {
		return domain.OracleVerdict{}, err
	}
	return domain.OracleVerdict{
		Outcome:       outcome,
		Extra:         raw.Extra,
		ConfidenceBps: conf,
		Reasoning:     raw.Reasoning,
		Evidence:      raw.Evidence,
	}, nil
}

func parseOutcome(raw json.RawMessage) (int, error) {
	var yes bool
	if err := json.Unmarshal(raw, &yes); err == nil {
		if yes {
			return domain.OutcomeYes, nil
		}
		return domain.OutcomeNo, nil
	}
	var idx int
	if err := json.Unmarshal(raw, &idx); err != nil {
		return 0, fmt.Errorf("verdict outcome %s: %w", string(raw), domain.ErrOracleUnavailable)
	}
	return idx, nil
}

// ConfidenceBps converts a decimal confidence in [0, 1] to basis points,
// truncating, so 0.74999 never rounds up to the 0.75 threshold.
func ConfidenceBps(n json.Number) (int64, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, fmt.Errorf("verdict confidence %q: %w", n, domain.ErrOracleUnavailable)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("verdict confidence %s out of range: %w", d, domain.ErrOracleUnavailable)
	}
	return d.Mul(decimal.NewFromInt(ledger.BpsDenominator)).IntPart(), nil
}
