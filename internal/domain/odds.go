package domain

import (
	"time"

	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// OutcomeOdds is the viewer-facing price of one outcome. MultiplierBps is nil
// when nothing is staked on the outcome (undefined odds, shown as "—").
type OutcomeOdds struct {
	Index          int           `json:"index"`
	Label          string        `json:"label"`
	TotalStaked    ledger.Amount `json:"total_staked"`
	ImpliedProbBps int64         `json:"implied_prob_bps"`
	MultiplierBps  *int64        `json:"multiplier_bps"`
	Display        string        `json:"display"`
}

// OddsSnapshot is the cached odds view of a market at a given sequence.
type OddsSnapshot struct {
	MarketID  string        `json:"market_id"`
	Seq       int64         `json:"seq"`
	Status    MarketStatus  `json:"status"`
	TotalPool ledger.Amount `json:"total_pool"`
	Outcomes  []OutcomeOdds `json:"outcomes"`
	UpdatedAt time.Time     `json:"updated_at"`
}
