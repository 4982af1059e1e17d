// Package consensus is the meta-market that runs beside a parimutuel market:
// bettors stake on whether the crowd favourite at lock time will win.
package consensus

import (
	"fmt"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// NoCrowd marks a consensus layer whose parent had no stakes at lock.
const NoCrowd = -1

// Pool holds both sides of the consensus layer of one market.
type Pool struct {
	CrowdRight   ledger.Amount           `json:"crowd_right"`
	CrowdWrong   ledger.Amount           `json:"crowd_wrong"`
	Stakes       []domain.ConsensusStake `json:"stakes"`
	CrowdOutcome int                     `json:"crowd_outcome"`
}

// NewPool returns an empty pool with no crowd recorded yet.
func NewPool() *Pool {
	return &Pool{CrowdOutcome: NoCrowd}
}

// Total is the sum of both sides.
func (p *Pool) Total() ledger.Amount {
	return p.CrowdRight + p.CrowdWrong
}

// Validate checks a stake without mutating the pool.
func (p *Pool) Validate(stake domain.ConsensusStake, min, max ledger.Amount) error {
	if stake.Amount <= 0 || (min > 0 && stake.Amount < min) || (max > 0 && stake.Amount > max) {
		return fmt.Errorf("consensus: stake %s: %w", stake.Amount, domain.ErrInvalidAmount)
	}
	side := p.CrowdWrong
	if stake.PredictCrowdRight {
		side = p.CrowdRight
	}
	if _, err := side.Add(stake.Amount); err != nil {
		return fmt.Errorf("consensus: side total: %w", err)
	}
	if _, err := p.Total().Add(stake.Amount); err != nil {
		return fmt.Errorf("consensus: pool total: %w", err)
	}
	return nil
}

// Apply records a validated stake.
func (p *Pool) Apply(stake domain.ConsensusStake) {
	if stake.PredictCrowdRight {
		p.CrowdRight += stake.Amount
	} else {
		p.CrowdWrong += stake.Amount
	}
	p.Stakes = append(p.Stakes, stake)
}

// Sentiment labels the psychic edge for display.
type Sentiment string

const (
	SentimentUnknown          Sentiment = "UNKNOWN"
	SentimentCrowdFavoured    Sentiment = "CROWD_FAVOURED"
	SentimentBalanced         Sentiment = "BALANCED"
	SentimentContrarian       Sentiment = "CONTRARIAN_VALUE"
	SentimentStrongContrarian Sentiment = "STRONG_CONTRARIAN_VALUE"
)

// Edge is the ratio of contrarian to believer expected value at current
// pool shares, (bonus / wrongShare) / (1 / rightShare), in basis points.
// It is informational and never read by settlement.
type Edge struct {
	RatioBps  int64     `json:"ratio_bps"`
	Defined   bool      `json:"defined"`
	Sentiment Sentiment `json:"sentiment"`
}

// PsychicEdge computes the edge with the configured contrarian bonus.
func (p *Pool) PsychicEdge(bonusBps int64) Edge {
	if p.CrowdRight == 0 || p.CrowdWrong == 0 {
		return Edge{Sentiment: SentimentUnknown}
	}
	num, err := ledger.MulDiv(int64(p.CrowdRight), bonusBps, 1)
	if err != nil {
		return Edge{Sentiment: SentimentUnknown}
	}
	ratio, err := ledger.MulDiv(num, 1, int64(p.CrowdWrong))
	if err != nil {
		return Edge{Sentiment: SentimentUnknown}
	}
	e := Edge{RatioBps: ratio, Defined: true}
	switch {
	case ratio >= 3*ledger.BpsDenominator:
		e.Sentiment = SentimentStrongContrarian
	case ratio > 11_000:
		e.Sentiment = SentimentContrarian
	case ratio >= 9_000:
		e.Sentiment = SentimentBalanced
	default:
		e.Sentiment = SentimentCrowdFavoured
	}
	return e
}
