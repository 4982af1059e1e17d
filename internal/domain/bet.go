package domain

import (
	"time"

	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// BetType selects the win condition applied to a bet's selection.
type BetType string

const (
	BetSingle      BetType = "SINGLE"
	BetParlay      BetType = "PARLAY"
	BetTeaser      BetType = "TEASER"
	BetRoundRobin  BetType = "ROUND_ROBIN"
	BetProgressive BetType = "PROGRESSIVE"
)

// Valid reports whether t is a known bet type.
func (t BetType) Valid() bool {
	switch t {
	case BetSingle, BetParlay, BetTeaser, BetRoundRobin, BetProgressive:
		return true
	}
	return false
}

// MinLegs is the minimum selection size for the bet type.
func (t BetType) MinLegs() int {
	switch t {
	case BetParlay, BetRoundRobin, BetProgressive, BetTeaser:
		return 2
	default:
		return 1
	}
}

// Bet is an immutable stake on one or more outcomes.
type Bet struct {
	ID        string        `json:"id"`
	MarketID  string        `json:"market_id"`
	Bettor    string        `json:"bettor"`
	Selection []int         `json:"selection"`
	Type      BetType       `json:"type"`
	Amount    ledger.Amount `json:"amount"`
	PlacedAt  time.Time     `json:"placed_at"`

	// LockedMultiplierBps is set for temporal bets at placement time.
	LockedMultiplierBps int64 `json:"locked_multiplier_bps,omitempty"`
	// SuspicionScore is advisory only and never read by settlement.
	SuspicionScore int  `json:"suspicion_score,omitempty"`
	Cancelled      bool `json:"cancelled,omitempty"`
}

// ConsensusStake is a stake on whether the crowd favourite will win.
type ConsensusStake struct {
	ID                string        `json:"id"`
	Bettor            string        `json:"bettor"`
	PredictCrowdRight bool          `json:"predict_crowd_right"`
	Amount            ledger.Amount `json:"amount"`
	PlacedAt          time.Time     `json:"placed_at"`
}

// Vote is one weighted dispute vote.
type Vote struct {
	Voter   string    `json:"voter"`
	Outcome int       `json:"outcome"`
	Badge   Badge     `json:"badge"`
	Weight  int64     `json:"weight"`
	CastAt  time.Time `json:"cast_at"`
}
