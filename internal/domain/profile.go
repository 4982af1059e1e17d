package domain

import "time"

// Badge is a psychic tier derived purely from score.
type Badge string

const (
	BadgeInitiate Badge = "INITIATE"
	BadgeSeer     Badge = "SEER"
	BadgeOracle   Badge = "ORACLE"
	BadgeProphet  Badge = "PROPHET"
	BadgeVoidSeer Badge = "VOID_SEER"
)

// StartingScore is the score every new profile begins with.
const StartingScore = 1000

// BadgeFor maps a score onto its badge.
func BadgeFor(score int) Badge {
	switch {
	case score >= 1750:
		return BadgeVoidSeer
	case score >= 1500:
		return BadgeProphet
	case score >= 1250:
		return BadgeOracle
	case score >= 1000:
		return BadgeSeer
	default:
		return BadgeInitiate
	}
}

// Rank orders badges from INITIATE (0) to VOID_SEER (4).
func (b Badge) Rank() int {
	switch b {
	case BadgeSeer:
		return 1
	case BadgeOracle:
		return 2
	case BadgeProphet:
		return 3
	case BadgeVoidSeer:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether b ranks at or above min.
func (b Badge) AtLeast(min Badge) bool {
	return b.Rank() >= min.Rank()
}

// FeeDiscountBps is informational; settlement does not apply it.
func (b Badge) FeeDiscountBps() int64 {
	return [...]int64{0, 0, 50, 100, 200}[b.Rank()]
}

// PsychicProfile tracks a bettor's consensus-market record.
type PsychicProfile struct {
	Address      string    `json:"address"`
	Score        int       `json:"score"`
	ContraryWins int       `json:"contrary_wins"`
	TotalBets    int       `json:"total_bets"`
	Badge        Badge     `json:"badge"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewPsychicProfile returns a fresh profile at the starting score.
func NewPsychicProfile(address string) PsychicProfile {
	return PsychicProfile{
		Address: address,
		Score:   StartingScore,
		Badge:   BadgeFor(StartingScore),
	}
}
