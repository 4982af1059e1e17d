package suspicion

import (
	"time"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// Signal names reported with a score.
const (
	SignalContrarian   = "contrarian"
	SignalLateAndLarge = "late_and_large"
	SignalExtremeOdds  = "against_extreme_odds"
	SignalHistory      = "history"
	SignalSmallDecoy   = "small_decoy"
)

// ScoreConfig weights and thresholds for each independent signal.
type ScoreConfig struct {
	ContrarianPoints  int
	LateLargePoints   int
	ExtremeOddsPoints int
	HistoryPoints     int
	DecoyPoints       int
	LateWindow        time.Duration
	LargeMultiple     int64
	ExtremeOddsBps    int64
	HistoryMinFlags   int
	DecoyFractionBps  int64
	FlagThreshold     int
}

// DefaultScoreConfig sums to 100 when every signal fires.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		ContrarianPoints:  20,
		LateLargePoints:   25,
		ExtremeOddsPoints: 20,
		HistoryPoints:     20,
		DecoyPoints:       15,
		LateWindow:        10 * time.Minute,
		LargeMultiple:     5,
		ExtremeOddsBps:    1_000,
		HistoryMinFlags:   2,
		DecoyFractionBps:  1_000,
		FlagThreshold:     50,
	}
}

// Input is what the scorer sees about one bet at placement.
type Input struct {
	Bet          domain.Bet
	PlacedAt     time.Time
	Deadline     time.Time
	CrowdOutcome int
	// ImpliedProbBps is the pool's implied probability of the bet's first
	// leg before the bet was applied.
	ImpliedProbBps int64
	MedianStake    ledger.Amount
	PriorFlags     int
	// HasLargeStake reports whether the bettor already holds a large bet in
	// the same market, which makes a tiny bet look like a decoy.
	HasLargeStake bool
}

// Score sums the firing signals and clamps to [0, 100]. The result is
// advisory and never consulted by settlement.
func Score(in Input, cfg ScoreConfig) (int, []string) {
	var score int
	var fired []string
	hit := func(name string, pts int) {
		score += pts
		fired = append(fired, name)
	}

	if in.CrowdOutcome >= 0 && len(in.Bet.Selection) > 0 && !contains(in.Bet.Selection, in.CrowdOutcome) {
		hit(SignalContrarian, cfg.ContrarianPoints)
	}
	if !in.Deadline.IsZero() && in.Deadline.Sub(in.PlacedAt) <= cfg.LateWindow && in.MedianStake > 0 &&
		int64(in.Bet.Amount) >= int64(in.MedianStake)*cfg.LargeMultiple {
		hit(SignalLateAndLarge, cfg.LateLargePoints)
	}
	if in.ImpliedProbBps > 0 && in.ImpliedProbBps < cfg.ExtremeOddsBps {
		hit(SignalExtremeOdds, cfg.ExtremeOddsPoints)
	}
	if in.PriorFlags >= cfg.HistoryMinFlags {
		hit(SignalHistory, cfg.HistoryPoints)
	}
	if in.HasLargeStake && in.MedianStake > 0 {
		limit, err := in.MedianStake.MulBps(cfg.DecoyFractionBps)
		if err == nil && in.Bet.Amount <= limit {
			hit(SignalSmallDecoy, cfg.DecoyPoints)
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, fired
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
