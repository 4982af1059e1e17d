// Package dispute runs the human override window for markets whose oracle
// verdict was missing or not confident enough.
package dispute

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// Rules configure voting.
type Rules struct {
	Window           time.Duration
	MinVotes         int
	SupermajorityBps int64
	MinBadge         domain.Badge
	Weights          map[domain.Badge]int64
}

// DefaultRules opens a 48h window, requires ORACLE or better to vote, and
// auto-resolves at ten votes with more than 70% of the weight on one side.
func DefaultRules() Rules {
	return Rules{
		Window:           48 * time.Hour,
		MinVotes:         10,
		SupermajorityBps: 7_000,
		MinBadge:         domain.BadgeOracle,
		Weights: map[domain.Badge]int64{
			domain.BadgeInitiate: 1,
			domain.BadgeSeer:     1,
			domain.BadgeOracle:   2,
			domain.BadgeProphet:  3,
			domain.BadgeVoidSeer: 5,
		},
	}
}

// WeightOf returns the voting weight of badge, at least 1.
func (r Rules) WeightOf(b domain.Badge) int64 {
	if w := r.Weights[b]; w > 0 {
		return w
	}
	return 1
}

// State is the dispute attached to one market.
type State struct {
	OpenedAt time.Time             `json:"opened_at"`
	Deadline time.Time             `json:"deadline"`
	Reason   string                `json:"reason"`
	Verdict  *domain.OracleVerdict `json:"verdict,omitempty"`
	Votes    []domain.Vote         `json:"votes"`
}

// Open starts a dispute window at now.
func Open(now time.Time, window time.Duration, reason string, verdict *domain.OracleVerdict) *State {
	return &State{OpenedAt: now, Deadline: now.Add(window), Reason: reason, Verdict: verdict}
}

// Expired reports whether the voting window has closed.
func (s *State) Expired(now time.Time) bool {
	return !now.Before(s.Deadline)
}

// CheckVote validates a vote and returns it with its weight filled in.
func (s *State) CheckVote(profile domain.PsychicProfile, outcome, outcomes int, now time.Time, rules Rules) (domain.Vote, error) {
	if s.Expired(now) {
		return domain.Vote{}, fmt.Errorf("dispute: window closed at %s: %w", s.Deadline.Format(time.RFC3339), domain.ErrWindowClosed)
	}
	if outcome < 0 || outcome >= outcomes {
		return domain.Vote{}, fmt.Errorf("dispute: outcome %d: %w", outcome, domain.ErrInvalidSelection)
	}
	badge := domain.BadgeFor(profile.Score)
	if !badge.AtLeast(rules.MinBadge) {
		return domain.Vote{}, fmt.Errorf("dispute: %s is %s, need %s: %w", profile.Address, badge, rules.MinBadge, domain.ErrNotQualified)
	}
	for _, v := range s.Votes {
		if v.Voter == profile.Address {
			return domain.Vote{}, fmt.Errorf("dispute: %s: %w", profile.Address, domain.ErrAlreadyVoted)
		}
	}
	return domain.Vote{
		Voter:   profile.Address,
		Outcome: outcome,
		Badge:   badge,
		Weight:  rules.WeightOf(badge),
		CastAt:  now,
	}, nil
}

// Apply records a checked vote.
func (s *State) Apply(v domain.Vote) {
	s.Votes = append(s.Votes, v)
}

// Tally returns the weight per outcome and the total weight.
func (s *State) Tally() (map[int]int64, int64) {
	byOutcome := map[int]int64{}
	var total int64
	for _, v := range s.Votes {
		byOutcome[v.Outcome] += v.Weight
		total += v.Weight
	}
	return byOutcome, total
}

// Decided returns the outcome once enough votes are in and one outcome holds
// strictly more than the supermajority of the weight.
func (s *State) Decided(rules Rules) (int, bool) {
	if len(s.Votes) < rules.MinVotes {
		return 0, false
	}
	byOutcome, total := s.Tally()
	if total == 0 {
		return 0, false
	}
	for outcome, w := range byOutcome {
		if w*ledger.BpsDenominator > total*rules.SupermajorityBps {
			return outcome, true
		}
	}
	return 0, false
}
