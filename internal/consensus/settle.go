package consensus

import (
	"fmt"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// Rules are the operator-tunable consensus parameters.
type Rules struct {
	ContrarianBonusBps int64 `toml:"contrarian_bonus_bps"`
	ContrarianWinDelta int   `toml:"contrarian_win_delta"`
	BelieverWinDelta   int   `toml:"believer_win_delta"`
	LossDelta          int   `toml:"loss_delta"`
}

// DefaultRules pays contrarians 2x and moves scores +50 / +10 / -20.
func DefaultRules() Rules {
	return Rules{
		ContrarianBonusBps: 20_000,
		ContrarianWinDelta: 50,
		BelieverWinDelta:   10,
		LossDelta:          -20,
	}
}

// Settle pays the side that called the crowd correctly. Each winning stake
// earns floor(amount * winnerPool / sideTotal); contrarians have that base
// scaled by the bonus, and the bonus above base is funded by the treasury.
// The layer is voided, refunding every stake, when the parent had no crowd,
// the parent was voided, or nobody took the winning side.
func Settle(p *Pool, winning []int, parentVoided bool, fees ledger.FeeSchedule, rules Rules) (domain.ConsensusSettlement, error) {
	won := map[int]bool{}
	for _, i := range winning {
		won[i] = true
	}
	crowdRight := p.CrowdOutcome != NoCrowd && won[p.CrowdOutcome]
	s := domain.ConsensusSettlement{
		CrowdOutcome:  p.CrowdOutcome,
		CrowdWasRight: crowdRight,
		TotalPool:     p.Total(),
		Payouts:       map[string]ledger.Amount{},
	}
	side := p.CrowdWrong
	if crowdRight {
		side = p.CrowdRight
	}
	if parentVoided || p.CrowdOutcome == NoCrowd || side == 0 {
		s.Voided = true
		for _, st := range p.Stakes {
			s.Payouts[st.Bettor] += st.Amount
		}
		return s, nil
	}

	split, err := fees.Split(s.TotalPool)
	if err != nil {
		return domain.ConsensusSettlement{}, fmt.Errorf("consensus: fee split: %w", err)
	}
	s.Split = split

	var baseSum, paid ledger.Amount
	for _, st := range p.Stakes {
		correct := st.PredictCrowdRight == crowdRight
		contrarian := !st.PredictCrowdRight
		s.Profiles = append(s.Profiles, domain.ProfileDelta{
			Address:    st.Bettor,
			ScoreDelta: rules.delta(correct, contrarian),
			Contrarian: contrarian,
			Correct:    correct,
		})
		if !correct {
			continue
		}
		base, err := st.Amount.MulDiv(int64(split.Winner), int64(side))
		if err != nil {
			return domain.ConsensusSettlement{}, fmt.Errorf("consensus: base share: %w", err)
		}
		pay := base
		if contrarian {
			if pay, err = base.MulBps(rules.ContrarianBonusBps); err != nil {
				return domain.ConsensusSettlement{}, fmt.Errorf("consensus: bonus: %w", err)
			}
		}
		if baseSum, err = baseSum.Add(base); err != nil {
			return domain.ConsensusSettlement{}, fmt.Errorf("consensus: base total: %w", err)
		}
		if paid, err = paid.Add(pay); err != nil {
			return domain.ConsensusSettlement{}, fmt.Errorf("consensus: paid total: %w", err)
		}
		s.Payouts[st.Bettor] += pay
	}

	// Winners all sit on one side, so either every payout carries the bonus
	// or none does. Anything paid above the base shares is the subsidy.
	kept := baseSum
	if paid > baseSum {
		s.BonusSubsidy = paid - baseSum
	} else {
		kept = paid
	}
	dust, err := split.Winner.Sub(kept)
	if err != nil {
		return domain.ConsensusSettlement{}, fmt.Errorf("consensus: dust: %w", err)
	}
	s.Dust = dust
	if !s.Conserved() {
		return domain.ConsensusSettlement{}, fmt.Errorf("consensus: settlement does not conserve its pool")
	}
	return s, nil
}

func (r Rules) delta(correct, contrarian bool) int {
	switch {
	case correct && contrarian:
		return r.ContrarianWinDelta
	case correct:
		return r.BelieverWinDelta
	default:
		return r.LossDelta
	}
}

// ApplyDelta folds one settlement delta into a profile. Scores never drop
// below zero and the badge is recomputed from the new score.
func ApplyDelta(p domain.PsychicProfile, d domain.ProfileDelta) domain.PsychicProfile {
	p.Score += d.ScoreDelta
	if p.Score < 0 {
		p.Score = 0
	}
	if d.Contrarian && d.Correct {
		p.ContraryWins++
	}
	p.TotalBets++
	p.Badge = domain.BadgeFor(p.Score)
	return p
}
