package dispute

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func voter(addr string, score int) domain.PsychicProfile {
	p := domain.NewPsychicProfile(addr)
	p.Score = score
	return p
}

func TestCheckVote(t *testing.T) {
	rules := DefaultRules()
	s := Open(t0, rules.Window, "low confidence", nil)
	assert.Equal(t, t0.Add(48*time.Hour), s.Deadline)

	v, err := s.CheckVote(voter("a", 1600), 1, 2, t0.Add(time.Hour), rules)
	require.NoError(t, err)
	assert.Equal(t, domain.BadgeProphet, v.Badge)
	assert.Equal(t, int64(3), v.Weight)
	s.Apply(v)

	_, err = s.CheckVote(voter("a", 1600), 0, 2, t0.Add(time.Hour), rules)
	require.ErrorIs(t, err, domain.ErrAlreadyVoted)

	_, err = s.CheckVote(voter("b", 1100), 0, 2, t0.Add(time.Hour), rules)
	require.ErrorIs(t, err, domain.ErrNotQualified)

	_, err = s.CheckVote(voter("c", 1300), 5, 2, t0.Add(time.Hour), rules)
	require.ErrorIs(t, err, domain.ErrInvalidSelection)

	_, err = s.CheckVote(voter("c", 1300), 0, 2, t0.Add(48*time.Hour), rules)
	require.ErrorIs(t, err, domain.ErrWindowClosed)
	assert.True(t, s.Expired(t0.Add(48*time.Hour)))
}

func TestDecided(t *testing.T) {
	rules := DefaultRules()
	cast := func(s *State, n, outcome, score int, prefix string) {
		for i := 0; i < n; i++ {
			v, err := s.CheckVote(voter(fmt.Sprintf("%s%d", prefix, i), score), outcome, 2, t0, rules)
			require.NoError(t, err)
			s.Apply(v)
		}
	}

	s := Open(t0, rules.Window, "", nil)
	cast(s, 9, 0, 1300, "y")
	_, ok := s.Decided(rules)
	assert.False(t, ok, "nine votes never decide")

	cast(s, 1, 1, 1300, "n")
	outcome, ok := s.Decided(rules)
	require.True(t, ok)
	assert.Equal(t, 0, outcome)

	// 7 ORACLE (14) vs 3 ORACLE (6): exactly 70% does not decide.
	s = Open(t0, rules.Window, "", nil)
	cast(s, 7, 0, 1300, "y")
	cast(s, 3, 1, 1300, "n")
	_, ok = s.Decided(rules)
	assert.False(t, ok)

	// One VOID_SEER tips it: 14+5=19 of 25 is 76%.
	cast(s, 1, 0, 1800, "v")
	outcome, ok = s.Decided(rules)
	require.True(t, ok)
	assert.Equal(t, 0, outcome)
}
