package suspicion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

func addrs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("0x%040x", i+1)
	}
	return out
}

func TestRoleCount(t *testing.T) {
	cfg := DefaultRoleConfig()
	tests := []struct{ n, want int }{
		{0, 0}, {3, 3}, {10, 5}, {50, 6}, {100, 12}, {200, 24}, {250, 30}, {10_000, 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.RoleCount(tt.n), "n=%d", tt.n)
	}
}

func TestAssign(t *testing.T) {
	in := append(addrs(100), addrs(1)...)
	out, err := Assign(in, DefaultRoleConfig(), nil)
	require.NoError(t, err)
	require.Len(t, out, 100, "duplicates are dropped")

	adversaries := 0
	for _, a := range out {
		if a.Role == RoleAdversary {
			adversaries++
		}
		assert.True(t, VerifyAssignment(a))
	}
	assert.Equal(t, 12, adversaries)

	forged := out[0]
	forged.Role = RoleAdversary
	if out[0].Role == RoleAdversary {
		forged.Role = RoleCitizen
	}
	assert.False(t, VerifyAssignment(forged))

	_, err = Assign([]string{"not-an-address"}, DefaultRoleConfig(), nil)
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestMerkleProofs(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 8, 13} {
		leaves := make([][]byte, n)
		for i := range leaves {
			leaves[i] = Commit(fmt.Sprint(i), RoleCitizen, []byte{byte(i)})
		}
		tree, err := NewTree(leaves)
		require.NoError(t, err)
		for i, leaf := range leaves {
			proof, err := tree.Proof(i)
			require.NoError(t, err)
			assert.True(t, VerifyProof(leaf, proof, tree.Root()), "n=%d i=%d", n, i)
		}
		assert.False(t, VerifyProof(Commit("x", RoleAdversary, nil), nil, tree.Root()))
	}
	_, err := NewTree(nil)
	require.Error(t, err)
}

func TestMerkleRejectsInteriorNodeAsLeaf(t *testing.T) {
	leaves := make([][]byte, 4)
	for i := range leaves {
		leaves[i] = Commit(fmt.Sprint(i), RoleCitizen, []byte{byte(i)})
	}
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	// The parent of leaves 0 and 1, offered with the rest of leaf 0's path.
	interior := tree.levels[1][0]
	proof, err := tree.Proof(0)
	require.NoError(t, err)
	above := proof[1:]
	assert.False(t, VerifyProof(interior, above, tree.Root()))
	assert.False(t, VerifyProof(tree.Root(), nil, tree.Root()), "the root is not a leaf of its own tree")

	lone, err := NewTree(leaves[:1])
	require.NoError(t, err)
	assert.NotEqual(t, leaves[0], lone.Root())
	assert.True(t, VerifyProof(leaves[0], nil, lone.Root()))
}

func TestRegistryRevealVerifies(t *testing.T) {
	for _, pass := range []string{"", "round-pass"} {
		r := NewRegistry(DefaultRoleConfig(), pass, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
		round, err := r.Create(context.Background(), addrs(20))
		require.NoError(t, err)
		assert.Equal(t, 5, round.Adversaries)
		assert.Len(t, round.Commitments, 20)

		revealed, err := r.Reveal(context.Background(), round.ID)
		require.NoError(t, err)
		for _, rv := range revealed {
			assert.True(t, Verify(rv, round.Root))
		}
		got, err := r.Get(round.ID)
		require.NoError(t, err)
		assert.True(t, got.Revealed)
	}
}

func TestScore(t *testing.T) {
	cfg := DefaultScoreConfig()
	deadline := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	base := Input{
		Bet:            domain.Bet{Selection: []int{1}, Amount: ledger.Units(10)},
		PlacedAt:       deadline.Add(-time.Hour),
		Deadline:       deadline,
		CrowdOutcome:   1,
		ImpliedProbBps: 6_000,
		MedianStake:    ledger.Units(10),
	}

	score, fired := Score(base, cfg)
	assert.Equal(t, 0, score)
	assert.Empty(t, fired)

	all := base
	all.Bet.Selection = []int{0}
	all.Bet.Amount = ledger.Units(1)
	all.PlacedAt = deadline.Add(-time.Minute)
	all.ImpliedProbBps = 500
	all.PriorFlags = 3
	all.HasLargeStake = true
	all.MedianStake = ledger.Units(10)
	score, fired = Score(all, cfg)
	// late-and-large cannot fire with a decoy-sized bet.
	assert.Equal(t, 75, score)
	assert.ElementsMatch(t, []string{SignalContrarian, SignalExtremeOdds, SignalHistory, SignalSmallDecoy}, fired)

	late := base
	late.PlacedAt = deadline.Add(-5 * time.Minute)
	late.Bet.Amount = ledger.Units(50)
	score, fired = Score(late, cfg)
	assert.Equal(t, 25, score)
	assert.Equal(t, []string{SignalLateAndLarge}, fired)

	cfg.ContrarianPoints = 90
	all.Bet.Amount = ledger.Units(1)
	score, _ = Score(all, cfg)
	assert.Equal(t, 100, score, "clamped")
}
