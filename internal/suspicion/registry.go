package suspicion

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/narrativebet/internal/crypto"
	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// Round is the public view of a role assignment round.
type Round struct {
	ID          string       `json:"id"`
	CreatedAt   time.Time    `json:"created_at"`
	Root        string       `json:"root"`
	Commitments []Commitment `json:"commitments"`
	Adversaries int          `json:"adversaries"`
	Revealed    bool         `json:"revealed"`
}

// Commitment is the published hash for one participant.
type Commitment struct {
	Address    string `json:"address"`
	Commitment string `json:"commitment"`
}

// Revealed is an opened assignment with its inclusion proof.
type Revealed struct {
	Assignment
	Proof []string `json:"proof"`
}

type record struct {
	round  Round
	sealed []byte
	plain  []Assignment
}

// Registry keeps rounds in memory. With a passphrase configured, the secret
// assignments are sealed until reveal and only the sealed blob is audited.
type Registry struct {
	mu         sync.RWMutex
	rounds     map[string]*record
	cfg        RoleConfig
	passphrase string
	audit      domain.AuditStore
	rng        io.Reader
	now        func() time.Time
	logger     *slog.Logger
}

// NewRegistry creates a Registry. audit may be nil.
func NewRegistry(cfg RoleConfig, passphrase string, audit domain.AuditStore, logger *slog.Logger) *Registry {
	return &Registry{
		rounds:     map[string]*record{},
		cfg:        cfg,
		passphrase: passphrase,
		audit:      audit,
		rng:        rand.Reader,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "suspicion")),
	}
}

// Create assigns roles among participants and publishes the commitments and
// their Merkle root.
func (r *Registry) Create(ctx context.Context, participants []string) (Round, error) {
	assignments, err := Assign(participants, r.cfg, r.rng)
	if err != nil {
		return Round{}, err
	}
	if len(assignments) == 0 {
		return Round{}, fmt.Errorf("suspicion: no participants: %w", domain.ErrInvalidSelection)
	}
	leaves := make([][]byte, len(assignments))
	round := Round{ID: uuid.NewString(), CreatedAt: r.now().UTC()}
	for i, a := range assignments {
		leaf, err := ParseHex(a.Commitment)
		if err != nil {
			return Round{}, fmt.Errorf("suspicion: commitment: %w", err)
		}
		leaves[i] = leaf
		round.Commitments = append(round.Commitments, Commitment{Address: a.Address, Commitment: a.Commitment})
		if a.Role == RoleAdversary {
			round.Adversaries++
		}
	}
	tree, err := NewTree(leaves)
	if err != nil {
		return Round{}, err
	}
	round.Root = "0x" + hex.EncodeToString(tree.Root())

	rec := &record{round: round}
	if r.passphrase != "" {
		raw, err := json.Marshal(assignments)
		if err != nil {
			return Round{}, fmt.Errorf("suspicion: marshal assignments: %w", err)
		}
		if rec.sealed, err = crypto.Seal(raw, r.passphrase); err != nil {
			return Round{}, err
		}
	} else {
		rec.plain = assignments
	}

	r.mu.Lock()
	r.rounds[round.ID] = rec
	r.mu.Unlock()

	if r.audit != nil {
		detail := map[string]any{"round_id": round.ID, "root": round.Root, "participants": len(assignments)}
		if rec.sealed != nil {
			detail["sealed"] = string(rec.sealed)
		}
		if err := r.audit.Log(ctx, "suspicion_round_created", detail); err != nil {
			r.logger.Warn("suspicion: audit log failed", slog.String("error", err.Error()))
		}
	}
	r.logger.Info("suspicion: round created",
		slog.String("round_id", round.ID),
		slog.Int("participants", len(assignments)),
		slog.Int("adversaries", round.Adversaries),
	)
	return round, nil
}

// Get returns the public view of a round.
func (r *Registry) Get(id string) (Round, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.rounds[id]
	if !ok {
		return Round{}, fmt.Errorf("suspicion: round %s: %w", id, domain.ErrNotFound)
	}
	return rec.round, nil
}

// Reveal opens a round and returns every assignment with a Merkle proof
// against the published root.
func (r *Registry) Reveal(ctx context.Context, id string) ([]Revealed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rounds[id]
	if !ok {
		return nil, fmt.Errorf("suspicion: round %s: %w", id, domain.ErrNotFound)
	}
	assignments := rec.plain
	if rec.sealed != nil {
		raw, err := crypto.Open(rec.sealed, r.passphrase)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &assignments); err != nil {
			return nil, fmt.Errorf("suspicion: unmarshal assignments: %w", err)
		}
	}
	leaves := make([][]byte, len(assignments))
	for i, a := range assignments {
		leaf, err := ParseHex(a.Commitment)
		if err != nil {
			return nil, fmt.Errorf("suspicion: commitment: %w", err)
		}
		leaves[i] = leaf
	}
	tree, err := NewTree(leaves)
	if err != nil {
		return nil, err
	}
	out := make([]Revealed, len(assignments))
	for i, a := range assignments {
		proof, err := tree.Proof(i)
		if err != nil {
			return nil, err
		}
		out[i] = Revealed{Assignment: a, Proof: HexProof(proof)}
	}
	rec.round.Revealed = true
	if r.audit != nil {
		if err := r.audit.Log(ctx, "suspicion_round_revealed", map[string]any{"round_id": id}); err != nil {
			r.logger.Warn("suspicion: audit log failed", slog.String("error", err.Error()))
		}
	}
	return out, nil
}

// Verify checks a revealed assignment against a published root.
func Verify(rv Revealed, root string) bool {
	if !VerifyAssignment(rv.Assignment) {
		return false
	}
	leaf, err := ParseHex(rv.Commitment)
	if err != nil {
		return false
	}
	rootBytes, err := ParseHex(root)
	if err != nil {
		return false
	}
	proof := make([][]byte, len(rv.Proof))
	for i, p := range rv.Proof {
		if proof[i], err = ParseHex(p); err != nil {
			return false
		}
	}
	return VerifyProof(leaf, proof, rootBytes)
}
