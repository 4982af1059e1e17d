// Package suspicion runs the anti-collusion side of the engine: it assigns
// hidden adversarial roles to a bounded share of participants behind
// verifiable commitments, and scores public bets for display.
package suspicion

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// Role is a hidden assignment.
type Role string

const (
	RoleAdversary Role = "ADVERSARY"
	RoleCitizen   Role = "CITIZEN"
)

const nonceLen = 16

// RoleConfig bounds how many adversaries a round assigns.
type RoleConfig struct {
	TargetBps int64 `toml:"target_bps"`
	Min       int   `toml:"min"`
	Max       int   `toml:"max"`
}

// DefaultRoleConfig targets 12% clamped to [5, 30].
func DefaultRoleConfig() RoleConfig {
	return RoleConfig{TargetBps: 1_200, Min: 5, Max: 30}
}

// RoleCount is round(n * target) clamped to [Min, Max] and never above n.
func (c RoleConfig) RoleCount(n int) int {
	k := int((int64(n)*c.TargetBps + 5_000) / 10_000)
	if k < c.Min {
		k = c.Min
	}
	if k > c.Max {
		k = c.Max
	}
	if k > n {
		k = n
	}
	return k
}

// Assignment is one participant's secret role and the nonce that hides it.
type Assignment struct {
	Address    string `json:"address"`
	Role       Role   `json:"role"`
	Nonce      string `json:"nonce"`
	Commitment string `json:"commitment"`
}

// Commit hashes keccak256(lower(address) || role || nonce).
func Commit(address string, role Role, nonce []byte) []byte {
	return ethcrypto.Keccak256(
		[]byte(strings.ToLower(address)),
		[]byte(role),
		nonce,
	)
}

// VerifyAssignment recomputes a revealed assignment's commitment.
func VerifyAssignment(a Assignment) bool {
	nonce, err := hex.DecodeString(a.Nonce)
	if err != nil {
		return false
	}
	return "0x"+hex.EncodeToString(Commit(a.Address, a.Role, nonce)) == a.Commitment
}

// Assign shuffles participants with an unbiased Fisher-Yates driven by rng
// and gives the first RoleCount of them the adversary role. Every
// participant, adversary or not, gets a fresh nonce and commitment so the
// commitments reveal nothing about who holds which role.
func Assign(participants []string, cfg RoleConfig, rng io.Reader) ([]Assignment, error) {
	if rng == nil {
		rng = rand.Reader
	}
	seen := make(map[string]bool, len(participants))
	addrs := make([]string, 0, len(participants))
	for _, p := range participants {
		if !common.IsHexAddress(p) {
			return nil, fmt.Errorf("suspicion: participant %q: %w", p, domain.ErrInvalidAddress)
		}
		p = common.HexToAddress(p).Hex()
		if seen[p] {
			continue
		}
		seen[p] = true
		addrs = append(addrs, p)
	}
	for i := len(addrs) - 1; i > 0; i-- {
		j, err := rand.Int(rng, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, fmt.Errorf("suspicion: shuffle: %w", err)
		}
		addrs[i], addrs[j.Int64()] = addrs[j.Int64()], addrs[i]
	}

	k := cfg.RoleCount(len(addrs))
	out := make([]Assignment, len(addrs))
	for i, addr := range addrs {
		role := RoleCitizen
		if i < k {
			role = RoleAdversary
		}
		nonce := make([]byte, nonceLen)
		if _, err := io.ReadFull(rng, nonce); err != nil {
			return nil, fmt.Errorf("suspicion: nonce: %w", err)
		}
		out[i] = Assignment{
			Address:    addr,
			Role:       role,
			Nonce:      hex.EncodeToString(nonce),
			Commitment: "0x" + hex.EncodeToString(Commit(addr, role, nonce)),
		}
	}
	return out, nil
}
