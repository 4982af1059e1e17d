package suspicion

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Tree is a binary Merkle tree over commitment hashes. Leaves and interior
// nodes are hashed under different prefixes, so an interior node can never
// pass as a leaf. Pairs are hashed in sorted order so a proof is just the
// list of siblings; an odd node at the end of a level is promoted unchanged.
type Tree struct {
	levels [][][]byte
}

// NewTree builds a tree over leaves, which must be non-empty.
func NewTree(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, errors.New("suspicion: merkle tree needs at least one leaf")
	}
	level := make([][]byte, len(leaves))
	for i, l := range leaves {
		level[i] = hashLeaf(l)
	}
	t := &Tree{levels: [][][]byte{level}}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

// Root is the tree root.
func (t *Tree) Root() []byte {
	return t.levels[len(t.levels)-1][0]
}

// Proof returns the sibling hashes from leaf i up to the root.
func (t *Tree) Proof(i int) ([][]byte, error) {
	if i < 0 || i >= len(t.levels[0]) {
		return nil, errors.New("suspicion: leaf index out of range")
	}
	var proof [][]byte
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := i ^ 1
		if sib < len(level) {
			proof = append(proof, level[sib])
		}
		i /= 2
	}
	return proof, nil
}

// VerifyProof checks that leaf is included under root.
func VerifyProof(leaf []byte, proof [][]byte, root []byte) bool {
	h := hashLeaf(leaf)
	for _, sib := range proof {
		h = hashPair(h, sib)
	}
	return bytes.Equal(h, root)
}

const (
	leafPrefix byte = 0x00
	nodePrefix byte = 0x01
)

func hashLeaf(data []byte) []byte {
	k := sha3.NewLegacyKeccak256()
	k.Write([]byte{leafPrefix})
	k.Write(data)
	return k.Sum(nil)
}

func hashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	k := sha3.NewLegacyKeccak256()
	k.Write([]byte{nodePrefix})
	k.Write(a)
	k.Write(b)
	return k.Sum(nil)
}

// HexProof renders a proof for transport.
func HexProof(proof [][]byte) []string {
	out := make([]string, len(proof))
	for i, p := range proof {
		out[i] = "0x" + hex.EncodeToString(p)
	}
	return out
}

// ParseHex decodes a 0x-prefixed hash.
func ParseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
