// Package merkle builds binary Merkle trees over proof bundle content
// hashes and exposes per-leaf inclusion paths.
//
// Odd-leaf rule: when a level has an odd number of nodes, the last unpaired
// node is carried forward unchanged to the next level, NOT duplicated
// and re-hashed. The rule is observable in the exposed proof paths (a
// carried node contributes no sibling step at that level) and must stay
// consistent across releases.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrNoLeaves is returned when a tree is built over an empty leaf set.
var ErrNoLeaves = errors.New("merkle: no leaves to aggregate")

// ProofStep is one sibling hash in an authentication path. Left indicates
// the sibling sits to the left of the node being proven.
type ProofStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

// Tree is a fully materialized Merkle tree. Leaves keep the caller's order;
// Proofs[i] is the authentication path for Leaves[i].
type Tree struct {
	Leaves []string      `json:"leaves"`
	Root   string        `json:"root"`
	Proofs [][]ProofStep `json:"proofs"`
}

// Build constructs the tree. A single leaf is valid: the root equals the
// leaf and its path is empty.
func Build(leaves []string) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	t := &Tree{
		Leaves: append([]string(nil), leaves...),
		Proofs: make([][]ProofStep, len(leaves)),
	}
	for i := range t.Proofs {
		t.Proofs[i] = []ProofStep{}
	}

	// index[i] tracks where leaf i currently sits in the level being reduced.
	index := make([]int, len(leaves))
	for i := range index {
		index[i] = i
	}

	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				// Unpaired tail node carried forward unchanged.
				next = append(next, level[i])
			}
		}

		for leaf, pos := range index {
			sibling := pos ^ 1
			if sibling < len(level) {
				t.Proofs[leaf] = append(t.Proofs[leaf], ProofStep{
					Hash: level[sibling],
					Left: sibling < pos,
				})
			}
			index[leaf] = pos / 2
		}

		level = next
	}

	t.Root = level[0]
	return t, nil
}

// VerifyInclusion recomputes the root from a leaf and its authentication
// path, reporting whether it matches the expected root. Consumers can run
// this without the rest of the tree.
func VerifyInclusion(leaf string, path []ProofStep, root string) bool {
	current := leaf
	for _, step := range path {
		if step.Left {
			current = hashPair(step.Hash, current)
		} else {
			current = hashPair(current, step.Hash)
		}
	}
	return current == root
}

func hashPair(left, right string) string {
	h := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(h[:])
}
