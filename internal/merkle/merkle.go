// Package merkle maintains the per-poll ballot commitment tree. Leaves are
// hex-encoded SHA-256 digests; pairs are sorted lexicographically before
// combining so proof verification needs no position bookkeeping.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// emptyTreeSentinel is hashed to produce the root of a poll with no ballots,
// so an empty tree is distinguishable from a missing one.
const emptyTreeSentinel = "EMPTY_TREE"

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// LeafHash computes the ballot leaf. Fields are pipe-delimited to keep the
// encoding unambiguous; the timestamp is the bucketed cast time in UTC.
func LeafHash(pollID, optionID, nullifier string, bucketTime time.Time) string {
	return hashHex(fmt.Sprintf("%s|%s|%s|%s",
		pollID, optionID, nullifier, bucketTime.UTC().Format(time.RFC3339)))
}

// EmptyRoot is the root of a tree with no leaves.
func EmptyRoot() string {
	return hashHex(emptyTreeSentinel)
}

// combine hashes an ordered pair. Sorting first makes the operation
// commutative, which is what lets VerifyProof ignore sibling position.
func combine(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return hashHex(a + b)
}

// BuildRoot recomputes the commitment root over the full ordered leaf set.
// A single-leaf tree is one extra hash over the leaf, never the bare leaf,
// so a leaf value can never masquerade as a root.
//
// Cost is O(n) per call. The submission protocol rebuilds on every accepted
// ballot, which is fine at target scale; callers needing more throughput
// should cache interior nodes.
func BuildRoot(leaves []string) string {
	switch len(leaves) {
	case 0:
		return EmptyRoot()
	case 1:
		return hashHex(leaves[0])
	}

	level := make([]string, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, combine(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// Proof returns the sibling hashes from the leaf at index up to the root.
func Proof(leaves []string, index int) ([]string, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("merkle: proof index %d out of range for %d leaves", index, len(leaves))
	}
	if len(leaves) == 1 {
		return []string{}, nil
	}

	level := make([]string, len(leaves))
	copy(level, leaves)
	pos := index
	var siblings []string
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		sibling := pos ^ 1
		siblings = append(siblings, level[sibling])

		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, combine(level[i], level[i+1]))
		}
		level = next
		pos /= 2
	}
	return siblings, nil
}

// VerifyProof recombines sorted (current, sibling) pairs up to the root.
// An empty sibling list is the single-leaf case, where the root commits to
// one extra hash over the leaf.
func VerifyProof(leaf string, siblings []string, root string) bool {
	if len(siblings) == 0 {
		return hashHex(leaf) == root
	}
	current := leaf
	for _, sibling := range siblings {
		current = combine(current, sibling)
	}
	return current == root
}
