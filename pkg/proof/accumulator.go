// Package proof builds and verifies the proofs carried by ledger query responses.
// Clients use the same functions the gateway uses before it answers.
package proof

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/insoblok/inso-gateway/pkg/types"
)

var (
	// ErrLeafOutOfRange is returned when a proof is requested for a leaf that does not exist.
	ErrLeafOutOfRange = errors.New("leaf index out of range")

	// ErrMalformedProof is returned when the number of siblings does not fit the tree shape.
	ErrMalformedProof = errors.New("malformed accumulator proof")

	// ErrRootMismatch is returned when a proof does not hash up to the expected root.
	ErrRootMismatch = errors.New("accumulator root mismatch")
)

// AccumulatorRoot computes the binary Merkle root over leaves. The last node of a
// level with an odd number of nodes is promoted to the next level unchanged.
func AccumulatorRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}
	level := make([]common.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}

// ProveLeaf returns the inclusion proof of leaves[index].
func ProveLeaf(leaves []common.Hash, index uint64) (types.AccumulatorProof, error) {
	count := uint64(len(leaves))
	if index >= count {
		return types.AccumulatorProof{}, fmt.Errorf("%w: %d of %d", ErrLeafOutOfRange, index, count)
	}
	level := make([]common.Hash, len(leaves))
	copy(level, leaves)

	p := types.AccumulatorProof{LeafIndex: index, LeafCount: count}
	idx := index
	for len(level) > 1 {
		n := uint64(len(level))
		if !(idx == n-1 && n%2 == 1) {
			p.Siblings = append(p.Siblings, level[idx^1])
		}
		next := make([]common.Hash, 0, (n+1)/2)
		for i := uint64(0); i < n; i += 2 {
			if i+1 < n {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
		idx /= 2
	}
	return p, nil
}

// VerifyAccumulator checks that leaf hashes up to root along p.
func VerifyAccumulator(root common.Hash, leaf common.Hash, p types.AccumulatorProof) error {
	if p.LeafIndex >= p.LeafCount {
		return fmt.Errorf("%w: %d of %d", ErrLeafOutOfRange, p.LeafIndex, p.LeafCount)
	}
	node := leaf
	idx, n := p.LeafIndex, p.LeafCount
	used := 0
	for n > 1 {
		if !(idx == n-1 && n%2 == 1) {
			if used >= len(p.Siblings) {
				return fmt.Errorf("%w: too few siblings", ErrMalformedProof)
			}
			sibling := p.Siblings[used]
			used++
			if idx%2 == 0 {
				node = hashPair(node, sibling)
			} else {
				node = hashPair(sibling, node)
			}
		}
		idx /= 2
		n = (n + 1) / 2
	}
	if used != len(p.Siblings) {
		return fmt.Errorf("%w: %d unused siblings", ErrMalformedProof, len(p.Siblings)-used)
	}
	if node != root {
		return fmt.Errorf("%w: computed %s, expected %s", ErrRootMismatch, node.Hex(), root.Hex())
	}
	return nil
}

func hashPair(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left.Bytes(), right.Bytes())
}
