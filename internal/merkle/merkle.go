// Package merkle builds binary Merkle trees over ordered leaf hashes and
// produces and verifies inclusion proofs.
//
// Odd-leaf policy: an unpaired node at any level is self-paired, i.e.
// hashed with a copy of itself. The same rule is applied in construction,
// proof generation, and proof verification; changing it changes every
// root computed over an odd-sized level.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Hash is a 32-byte SHA-256 digest.
type Hash = [32]byte

// Errors.
var (
	ErrEmptyLeaves     = errors.New("merkle: cannot build tree over empty leaf set")
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
)

// Tree is an immutable binary Merkle tree. Leaves are content hashes and
// are not re-hashed at the leaf level; the tree is a pure function of the
// ordered leaf sequence.
type Tree struct {
	Leaves []Hash
	Levels [][]Hash // Levels[0] == Leaves, last level is the root
	Root   Hash
}

// Proof is the sibling path needed to recompute a leaf's path to the root.
// Index parity at each level determines left/right concatenation order.
type Proof struct {
	Siblings []Hash `json:"siblings"`
	Index    int    `json:"index"`
}

// Build constructs a tree over the ordered leaves. An empty leaf set is a
// programming defect and is rejected. A single leaf yields Root == leaf.
func Build(leaves []Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyLeaves
	}

	level := make([]Hash, len(leaves))
	copy(level, leaves)

	tree := &Tree{
		Leaves: level,
		Levels: [][]Hash{level},
	}

	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left // self-pair the odd tail
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		tree.Levels = append(tree.Levels, next)
		level = next
	}

	tree.Root = level[0]
	return tree, nil
}

// Proof returns the inclusion proof for the leaf at index. A single-leaf
// tree yields a proof of length zero.
func (t *Tree) Proof(index int) (*Proof, error) {
	if index < 0 || index >= len(t.Leaves) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(t.Leaves))
	}

	siblings := make([]Hash, 0, len(t.Levels)-1)
	pos := index
	for _, level := range t.Levels[:len(t.Levels)-1] {
		sib := pos ^ 1
		if sib >= len(level) {
			sib = pos // self-paired tail: the sibling is the node itself
		}
		siblings = append(siblings, level[sib])
		pos /= 2
	}

	return &Proof{Siblings: siblings, Index: index}, nil
}

// Verify recomputes the path from leaf to root using the same pairing rule
// as construction: even index means the leaf is the left sibling, odd
// means right; the index is halved at each level.
func Verify(leaf Hash, siblings []Hash, root Hash, index int) bool {
	if index < 0 {
		return false
	}
	h := leaf
	pos := index
	for _, sib := range siblings {
		if pos%2 == 0 {
			h = hashPair(h, sib)
		} else {
			h = hashPair(sib, h)
		}
		pos /= 2
	}
	return h == root
}

// VerifyProof verifies an inclusion proof against a root.
func VerifyProof(leaf Hash, p *Proof, root Hash) bool {
	if p == nil {
		return false
	}
	return Verify(leaf, p.Siblings, root, p.Index)
}

func hashPair(left, right Hash) Hash {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// EncodeHex renders a hash as lowercase hex.
func EncodeHex(h Hash) string {
	return hex.EncodeToString(h[:])
}

// Encode0x renders a hash as an EVM-style 0x-prefixed bytes32.
func Encode0x(h Hash) string {
	return "0x" + hex.EncodeToString(h[:])
}

// DecodeHex parses a lowercase or 0x-prefixed hex hash.
func DecodeHex(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("merkle: malformed hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("merkle: hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}
