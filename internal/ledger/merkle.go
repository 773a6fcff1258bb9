// Package ledger builds a Merkle tree over analysis records so an exported
// proof file can be checked for tampering.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
)

// Algorithm names the leaf and node hashing scheme.
const Algorithm = "sha256-merkle-jcs"

var ErrIndexOutOfRange = errors.New("leaf index out of range")

// Leaf and interior hashes are domain separated so a leaf can never be
// presented as a node.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"` // sibling is on the left
}

// Ledger maintains the tree leaves. The root is recomputed on demand.
type Ledger struct {
	mu     sync.Mutex
	leaves [][]byte
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// LeafHash canonicalizes v with RFC 8785 and hashes it as a leaf.
func LeafHash(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize leaf: %w", err)
	}
	return hashLeaf(canonical), nil
}

func hashLeaf(data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(data)
	return h.Sum(nil)
}

func hashNode(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// Append adds v as the next leaf and returns its index.
func (l *Ledger) Append(v any) (int, error) {
	leaf, err := LeafHash(v)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.leaves = append(l.leaves, leaf)
	return len(l.leaves) - 1, nil
}

// Len returns the number of leaves.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leaves)
}

// Root returns the hex root, or "" for an empty ledger. An odd node at any
// level is paired with itself.
func (l *Ledger) Root() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.leaves) == 0 {
		return ""
	}

	nodes := l.leaves
	for len(nodes) > 1 {
		next := make([][]byte, 0, (len(nodes)+1)/2)
		for i := 0; i < len(nodes); i += 2 {
			right := nodes[i]
			if i+1 < len(nodes) {
				right = nodes[i+1]
			}
			next = append(next, hashNode(nodes[i], right))
		}
		nodes = next
	}
	return hex.EncodeToString(nodes[0])
}

// Proof returns the sibling path for the leaf at index.
func (l *Ledger) Proof(index int) ([]ProofStep, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.leaves) {
		return nil, ErrIndexOutOfRange
	}

	var steps []ProofStep
	nodes := l.leaves
	for len(nodes) > 1 {
		sibling := index ^ 1
		if sibling >= len(nodes) {
			sibling = index
		}
		steps = append(steps, ProofStep{
			Hash: hex.EncodeToString(nodes[sibling]),
			Left: sibling < index,
		})

		next := make([][]byte, 0, (len(nodes)+1)/2)
		for i := 0; i < len(nodes); i += 2 {
			right := nodes[i]
			if i+1 < len(nodes) {
				right = nodes[i+1]
			}
			next = append(next, hashNode(nodes[i], right))
		}
		nodes = next
		index /= 2
	}
	return steps, nil
}

// VerifyInclusion checks that v is a leaf of the tree with the given root.
func VerifyInclusion(v any, proof []ProofStep, root string) (bool, error) {
	h, err := LeafHash(v)
	if err != nil {
		return false, err
	}

	for _, step := range proof {
		sibling, err := hex.DecodeString(step.Hash)
		if err != nil {
			return false, fmt.Errorf("proof step: %w", err)
		}
		if step.Left {
			h = hashNode(sibling, h)
		} else {
			h = hashNode(h, sibling)
		}
	}
	return hex.EncodeToString(h) == root, nil
}

// Build returns a ledger holding one leaf per item, in order.
func Build[T any](items []T) (*Ledger, error) {
	l := NewLedger()
	for i := range items {
		if _, err := l.Append(items[i]); err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
	}
	return l, nil
}
