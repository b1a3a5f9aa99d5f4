package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrIndexOutOfRange = errors.New("ledger: leaf index out of range")

// Entry is one committed transition in the audit log.
type Entry struct {
	Index   uint64    `json:"index"`
	Op      string    `json:"op"`
	Subject string    `json:"subject"`
	Detail  string    `json:"detail"`
	Time    time.Time `json:"time"`
	Hash    string    `json:"hash"`
}

func (e Entry) canonical() string {
	return fmt.Sprintf("%d|%s|%s|%s|%s", e.Index, e.Time.UTC().Format(time.RFC3339Nano), e.Op, e.Subject, e.Detail)
}

// ProofStep is a sibling hash on the path from a leaf to the root. Left
// reports whether the sibling sits to the left of the running hash.
type ProofStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

// Ledger is an append-only merkle log. An odd node at any level is paired
// with itself.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	levels  [][]string // levels[0] are leaf hashes, last level is the root
	now     func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// NewLedgerWithClock is NewLedger with a fixed time source, for tests.
func NewLedgerWithClock(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

// hashData returns the hex SHA-256 of data.
func hashData(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func hashPair(left, right string) string {
	return hashData(left + right)
}

// Append records a transition and returns its entry.
func (l *Ledger) Append(op, subject, detail string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Index:   uint64(len(l.entries)),
		Op:      op,
		Subject: subject,
		Detail:  detail,
		Time:    l.now(),
	}
	e.Hash = hashData(e.canonical())
	l.entries = append(l.entries, e)
	l.rebuild(e.Hash)
	return e
}

// rebuild appends leaf and recomputes the right edge of every level.
func (l *Ledger) rebuild(leaf string) {
	if len(l.levels) == 0 {
		l.levels = [][]string{{}}
	}
	l.levels[0] = append(l.levels[0], leaf)

	level := 0
	for len(l.levels[level]) > 1 {
		nodes := l.levels[level]
		if level+1 == len(l.levels) {
			l.levels = append(l.levels, nil)
		}
		parentCount := (len(nodes) + 1) / 2
		parents := l.levels[level+1]
		if len(parents) > parentCount {
			parents = parents[:parentCount]
		}
		// Only the last parent can change when a leaf is appended, but an
		// earlier one may be missing if this level just grew past it.
		start := len(parents) - 1
		if start < 0 {
			start = 0
		}
		parents = parents[:start]
		for i := start; i < parentCount; i++ {
			left := nodes[2*i]
			right := left
			if 2*i+1 < len(nodes) {
				right = nodes[2*i+1]
			}
			parents = append(parents, hashPair(left, right))
		}
		l.levels[level+1] = parents
		level++
	}
	l.levels = l.levels[:level+1]
}

// Root returns the current merkle root, empty when nothing was appended.
func (l *Ledger) Root() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.levels) == 0 {
		return ""
	}
	return l.levels[len(l.levels)-1][0]
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entry returns the entry at index i.
func (l *Ledger) Entry(i uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i >= uint64(len(l.entries)) {
		return Entry{}, ErrIndexOutOfRange
	}
	return l.entries[i], nil
}

// Proof returns the inclusion proof for leaf i against the current root.
func (l *Ledger) Proof(i uint64) ([]ProofStep, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i >= uint64(len(l.entries)) {
		return nil, ErrIndexOutOfRange
	}
	var proof []ProofStep
	idx := int(i)
	for level := 0; level < len(l.levels)-1; level++ {
		nodes := l.levels[level]
		if idx%2 == 0 {
			sibling := nodes[idx]
			if idx+1 < len(nodes) {
				sibling = nodes[idx+1]
			}
			proof = append(proof, ProofStep{Hash: sibling, Left: false})
		} else {
			proof = append(proof, ProofStep{Hash: nodes[idx-1], Left: true})
		}
		idx /= 2
	}
	return proof, nil
}

// VerifyProof checks that leafHash is included under root.
func VerifyProof(leafHash string, proof []ProofStep, root string) bool {
	h := leafHash
	for _, step := range proof {
		if step.Left {
			h = hashPair(step.Hash, h)
		} else {
			h = hashPair(h, step.Hash)
		}
	}
	return h == root
}

// VerifyEntry recomputes e's hash from its fields and checks inclusion.
func VerifyEntry(e Entry, proof []ProofStep, root string) bool {
	return hashData(e.canonical()) == e.Hash && VerifyProof(e.Hash, proof, root)
}
