package repository

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

// Entry is one row of the priority board.
type Entry struct {
	Rank     int
	IssueID  string
	Priority float64
}

// Board orders open issues by priority DESC, then id ASC.
//
// It is a treap keyed on (priority, id) with random heap priorities, so
// updates, rank lookups and top-N reads are O(log n) expected. Subtree sizes
// give the rank of any issue without a traversal.
type Board struct {
	mu   sync.RWMutex
	root *node
	byID map[string]float64
}

type node struct {
	id    string
	score float64
	heap  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// before reports whether (aScore, aID) ranks ahead of (bScore, bID).
func before(aScore float64, aID string, bScore float64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score float64) *node {
	if n == nil {
		return &node{id: id, score: score, heap: rand.Uint64(), size: 1}
	}
	if before(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.heap > n.heap {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.heap > n.heap {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, id string, score float64) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.id == id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.heap > n.right.heap {
			n = rotateRight(n)
			n.right = remove(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, id, score)
		}
	case before(score, id, n.score, n.id):
		n.left = remove(n.left, id, score)
	default:
		n.right = remove(n.right, id, score)
	}
	fix(n)
	return n
}

func collect(n *node, limit int, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collect(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, Entry{Rank: len(*out) + 1, IssueID: n.id, Priority: n.score})
	}
	collect(n.right, limit, out)
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{byID: make(map[string]float64)}
}

// Upsert places id at priority, moving it if it is already on the board.
func (b *Board) Upsert(id string, priority float64) {
	start := time.Now()
	b.mu.Lock()
	if old, ok := b.byID[id]; ok {
		if old == priority {
			b.mu.Unlock()
			return
		}
		b.root = remove(b.root, id, old)
	}
	b.byID[id] = priority
	b.root = insert(b.root, id, priority)
	b.mu.Unlock()
	metrics.RecordStoreLatency("board", "upsert", float64(time.Since(start).Milliseconds()))
}

// Remove takes id off the board and reports whether it was there.
func (b *Board) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	old, ok := b.byID[id]
	if !ok {
		return false
	}
	b.root = remove(b.root, id, old)
	delete(b.byID, id)
	return true
}

// TopN returns up to n entries, best first.
func (b *Board) TopN(n int) ([]Entry, error) {
	if n < 1 {
		metrics.RecordErrorByComponent("board", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	start := time.Now()
	b.mu.RLock()
	out := make([]Entry, 0, min(n, len(b.byID)))
	collect(b.root, n, &out)
	b.mu.RUnlock()
	metrics.RecordStoreLatency("board", "top_n", float64(time.Since(start).Milliseconds()))
	return out, nil
}

// Rank returns the board position of id.
func (b *Board) Rank(id string) (Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	score, ok := b.byID[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	rank := 1
	for n := b.root; n != nil; {
		switch {
		case n.id == id:
			return Entry{Rank: rank + nsize(n.left), IssueID: id, Priority: score}, nil
		case before(score, id, n.score, n.id):
			n = n.left
		default:
			rank += nsize(n.left) + 1
			n = n.right
		}
	}
	return Entry{}, ErrNotFound
}

// Len returns the number of issues on the board.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}
