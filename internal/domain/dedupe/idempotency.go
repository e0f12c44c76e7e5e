package dedupe

import (
	"context"
	"sync"
)

const defaultKeyCapacity = 50000

// KeyRecorder remembers client idempotency keys for report submissions so a
// retried POST returns the issue created by the first attempt.
type KeyRecorder interface {
	// SeenAndRecord claims key. When the key was already claimed it returns
	// seen=true and the issue id bound to it, which is empty while the first
	// request is still in flight.
	SeenAndRecord(ctx context.Context, key string) (issueID string, seen bool)
	// Bind attaches the created issue id to a claimed key.
	Bind(ctx context.Context, key, issueID string)
	// Unrecord releases a claim whose request failed so it can be retried.
	Unrecord(ctx context.Context, key string)
	Size() int
}

// memoryKeys is a bounded KeyRecorder. Keys live in a ring; when it is full
// the oldest claim is forgotten.
type memoryKeys struct {
	mu    sync.Mutex
	ids   map[string]claim
	ring  []slot
	next  int
	limit int
	gen   uint64
}

type claim struct {
	issueID string
	gen     uint64
}

type slot struct {
	key string
	gen uint64
}

// NewKeyRecorder creates an in-memory recorder.
func NewKeyRecorder(opts ...KeyOption) KeyRecorder {
	k := &memoryKeys{limit: defaultKeyCapacity}
	for _, opt := range opts {
		opt(k)
	}
	k.ids = make(map[string]claim)
	if k.limit > 0 {
		k.ring = make([]slot, 0, min(k.limit, 1024))
	}
	return k
}

func (k *memoryKeys) SeenAndRecord(_ context.Context, key string) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if c, ok := k.ids[key]; ok {
		return c.issueID, true
	}
	k.gen++
	if k.limit > 0 {
		s := slot{key: key, gen: k.gen}
		if len(k.ring) < k.limit {
			k.ring = append(k.ring, s)
		} else {
			old := k.ring[k.next]
			if c, ok := k.ids[old.key]; ok && c.gen == old.gen {
				delete(k.ids, old.key)
			}
			k.ring[k.next] = s
			k.next = (k.next + 1) % k.limit
		}
	}
	k.ids[key] = claim{gen: k.gen}
	return "", false
}

func (k *memoryKeys) Bind(_ context.Context, key, issueID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if c, ok := k.ids[key]; ok {
		c.issueID = issueID
		k.ids[key] = c
	}
}

// Unrecord leaves the ring slot in place. Slots carry the generation of
// their claim, so a stale slot never evicts a later claim of the same key.
func (k *memoryKeys) Unrecord(_ context.Context, key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.ids, key)
}

func (k *memoryKeys) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.ids)
}
