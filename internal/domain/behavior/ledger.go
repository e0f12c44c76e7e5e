// Package behavior keeps a suspicion score per requesting identity.
//
// Every request outcome adjusts the score: rate-limit hits, bot user agents
// and bursts against sensitive endpoints raise it, ordinary successes lower
// it. The score is clamped to [0, 100] and decays lazily with time since the
// last update, so no background sweep is needed for correctness. Levels are
// derived from the score on every access.
package behavior

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

type entry struct {
	mu          sync.Mutex
	dead        bool
	score       float64
	lastUpdated time.Time
	lastEvent   time.Time
	recent      map[string][]time.Time // sensitive endpoint -> request times
}

// Ledger is safe for concurrent use. Updates for one identity serialize on
// that identity's mutex; distinct identities never contend.
type Ledger struct {
	policy  Policy
	now     func() time.Time
	log     logger.Logger
	entries sync.Map // identity -> *entry
	n       atomic.Int64
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{policy: DefaultPolicy(), now: time.Now, log: logger.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the scoring rules in force.
func (l *Ledger) Policy() Policy { return l.policy }

// IsBot reports whether userAgent matches a bot pattern.
func (l *Ledger) IsBot(userAgent string) bool { return l.policy.IsBot(userAgent) }

// Len returns the number of tracked identities.
func (l *Ledger) Len() int { return int(l.n.Load()) }

// Record applies one request outcome and returns the resulting state.
// Events without an identity are dropped.
func (l *Ledger) Record(ctx context.Context, ev model.BehaviorEvent) model.SuspicionState {
	if ev.IdentityKey == "" {
		l.log.Warn(ctx, "behavior event without identity dropped",
			logger.String("endpoint", ev.Endpoint), logger.Int("status", ev.StatusCode))
		metrics.RecordInvariantViolation("behavior", "empty_identity")
		return model.SuspicionState{}
	}
	ts := ev.TS
	if ts.IsZero() {
		ts = l.now()
	}

	for {
		e := l.load(ev.IdentityKey)
		e.mu.Lock()
		if e.dead {
			// evicted between load and lock; the map now holds a fresh entry
			e.mu.Unlock()
			continue
		}
		before := model.LevelFor(l.decay(e, ts))
		e.score = clamp(e.score + l.delta(e, ev, ts))
		if ts.After(e.lastEvent) {
			e.lastEvent = ts
		}
		st := l.snapshot(ev.IdentityKey, e)
		e.mu.Unlock()

		if st.Level != before {
			metrics.RecordSuspicionTransition(before.String(), st.Level.String())
			l.log.Info(ctx, "suspicion level changed",
				logger.String("identity", ev.IdentityKey),
				logger.String("from", before.String()),
				logger.String("to", st.Level.String()),
				logger.Float64("score", st.Score))
		}
		return st
	}
}

// State returns the decayed state of identity. Unknown identities are
// Normal with score 0 and are not created.
func (l *Ledger) State(_ context.Context, identity string) model.SuspicionState {
	v, ok := l.entries.Load(identity)
	if !ok {
		return model.SuspicionState{IdentityKey: identity, Level: model.LevelNormal}
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return model.SuspicionState{IdentityKey: identity, Level: model.LevelNormal}
	}
	l.decay(e, l.now())
	return l.snapshot(identity, e)
}

// Level returns the current level of identity.
func (l *Ledger) Level(ctx context.Context, identity string) model.SuspicionLevel {
	return l.State(ctx, identity).Level
}

// Evict forgets identities whose score has decayed to zero and that have
// been idle for the policy's IdleTTL. It returns the number removed.
func (l *Ledger) Evict(now time.Time) int {
	removed := 0
	l.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		l.decay(e, now)
		if !e.dead && e.score == 0 && now.Sub(e.lastEvent) >= l.policy.IdleTTL {
			e.dead = true
			l.entries.CompareAndDelete(k, e)
			l.n.Add(-1)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	if removed > 0 {
		metrics.RecordLedgerEvictions(removed)
	}
	metrics.UpdateLedgerIdentities(l.Len())
	return removed
}

func (l *Ledger) load(identity string) *entry {
	if v, ok := l.entries.Load(identity); ok {
		return v.(*entry)
	}
	v, loaded := l.entries.LoadOrStore(identity, &entry{recent: map[string][]time.Time{}})
	if !loaded {
		l.n.Add(1)
	}
	return v.(*entry)
}

// decay applies the time-based credit up to ts and returns the new score.
// An event older than the last update never moves the clock backwards.
func (l *Ledger) decay(e *entry, ts time.Time) float64 {
	if e.lastUpdated.IsZero() {
		e.lastUpdated = ts
		return e.score
	}
	if ts.After(e.lastUpdated) {
		minutes := ts.Sub(e.lastUpdated).Minutes()
		e.score = clamp(e.score - l.policy.DecayPerMinute*minutes)
		e.lastUpdated = ts
	}
	return e.score
}

func (l *Ledger) delta(e *entry, ev model.BehaviorEvent, ts time.Time) float64 {
	p := &l.policy
	var d float64
	penalized := false
	if ev.StatusCode == 429 {
		d += p.RateLimitedPenalty
		penalized = true
	}
	if p.IsBot(ev.UserAgent) {
		d += p.BotPenalty
		penalized = true
	}
	if p.sensitive(ev.Endpoint) {
		if l.burst(e, ev.Endpoint, ts) > p.BurstThreshold {
			d += p.BurstPenalty
			penalized = true
		}
	}
	if !penalized && ev.StatusCode >= 200 && ev.StatusCode < 300 {
		d -= p.SuccessCredit
	}
	return d
}

// burst records ts for endpoint and returns the requests inside the window.
func (l *Ledger) burst(e *entry, endpoint string, ts time.Time) int {
	cutoff := ts.Add(-l.policy.BurstWindow)
	times := e.recent[endpoint]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, ts)
	n := len(kept)
	if over := len(kept) - l.policy.MaxRecent; over > 0 {
		kept = append(kept[:0], kept[over:]...)
		n = len(kept) + over
	}
	e.recent[endpoint] = kept
	return n
}

func (l *Ledger) snapshot(identity string, e *entry) model.SuspicionState {
	recent := 0
	for _, ts := range e.recent {
		recent += len(ts)
	}
	return model.SuspicionState{
		IdentityKey:  identity,
		Score:        e.score,
		Level:        model.LevelFor(e.score),
		LastUpdated:  e.lastUpdated,
		LastEvent:    e.lastEvent,
		RecentEvents: recent,
	}
}

func clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(model.MaxSuspicion, score))
}
