// Package limiter admits or denies requests per identity and endpoint.
//
// Each endpoint has a base limit per minute and, for the endpoints worth
// abusing, a second cap per hour. The suspicion level of the identity scales
// both ceilings; counting itself is a sliding-window counter that knows
// nothing about suspicion.
package limiter

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

// DefaultLimits are base requests per minute by endpoint.
var DefaultLimits = map[string]int{
	"report_issue":     5,
	"upvote":           20,
	"check_duplicates": 10,
	"search":           30,
	"update_status":    30,
	"compute_priority": 30,
	"get_issue":        60,
	"top_issues":       60,
	"suspicion":        30,
}

// DefaultLongLimits are base requests per hour. Endpoints without an entry
// have no hourly cap.
var DefaultLongLimits = map[string]int{
	"report_issue":     20,
	"upvote":           100,
	"check_duplicates": 50,
}

const (
	defaultLimit      = 60
	defaultWindow     = time.Minute
	defaultLongWindow = time.Hour
)

// Ledger is the suspicion source the limiter consults.
type Ledger interface {
	Level(ctx context.Context, identity string) model.SuspicionLevel
	IsBot(userAgent string) bool
}

// Factor returns the ceiling multiplier for a level.
func Factor(level model.SuspicionLevel) float64 {
	switch level {
	case model.LevelNormal:
		return 1.0
	case model.LevelElevated:
		return 0.5
	case model.LevelRestricted:
		return 0.1
	default:
		return 0
	}
}

// EffectiveLimit scales base by the level factor. A positive factor never
// rounds a positive base below one request.
func EffectiveLimit(base int, level model.SuspicionLevel) int {
	f := Factor(level)
	if f == 0 || base <= 0 {
		return 0
	}
	return max(1, int(math.Floor(float64(base)*f)))
}

type counterKey struct {
	identity string
	endpoint string
}

// bucket is a two-bucket sliding window: the previous bucket's count is
// weighted by how much of it still overlaps the window ending now.
type bucket struct {
	start time.Time
	curr  int
	prev  int
}

// counter tracks one identity on one endpoint in both windows.
type counter struct {
	mu       sync.Mutex
	short    bucket
	long     bucket
	span     time.Duration
	lastSeen time.Time
}

// Limiter is safe for concurrent use.
type Limiter struct {
	ledger       Ledger
	limits       map[string]int
	defaultLimit int
	window       time.Duration
	longLimits   map[string]int
	longWindow   time.Duration
	now          func() time.Time
	log          logger.Logger

	counters sync.Map // counterKey -> *counter
	n        atomic.Int64
}

// New creates a limiter backed by ledger.
func New(ledger Ledger, opts ...Option) *Limiter {
	l := &Limiter{
		ledger:       ledger,
		limits:       make(map[string]int, len(DefaultLimits)),
		defaultLimit: defaultLimit,
		window:       defaultWindow,
		longLimits:   make(map[string]int, len(DefaultLongLimits)),
		longWindow:   defaultLongWindow,
		now:          time.Now,
		log:          logger.NewNop(),
	}
	for k, v := range DefaultLimits {
		l.limits[k] = v
	}
	for k, v := range DefaultLongLimits {
		l.longLimits[k] = v
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Window returns the counting window.
func (l *Limiter) Window() time.Duration { return l.window }

// LongWindow returns the window of the hourly caps.
func (l *Limiter) LongWindow() time.Duration { return l.longWindow }

// BaseLimit returns the unscaled limit of endpoint.
func (l *Limiter) BaseLimit(endpoint string) int {
	if n, ok := l.limits[endpoint]; ok {
		return n
	}
	return l.defaultLimit
}

// LongLimit returns the unscaled hourly cap of endpoint, if it has one.
func (l *Limiter) LongLimit(endpoint string) (int, bool) {
	n, ok := l.longLimits[endpoint]
	return n, ok
}

// Len returns the number of live counters.
func (l *Limiter) Len() int { return int(l.n.Load()) }

// Admit decides whether one request may proceed and, if so, counts it in
// every window. Both windows are scaled by the same level factor and the
// request passes only when each of them has room. The admission reports the
// window that denied the request, or else the one with the least budget
// left. Denied requests are not counted.
func (l *Limiter) Admit(ctx context.Context, identity, endpoint, userAgent string) model.Admission {
	level := l.ledger.Level(ctx, identity)
	if level < model.LevelElevated && l.ledger.IsBot(userAgent) {
		level = model.LevelElevated
	}
	limit := EffectiveLimit(l.BaseLimit(endpoint), level)
	longBase, hasLong := l.LongLimit(endpoint)
	longLimit := EffectiveLimit(longBase, level)
	adm := model.Admission{EffectiveLimit: limit, Window: l.window, Level: level}

	now := l.now()
	c := l.counter(counterKey{identity: identity, endpoint: endpoint})
	c.mu.Lock()
	c.short.roll(now, l.window)
	used := c.short.estimate(now, l.window)
	okShort := limit > 0 && used < float64(limit)

	var usedLong float64
	okLong := true
	c.span = l.window
	if hasLong {
		c.span = max(l.window, l.longWindow)
		c.long.roll(now, l.longWindow)
		usedLong = c.long.estimate(now, l.longWindow)
		okLong = longLimit > 0 && usedLong < float64(longLimit)
	}

	if okShort && okLong {
		c.short.curr++
		used++
		if hasLong {
			c.long.curr++
			usedLong++
		}
		adm.Allowed = true
	} else {
		if !okShort {
			adm.RetryAfter = c.short.retryAfter(now, l.window, limit)
		}
		if !okLong {
			adm.RetryAfter = max(adm.RetryAfter, c.long.retryAfter(now, l.longWindow, longLimit))
		}
	}
	c.lastSeen = now
	c.mu.Unlock()

	adm.Remaining = max(0, limit-int(math.Ceil(used)))
	if hasLong {
		if rem := max(0, longLimit-int(math.Ceil(usedLong))); !okLong || rem < adm.Remaining {
			adm.EffectiveLimit, adm.Remaining, adm.Window = longLimit, rem, l.longWindow
		}
	}
	metrics.RecordAdmission(endpoint, level.String(), adm.Allowed)
	if !adm.Allowed {
		l.log.Debug(ctx, "request denied",
			logger.String("endpoint", endpoint),
			logger.String("level", level.String()),
			logger.Int("limit", adm.EffectiveLimit),
			logger.Duration("window", adm.Window))
	}
	return adm
}

// Sweep drops counters idle for two of their longest windows and returns how
// many it removed.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	l.counters.Range(func(k, v any) bool {
		c := v.(*counter)
		c.mu.Lock()
		idle := now.Sub(c.lastSeen) >= 2*max(c.span, l.window)
		c.mu.Unlock()
		if idle && l.counters.CompareAndDelete(k, c) {
			l.n.Add(-1)
			removed++
		}
		return true
	})
	metrics.UpdateLimiterCounters(l.Len())
	return removed
}

func (l *Limiter) counter(k counterKey) *counter {
	if v, ok := l.counters.Load(k); ok {
		return v.(*counter)
	}
	v, loaded := l.counters.LoadOrStore(k, &counter{})
	if !loaded {
		l.n.Add(1)
	}
	return v.(*counter)
}

func (b *bucket) roll(now time.Time, window time.Duration) {
	start := now.Truncate(window)
	switch {
	case b.start.IsZero():
		b.start = start
	case start.Sub(b.start) >= 2*window:
		b.prev, b.curr, b.start = 0, 0, start
	case start.After(b.start):
		b.prev, b.curr, b.start = b.curr, 0, start
	}
}

func (b *bucket) estimate(now time.Time, window time.Duration) float64 {
	overlap := 1 - float64(now.Sub(b.start))/float64(window)
	return float64(b.prev)*math.Max(0, overlap) + float64(b.curr)
}

// retryAfter is the time until the estimate drops below limit, at least one
// second and at most the rest of the current window.
func (b *bucket) retryAfter(now time.Time, window time.Duration, limit int) time.Duration {
	d := b.start.Add(window).Sub(now)
	if limit > 0 && b.prev > 0 && b.curr < limit {
		// prev·(1 − t/window) + curr < limit
		need := 1 - float64(limit-b.curr)/float64(b.prev)
		if at := b.start.Add(time.Duration(need * float64(window))).Sub(now); at < d {
			d = at
		}
	}
	return max(d, time.Second)
}
