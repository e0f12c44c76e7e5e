package similarity

import (
	"sync"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

// Health tracks embedding backend availability. A failure opens the breaker
// for the cooldown; afterwards calls are let through again and the next
// result decides the state.
type Health struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time

	until    time.Time
	failures int
}

// NewHealth creates a tracker that starts healthy.
func NewHealth(cooldown time.Duration, now func() time.Time) *Health {
	if now == nil {
		now = time.Now
	}
	metrics.UpdateEmbeddingHealthy(true)
	return &Health{cooldown: cooldown, now: now}
}

// Available reports whether a backend call should be attempted.
func (h *Health) Available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.now().Before(h.until)
}

// Failure opens the breaker.
func (h *Health) Failure() {
	h.mu.Lock()
	h.failures++
	h.until = h.now().Add(h.cooldown)
	h.mu.Unlock()
	metrics.UpdateEmbeddingHealthy(false)
}

// Success closes the breaker.
func (h *Health) Success() {
	h.mu.Lock()
	h.failures = 0
	h.until = time.Time{}
	h.mu.Unlock()
	metrics.UpdateEmbeddingHealthy(true)
}

// ConsecutiveFailures returns the failures since the last success.
func (h *Health) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}
