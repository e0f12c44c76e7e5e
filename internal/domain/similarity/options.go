package similarity

import (
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

// Option applies a configuration option to the Matcher.
type Option func(*Matcher)

// WithTimeout bounds every embedding call.
func WithTimeout(d time.Duration) Option {
	return func(m *Matcher) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithCooldown sets how long the backend is skipped after a failure.
func WithCooldown(d time.Duration) Option {
	return func(m *Matcher) {
		if d >= 0 {
			m.cooldown = d
		}
	}
}

// WithClock overrides the time source used by the health tracker.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.log = l
		}
	}
}
