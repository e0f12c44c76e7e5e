package limiter

import (
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

// Option applies a configuration option to the Limiter.
type Option func(*Limiter)

// WithLimits sets base requests per window by endpoint name.
func WithLimits(limits map[string]int) Option {
	return func(l *Limiter) {
		for name, n := range limits {
			if n >= 0 {
				l.limits[name] = n
			}
		}
	}
}

// WithDefaultLimit sets the base limit for endpoints without their own.
func WithDefaultLimit(n int) Option {
	return func(l *Limiter) {
		if n >= 0 {
			l.defaultLimit = n
		}
	}
}

// WithWindow sets the counting window.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithLongLimits sets base requests per long window by endpoint name. A
// negative value removes the endpoint's long cap.
func WithLongLimits(limits map[string]int) Option {
	return func(l *Limiter) {
		for name, n := range limits {
			if n < 0 {
				delete(l.longLimits, name)
				continue
			}
			l.longLimits[name] = n
		}
	}
}

// WithLongWindow sets the window of the long caps.
func WithLongWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.longWindow = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}
