package behavior

import (
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithPolicy replaces the scoring rules. Zero durations and counts keep
// their defaults. MaxRecent is raised past BurstThreshold so a burst can
// always be counted.
func WithPolicy(p Policy) Option {
	return func(l *Ledger) {
		d := l.policy
		if p.BurstWindow <= 0 {
			p.BurstWindow = d.BurstWindow
		}
		if p.BurstThreshold <= 0 {
			p.BurstThreshold = d.BurstThreshold
		}
		if p.IdleTTL <= 0 {
			p.IdleTTL = d.IdleTTL
		}
		if p.MaxRecent <= 0 {
			p.MaxRecent = d.MaxRecent
		}
		if p.MaxRecent <= p.BurstThreshold {
			p.MaxRecent = p.BurstThreshold + 1
		}
		l.policy = p
	}
}

// WithClock overrides the time source used for reads and eviction.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}
