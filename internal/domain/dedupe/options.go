package dedupe

import (
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/similarity"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

// KeyOption applies a configuration option to the key recorder.
type KeyOption func(*memoryKeys)

// WithMaxKeys bounds the number of remembered keys. maxKeys <= 0 keeps every
// key forever.
func WithMaxKeys(maxKeys int) KeyOption {
	return func(k *memoryKeys) {
		k.limit = maxKeys
	}
}

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithRadiusMeters sets the hard candidate radius.
func WithRadiusMeters(m float64) Option {
	return func(r *Resolver) {
		if m > 0 {
			r.radiusM = m
		}
	}
}

// WithThresholds sets the duplicate thresholds per similarity mode.
func WithThresholds(t similarity.Thresholds) Option {
	return func(r *Resolver) {
		if t.Embedding > 0 && t.Embedding <= 1 {
			r.thresholds.Embedding = t.Embedding
		}
		if t.Lexical > 0 && t.Lexical <= 1 {
			r.thresholds.Lexical = t.Lexical
		}
	}
}

// WithCandidateLimit caps the matches ranked per query. Ties with the last
// kept match are never cut.
func WithCandidateLimit(k int) Option {
	return func(r *Resolver) {
		r.k = k
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}
