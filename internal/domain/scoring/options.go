package scoring

import (
	"fmt"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
)

// Option configures a Scorer.
type Option func(*Scorer) error

// WithWeights replaces all four weights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) error {
		s.weights = w
		return nil
	}
}

// WithDecayHorizon sets τ of the age decay.
func WithDecayHorizon(d time.Duration) Option {
	return func(s *Scorer) error {
		s.horizon = d
		return nil
	}
}

// WithSeverity overrides category weights keyed by category name.
func WithSeverity(weights map[string]float64) Option {
	return func(s *Scorer) error {
		for name, w := range weights {
			c, err := model.ParseCategory(name)
			if err != nil {
				return fmt.Errorf("severity override: %w", err)
			}
			if w < 0 {
				return fmt.Errorf("%w: severity of %s is %v", ErrNegativeWeight, c, w)
			}
			s.severity[c] = w
		}
		return nil
	}
}
