// Package scoring computes issue priority.
//
//	priority = w1·ln(1+upvotes) + w2·severity(category)
//	         + w3·ln(1+clusterDensity) − w4·ageDecay(now−createdAt)
//
// ageDecay(a) = 1 − e^(−a/τ) rises from 0 towards 1, so old unresolved
// issues lose at most w4 and still surface. Score is pure.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
)

// Default weights and decay horizon.
const (
	DefaultUpvoteWeight   = 1.0
	DefaultSeverityWeight = 1.0
	DefaultDensityWeight  = 0.75
	DefaultAgeWeight      = 2.0
	DefaultDecayHorizon   = 7 * 24 * time.Hour
)

// DefaultSeverity ranks categories by how urgently they need a crew.
var DefaultSeverity = map[model.Category]float64{
	model.CategoryPowerLineDown:         5.0,
	model.CategoryFlooding:              4.5,
	model.CategoryBrokenTrafficLight:    4.5,
	model.CategoryFallenTree:            4.0,
	model.CategoryLeakingPipe:           3.5,
	model.CategoryBlockedDrainage:       3.5,
	model.CategoryPothole:               3.0,
	model.CategoryBrokenStreetlight:     3.0,
	model.CategoryWasteDumping:          2.5,
	model.CategoryStrayAnimalConcern:    2.5,
	model.CategoryDamagedPublicProperty: 2.0,
	model.CategoryFadedRoadMarkings:     2.0,
	model.CategoryOvergrownVegetation:   1.5,
	model.CategoryBrokenParkBench:       1.0,
	model.CategoryGraffiti:              1.0,
	model.CategoryOther:                 1.0,
}

// Weights of the four priority terms.
type Weights struct {
	Upvotes  float64
	Severity float64
	Density  float64
	Age      float64
}

// Input is the part of an issue that priority depends on.
type Input struct {
	Upvotes        int
	Category       model.Category
	CreatedAt      time.Time
	ClusterDensity int
}

// InputFor extracts the scoring input from an issue.
func InputFor(issue *model.Issue, density int) Input {
	return Input{
		Upvotes:        issue.Upvotes,
		Category:       issue.Category,
		CreatedAt:      issue.CreatedAt,
		ClusterDensity: density,
	}
}

// Scorer holds validated weights.
type Scorer struct {
	weights  Weights
	horizon  time.Duration
	severity map[model.Category]float64
}

// New builds a scorer. Negative weights, a non-positive horizon and
// negative severities are rejected.
func New(opts ...Option) (*Scorer, error) {
	s := &Scorer{
		weights: Weights{
			Upvotes:  DefaultUpvoteWeight,
			Severity: DefaultSeverityWeight,
			Density:  DefaultDensityWeight,
			Age:      DefaultAgeWeight,
		},
		horizon:  DefaultDecayHorizon,
		severity: make(map[model.Category]float64, len(DefaultSeverity)),
	}
	for c, w := range DefaultSeverity {
		s.severity[c] = w
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	w := s.weights
	for name, v := range map[string]float64{"upvote": w.Upvotes, "severity": w.Severity, "density": w.Density, "age": w.Age} {
		if v < 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: %s weight %v", ErrNegativeWeight, name, v)
		}
	}
	if s.horizon <= 0 {
		return nil, ErrInvalidHorizon
	}
	return s, nil
}

// Weights returns the configured weights.
func (s *Scorer) Weights() Weights { return s.weights }

// Severity returns the weight of a category; unknown categories weigh as Other.
func (s *Scorer) Severity(c model.Category) float64 {
	if w, ok := s.severity[c]; ok {
		return w
	}
	return s.severity[model.CategoryOther]
}

// Score computes priority at now.
func (s *Scorer) Score(in Input, now time.Time) float64 {
	up := math.Log1p(float64(max(in.Upvotes, 0)))
	density := math.Log1p(float64(max(in.ClusterDensity, 0)))
	return s.weights.Upvotes*up +
		s.weights.Severity*s.Severity(in.Category) +
		s.weights.Density*density -
		s.weights.Age*AgeDecay(now.Sub(in.CreatedAt), s.horizon)
}

// AgeDecay maps an age onto [0, 1). Future timestamps count as age zero.
func AgeDecay(age, horizon time.Duration) float64 {
	if age <= 0 || horizon <= 0 {
		return 0
	}
	return -math.Expm1(-float64(age) / float64(horizon))
}
