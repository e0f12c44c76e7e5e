// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Category is one of the fixed issue categories.
type Category string

// Issue categories accepted at intake.
const (
	CategoryBlockedDrainage       Category = "Blocked Drainage"
	CategoryBrokenParkBench       Category = "Broken Park Bench"
	CategoryBrokenStreetlight     Category = "Broken Streetlight"
	CategoryBrokenTrafficLight    Category = "Broken Traffic Light"
	CategoryDamagedPublicProperty Category = "Damaged Public Property"
	CategoryFadedRoadMarkings     Category = "Faded Road Markings"
	CategoryFallenTree            Category = "Fallen Tree"
	CategoryFlooding              Category = "Flooding"
	CategoryGraffiti              Category = "Graffiti"
	CategoryLeakingPipe           Category = "Leaking Pipe"
	CategoryOvergrownVegetation   Category = "Overgrown Vegetation"
	CategoryPothole               Category = "Pothole"
	CategoryPowerLineDown         Category = "Power Line Down"
	CategoryStrayAnimalConcern    Category = "Stray Animal Concern"
	CategoryWasteDumping          Category = "Waste Dumping"
	CategoryOther                 Category = "Other"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryBlockedDrainage,
	CategoryBrokenParkBench,
	CategoryBrokenStreetlight,
	CategoryBrokenTrafficLight,
	CategoryDamagedPublicProperty,
	CategoryFadedRoadMarkings,
	CategoryFallenTree,
	CategoryFlooding,
	CategoryGraffiti,
	CategoryLeakingPipe,
	CategoryOvergrownVegetation,
	CategoryPothole,
	CategoryPowerLineDown,
	CategoryStrayAnimalConcern,
	CategoryWasteDumping,
	CategoryOther,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// ParseCategory matches s against the known categories ignoring case and
// surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, k := range Categories {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Status is the moderation state of an issue.
type Status string

// Issue statuses.
const (
	StatusReported   Status = "Reported"
	StatusInProgress Status = "In Progress"
	StatusResolved   Status = "Resolved"
)

// Open reports whether an issue in this status still counts toward triage.
func (s Status) Open() bool { return s != StatusResolved }

// ParseStatus matches s against the known statuses ignoring case.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for _, k := range []Status{StatusReported, StatusInProgress, StatusResolved} {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Issue is a reported civic problem.
type Issue struct {
	ID          string
	Category    Category
	Description string
	Lat         float64
	Lng         float64
	// Embedding is nil when it could not be generated at intake.
	Embedding []float32
	CreatedAt time.Time
	Status    Status
	Upvotes   int
	// Priority is derived; never treat it as input.
	Priority float64
}

// Open reports whether the issue is unresolved.
func (i *Issue) Open() bool { return i.Status.Open() }

// EmbeddingText is the text sent to the embedding backend for an issue.
func EmbeddingText(category Category, description string) string {
	description = strings.TrimSpace(description)
	if category == "" {
		return description
	}
	return string(category) + ": " + description
}

// Clone returns a copy that shares no mutable state with i.
func (i *Issue) Clone() Issue {
	c := *i
	if i.Embedding != nil {
		c.Embedding = append([]float32(nil), i.Embedding...)
	}
	return c
}

// ValidateCoordinates checks latitude and longitude ranges.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinates, lat, lng)
	}
	return nil
}

// ValidateReport checks the user-supplied part of a new issue. Every stored
// issue carries one of the fixed categories.
func ValidateReport(category Category, description string, lat, lng float64) error {
	if category == "" {
		return ErrMissingCategory
	}
	return ValidateDuplicateQuery(DuplicateQuery{Category: category, Description: description, Lat: lat, Lng: lng})
}

// ValidateDuplicateQuery checks a duplicate check request. The category is
// optional here.
func ValidateDuplicateQuery(q DuplicateQuery) error {
	if strings.TrimSpace(q.Description) == "" {
		return ErrEmptyDescription
	}
	if q.Category != "" && !q.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, q.Category)
	}
	return ValidateCoordinates(q.Lat, q.Lng)
}
