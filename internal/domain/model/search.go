package model

import (
	"fmt"
	"math"
	"strings"
)

// Location is a point on the map.
type Location struct {
	Lat float64
	Lng float64
}

// SearchQuery looks up issues by meaning, by place or by both.
type SearchQuery struct {
	// Text is matched against issue descriptions. Empty lists every issue
	// near the location instead, newest first.
	Text string
	// Near restricts the search to RadiusMeters around a point.
	Near *Location
	// RadiusMeters falls back to the configured radius when zero.
	RadiusMeters float64
	// Limit falls back to the default page size when zero.
	Limit int
}

// SearchHit is one issue found by a search.
type SearchHit struct {
	Issue Issue
	// Similarity is 0 for location-only searches.
	Similarity float64
	// DistanceMeters is set when the search had a location.
	DistanceMeters *float64
}

// SearchResult lists hits, best first.
type SearchResult struct {
	// Mode is "embedding", "lexical" or "location".
	Mode     string
	Degraded bool
	Hits     []SearchHit
}

// ValidateSearch checks a search request.
func ValidateSearch(q SearchQuery) error {
	if strings.TrimSpace(q.Text) == "" && q.Near == nil {
		return ErrEmptySearch
	}
	if q.Near != nil {
		if err := ValidateCoordinates(q.Near.Lat, q.Near.Lng); err != nil {
			return err
		}
	}
	if q.RadiusMeters < 0 || math.IsNaN(q.RadiusMeters) || math.IsInf(q.RadiusMeters, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, q.RadiusMeters)
	}
	return nil
}
