package model

// DuplicateQuery describes a report being checked before creation.
type DuplicateQuery struct {
	Category    Category
	Description string
	Lat         float64
	Lng         float64
}

// DuplicateVerdict is the result of a duplicate check.
type DuplicateVerdict struct {
	IsDuplicate    bool
	MatchedIssueID string
	MatchedTitle   string
	CombinedScore  float64
	// Degraded is true when the lexical fallback produced the score.
	Degraded bool
}
