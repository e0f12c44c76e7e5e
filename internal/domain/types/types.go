// Package types contains the JSON shapes exchanged over the HTTP API.
package types

import (
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
)

// Issue is the public view of an issue.
type Issue struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Description  string    `json:"description"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Status       string    `json:"status"`
	Upvotes      int       `json:"upvotes"`
	Priority     float64   `json:"priority"`
	CreatedAt    time.Time `json:"created_at"`
	HasEmbedding bool      `json:"has_embedding"`
}

// FromIssue converts a domain issue.
func FromIssue(i *model.Issue) Issue {
	return Issue{
		ID:           i.ID,
		Category:     string(i.Category),
		Description:  i.Description,
		Lat:          i.Lat,
		Lng:          i.Lng,
		Status:       string(i.Status),
		Upvotes:      i.Upvotes,
		Priority:     i.Priority,
		CreatedAt:    i.CreatedAt,
		HasEmbedding: len(i.Embedding) > 0,
	}
}

// Verdict is the public view of a duplicate check.
type Verdict struct {
	IsDuplicate    bool    `json:"is_duplicate"`
	MatchedIssueID string  `json:"matched_issue_id,omitempty"`
	MatchedTitle   string  `json:"matched_title,omitempty"`
	CombinedScore  float64 `json:"combined_score"`
	Degraded       bool    `json:"degraded"`
}

// FromVerdict converts a domain verdict.
func FromVerdict(v model.DuplicateVerdict) Verdict {
	return Verdict{
		IsDuplicate:    v.IsDuplicate,
		MatchedIssueID: v.MatchedIssueID,
		MatchedTitle:   v.MatchedTitle,
		CombinedScore:  v.CombinedScore,
		Degraded:       v.Degraded,
	}
}

// Entry is one row of the priority board.
type Entry struct {
	Rank     int     `json:"rank"`
	IssueID  string  `json:"issue_id"`
	Category string  `json:"category"`
	Priority float64 `json:"priority"`
	Upvotes  int     `json:"upvotes"`
}

// Suspicion is the moderator view of one identity.
type Suspicion struct {
	Identity     string    `json:"identity"`
	Score        float64   `json:"score"`
	Level        string    `json:"level"`
	LastUpdated  time.Time `json:"last_updated"`
	RecentEvents int       `json:"recent_events"`
}

// FromSuspicion converts a ledger snapshot.
func FromSuspicion(s model.SuspicionState) Suspicion {
	return Suspicion{
		Identity:     s.IdentityKey,
		Score:        s.Score,
		Level:        s.Level.String(),
		LastUpdated:  s.LastUpdated,
		RecentEvents: s.RecentEvents,
	}
}

// Priority is the response of an on-demand priority computation.
type Priority struct {
	IssueID  string  `json:"issue_id"`
	Priority float64 `json:"priority"`
}

// SearchHit is one search result.
type SearchHit struct {
	Issue          Issue    `json:"issue"`
	Similarity     float64  `json:"similarity"`
	DistanceMeters *float64 `json:"distance_m,omitempty"`
}

// SearchResult is the public view of a search.
type SearchResult struct {
	Mode     string      `json:"mode"`
	Degraded bool        `json:"degraded"`
	Results  []SearchHit `json:"results"`
}

// FromSearch converts a domain search result.
func FromSearch(r model.SearchResult) SearchResult {
	out := SearchResult{Mode: r.Mode, Degraded: r.Degraded, Results: make([]SearchHit, 0, len(r.Hits))}
	for i := range r.Hits {
		h := &r.Hits[i]
		out.Results = append(out.Results, SearchHit{
			Issue:          FromIssue(&h.Issue),
			Similarity:     h.Similarity,
			DistanceMeters: h.DistanceMeters,
		})
	}
	return out
}
