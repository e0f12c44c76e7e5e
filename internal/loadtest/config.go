// Package loadtest drives a running triage server with synthetic reports.
//
// Two scenarios are provided. The duplicate scenario files clusters of
// near-identical reports and measures how many of the follow-ups the server
// rejects as duplicates. The burst scenario has one identity hammer a
// rate-limited endpoint and reports how quickly it gets throttled and what
// the behaviour ledger thinks of it afterwards.
package loadtest

import (
	"errors"
	"time"
)

// Defaults.
const (
	DefaultBaseURL     = "http://localhost:9080"
	DefaultClusters    = 50
	DefaultClusterSize = 4
	DefaultBurst       = 40
	DefaultTimeout     = 10 * time.Second
	DefaultTopN        = 20
)

// Config holds the knobs shared by all scenarios.
type Config struct {
	BaseURL string
	Workers int
	Timeout time.Duration
	Seed    uint64
	Verbose bool

	// Clusters is the number of distinct sites; each gets ClusterSize
	// reports, the first of which is the original.
	Clusters    int
	ClusterSize int

	// Burst is the number of requests the burst identity sends.
	Burst int
	// TopN is how many board entries are checked for ordering.
	TopN int

	// Output, when set, receives the generated reports as JSON.
	Output string
}

// ErrInvalidConfig reports unusable settings.
var ErrInvalidConfig = errors.New("loadtest: invalid config")

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url is empty"))
	case c.Workers < 1:
		return errors.Join(ErrInvalidConfig, errors.New("workers must be positive"))
	case c.Clusters < 0 || c.ClusterSize < 1:
		return errors.Join(ErrInvalidConfig, errors.New("clusters must be non-negative and cluster size positive"))
	case c.Burst < 0:
		return errors.Join(ErrInvalidConfig, errors.New("burst must be non-negative"))
	case c.Timeout <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("timeout must be positive"))
	}
	return nil
}

// Report is one generated submission.
type Report struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`

	// Cluster groups reports of the same site; Original marks the first.
	Cluster  int  `json:"-"`
	Original bool `json:"-"`
}

// Entry is a board row as served by GET /issues/top.
type Entry struct {
	Rank     int     `json:"rank"`
	IssueID  string  `json:"issue_id"`
	Category string  `json:"category"`
	Priority float64 `json:"priority"`
	Upvotes  int     `json:"upvotes"`
}

// Verdict is the duplicate_check body.
type Verdict struct {
	IsDuplicate    bool    `json:"is_duplicate"`
	MatchedIssueID string  `json:"matched_issue_id"`
	CombinedScore  float64 `json:"combined_score"`
	Degraded       bool    `json:"degraded"`
}

// Suspicion is the admin view of an identity.
type Suspicion struct {
	Identity string  `json:"identity"`
	Score    float64 `json:"score"`
	Level    string  `json:"level"`
}

// DuplicateStats summarises the duplicate scenario.
type DuplicateStats struct {
	Submitted int
	Created   int
	Rejected  int
	Limited   int
	Failed    int
	Degraded  int

	// ExpectedDuplicates is the number of non-original reports.
	ExpectedDuplicates int
	// CaughtDuplicates counts non-original reports answered with 409.
	CaughtDuplicates int
	// FalseRejects counts originals answered with 409.
	FalseRejects int

	Duration time.Duration
}

// Recall is the share of expected duplicates the server caught.
func (s DuplicateStats) Recall() float64 {
	if s.ExpectedDuplicates == 0 {
		return 0
	}
	return float64(s.CaughtDuplicates) / float64(s.ExpectedDuplicates)
}

// BurstStats summarises the burst scenario.
type BurstStats struct {
	Identity string
	Sent     int
	Allowed  int
	Limited  int
	Failed   int
	// FirstLimited is the 1-based index of the first 429, 0 if none.
	FirstLimited int
	RetryAfter   string
	Suspicion    Suspicion
	Duration     time.Duration
}

// BoardStats summarises the board check.
type BoardStats struct {
	Entries int
	Ordered bool
}
