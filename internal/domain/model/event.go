package model

import "time"

// BehaviorEvent is the outcome of one request, fed to the behavior ledger.
type BehaviorEvent struct {
	IdentityKey string    // user id or hashed client address
	Endpoint    string    // logical endpoint name, e.g. "report_issue"
	Method      string    // HTTP method
	StatusCode  int       // response status
	UserAgent   string    // raw User-Agent header
	TS          time.Time // when the request completed
}

// SuspicionLevel is the coarse state derived from a suspicion score.
type SuspicionLevel int

// Suspicion levels in increasing order of restriction.
const (
	LevelNormal SuspicionLevel = iota
	LevelElevated
	LevelRestricted
	LevelBlocked
)

// Score thresholds at which each level begins.
const (
	ElevatedThreshold   = 30.0
	RestrictedThreshold = 60.0
	BlockedThreshold    = 85.0
	MaxSuspicion        = 100.0
)

// LevelFor maps a score to its level.
func LevelFor(score float64) SuspicionLevel {
	switch {
	case score >= BlockedThreshold:
		return LevelBlocked
	case score >= RestrictedThreshold:
		return LevelRestricted
	case score >= ElevatedThreshold:
		return LevelElevated
	default:
		return LevelNormal
	}
}

func (l SuspicionLevel) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelElevated:
		return "elevated"
	case LevelRestricted:
		return "restricted"
	case LevelBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name.
func (l SuspicionLevel) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// SuspicionState is a point-in-time view of one identity's standing.
type SuspicionState struct {
	IdentityKey string
	Score       float64
	Level       SuspicionLevel
	LastUpdated time.Time
	LastEvent   time.Time
	// RecentEvents is the number of events retained in the rolling window.
	RecentEvents int
}

// Admission is the limiter's decision for one request.
type Admission struct {
	Allowed        bool
	EffectiveLimit int
	Remaining      int
	Window         time.Duration
	Level          SuspicionLevel
	// RetryAfter is set on denials and tells the caller when budget returns.
	RetryAfter time.Duration
}
