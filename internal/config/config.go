// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Provide New() to build a Config with defaults.
//   - Nested sections map to dotted koanf keys; the env provider maps a double
//     underscore to a dot, e.g. CW_EMBEDDING__API_KEY -> embedding.api_key.
//   - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoder: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// TrustProxyHeaders makes the identity key honour X-Forwarded-For.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`

	// QueueSize bounds the in-memory recompute task queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of recompute workers.
	WorkerCount int `koanf:"worker_count"`

	// IdempotencySize bounds the remembered Idempotency-Key values.
	IdempotencySize int `koanf:"idempotency_size"`

	// MaxTopLimit caps GET /issues/top?limit.
	MaxTopLimit int `koanf:"max_top_limit"`

	// DecaySweepIntervalS is how often every open issue is re-scored.
	DecaySweepIntervalS int `koanf:"decay_sweep_interval_s"`

	// JanitorIntervalS is how often idle ledger and limiter state is swept.
	JanitorIntervalS int `koanf:"janitor_interval_s"`

	// DuplicateRadiusDeg is the duplicate search radius in degrees of latitude.
	DuplicateRadiusDeg float64 `koanf:"duplicate_radius_deg"`

	// SemanticThreshold is the duplicate threshold for embedding similarity.
	SemanticThreshold float64 `koanf:"semantic_threshold"`

	// LexicalThreshold is the stricter-signal threshold used in degraded mode.
	LexicalThreshold float64 `koanf:"lexical_threshold"`

	// CandidateLimit is K, the number of ranked matches kept per query.
	CandidateLimit int `koanf:"candidate_limit"`

	// DensityRadiusM is the radius used to count neighbours for priority.
	DensityRadiusM float64 `koanf:"density_radius_m"`

	Search SearchConfig `koanf:"search"`

	Embedding EmbeddingConfig `koanf:"embedding"`
	Priority  PriorityConfig  `koanf:"priority"`
	Behavior  BehaviorConfig  `koanf:"behavior"`
	Store     StoreConfig     `koanf:"store"`

	// Limits maps endpoint names to base requests per LimitWindowS.
	Limits map[string]int `koanf:"limits"`

	// DefaultLimit applies to endpoints missing from Limits.
	DefaultLimit int `koanf:"default_limit"`

	// LimitWindowS is the length of the rate-limit window in seconds.
	LimitWindowS int `koanf:"limit_window_s"`

	// LongLimits caps endpoints per LongWindowS on top of Limits. Endpoints
	// without an entry have no long cap.
	LongLimits map[string]int `koanf:"long_limits"`

	// LongWindowS is the length of the long window in seconds.
	LongWindowS int `koanf:"long_window_s"`
}

// EmbeddingConfig configures the external embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" for any OpenAI-compatible endpoint, or "" to run
	// permanently in degraded mode.
	Provider            string  `koanf:"provider"`
	BaseURL             string  `koanf:"base_url"`
	APIKey              string  `koanf:"api_key"`
	Model               string  `koanf:"model"`
	Dimensions          int     `koanf:"dimensions"`
	TimeoutMS           int     `koanf:"timeout_ms"`
	RatePerSec          float64 `koanf:"rate_per_sec"`
	Burst               int     `koanf:"burst"`
	UnhealthyCooldownMS int     `koanf:"unhealthy_cooldown_ms"`
}

// PriorityConfig configures the priority formula.
type PriorityConfig struct {
	UpvoteWeight   float64 `koanf:"upvote_weight"`
	SeverityWeight float64 `koanf:"severity_weight"`
	DensityWeight  float64 `koanf:"density_weight"`
	AgeWeight      float64 `koanf:"age_weight"`
	DecayHorizonH  float64 `koanf:"decay_horizon_h"`

	// CategoryWeights overrides the built-in severity per category name.
	CategoryWeights map[string]float64 `koanf:"category_weights"`
}

// BehaviorConfig configures the suspicion ledger.
type BehaviorConfig struct {
	WindowH            int      `koanf:"window_h"`
	BurstWindowS       int      `koanf:"burst_window_s"`
	BurstThreshold     int      `koanf:"burst_threshold"`
	RateLimitedPenalty float64  `koanf:"rate_limited_penalty"`
	BotPenalty         float64  `koanf:"bot_penalty"`
	BurstPenalty       float64  `koanf:"burst_penalty"`
	SuccessCredit      float64  `koanf:"success_credit"`
	DecayPerMinute     float64  `koanf:"decay_per_minute"`
	BotPatterns        []string `koanf:"bot_patterns"`
	SensitiveEndpoints []string `koanf:"sensitive_endpoints"`
	RecentEvents       int      `koanf:"recent_events"`
}

// SearchConfig configures GET /issues/search.
type SearchConfig struct {
	// Threshold is the minimum cosine similarity of a hit.
	Threshold float64 `koanf:"threshold"`
	// LexicalThreshold applies when the query could not be embedded. Short
	// queries overlap little with long descriptions, so it sits well below
	// the duplicate threshold.
	LexicalThreshold float64 `koanf:"lexical_threshold"`
	RadiusM          float64 `koanf:"radius_m"`
	MaxRadiusM       float64 `koanf:"max_radius_m"`
	DefaultLimit     int     `koanf:"default_limit"`
}

// StoreConfig selects the durable issue store.
type StoreConfig struct {
	// Driver is "memory", "sqlite" or "pgx".
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		QueueSize:           10_000,
		WorkerCount:         runtime.NumCPU(),
		IdempotencySize:     50_000,
		MaxTopLimit:         100,
		DecaySweepIntervalS: 3600,
		JanitorIntervalS:    60,
		DuplicateRadiusDeg:  0.0045,
		SemanticThreshold:   0.82,
		LexicalThreshold:    0.6,
		CandidateLimit:      5,
		DensityRadiusM:      1000,
		Search: SearchConfig{
			Threshold:        0.6,
			LexicalThreshold: 0.2,
			RadiusM:          5500,
			MaxRadiusM:       50_000,
			DefaultLimit:     20,
		},
		Embedding: EmbeddingConfig{
			Model:               "text-embedding-3-small",
			TimeoutMS:           2000,
			RatePerSec:          5,
			Burst:               10,
			UnhealthyCooldownMS: 30_000,
		},
		Priority: PriorityConfig{
			UpvoteWeight:    1.0,
			SeverityWeight:  1.0,
			DensityWeight:   0.75,
			AgeWeight:       2.0,
			DecayHorizonH:   168,
			CategoryWeights: map[string]float64{},
		},
		Behavior: BehaviorConfig{
			WindowH:            24,
			BurstWindowS:       60,
			BurstThreshold:     10,
			RateLimitedPenalty: 20,
			BotPenalty:         30,
			BurstPenalty:       15,
			SuccessCredit:      2,
			DecayPerMinute:     1,
			BotPatterns:        []string{"bot", "crawler", "spider", "scraper", "headless"},
			SensitiveEndpoints: []string{"report_issue", "upvote"},
			RecentEvents:       64,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Limits: map[string]int{
			"report_issue":     5,
			"upvote":           20,
			"check_duplicates": 10,
			"search":           30,
			"update_status":    30,
			"compute_priority": 30,
			"get_issue":        60,
			"top_issues":       60,
			"suspicion":        30,
		},
		DefaultLimit: 60,
		LimitWindowS: 60,
		LongLimits: map[string]int{
			"report_issue":     20,
			"upvote":           100,
			"check_duplicates": 50,
		},
		LongWindowS: 3600,
	}
}

// EmbeddingTimeout returns the embedding call budget.
func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutMS) * time.Millisecond
}

// LimitWindow returns the rate-limit window.
func (c *Config) LimitWindow() time.Duration {
	return time.Duration(c.LimitWindowS) * time.Second
}

// LongWindow returns the window of the long caps.
func (c *Config) LongWindow() time.Duration {
	return time.Duration(c.LongWindowS) * time.Second
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DuplicateRadiusDeg <= 0:
		return fmt.Errorf("%w: duplicate_radius_deg must be positive", ErrInvalidConfig)
	case c.SemanticThreshold <= 0 || c.SemanticThreshold > 1:
		return fmt.Errorf("%w: semantic_threshold must be in (0,1]", ErrInvalidConfig)
	case c.LexicalThreshold <= 0 || c.LexicalThreshold > 1:
		return fmt.Errorf("%w: lexical_threshold must be in (0,1]", ErrInvalidConfig)
	case c.LimitWindowS <= 0:
		return fmt.Errorf("%w: limit_window_s must be positive", ErrInvalidConfig)
	case c.DefaultLimit < 0:
		return fmt.Errorf("%w: default_limit must not be negative", ErrInvalidConfig)
	}
	for name, n := range c.Limits {
		if n < 0 {
			return fmt.Errorf("%w: limits.%s must not be negative", ErrInvalidConfig, name)
		}
	}
	for name, n := range c.LongLimits {
		if n < 0 {
			return fmt.Errorf("%w: long_limits.%s must not be negative", ErrInvalidConfig, name)
		}
	}
	if len(c.LongLimits) > 0 && c.LongWindowS <= c.LimitWindowS {
		return fmt.Errorf("%w: long_window_s must be longer than limit_window_s", ErrInvalidConfig)
	}
	p := c.Priority
	if p.UpvoteWeight < 0 || p.SeverityWeight < 0 || p.DensityWeight < 0 || p.AgeWeight < 0 {
		return fmt.Errorf("%w: priority weights must not be negative", ErrInvalidConfig)
	}
	sc := c.Search
	switch {
	case sc.Threshold <= 0 || sc.Threshold > 1 || sc.LexicalThreshold <= 0 || sc.LexicalThreshold > 1:
		return fmt.Errorf("%w: search thresholds must be in (0,1]", ErrInvalidConfig)
	case sc.RadiusM <= 0 || sc.MaxRadiusM < sc.RadiusM:
		return fmt.Errorf("%w: search.radius_m must be positive and at most search.max_radius_m", ErrInvalidConfig)
	case sc.DefaultLimit < 1:
		return fmt.Errorf("%w: search.default_limit must be positive", ErrInvalidConfig)
	}
	b := c.Behavior
	switch {
	case b.RateLimitedPenalty < 0 || b.BotPenalty < 0 || b.BurstPenalty < 0 || b.SuccessCredit < 0:
		return fmt.Errorf("%w: behavior penalties and credit must not be negative", ErrInvalidConfig)
	case b.DecayPerMinute < 0:
		return fmt.Errorf("%w: behavior.decay_per_minute must not be negative", ErrInvalidConfig)
	case b.BurstThreshold < 0 || b.RecentEvents < 0:
		return fmt.Errorf("%w: behavior.burst_threshold and behavior.recent_events must not be negative", ErrInvalidConfig)
	case b.RecentEvents > 0 && b.RecentEvents <= b.BurstThreshold:
		return fmt.Errorf("%w: behavior.recent_events (%d) must exceed behavior.burst_threshold (%d)",
			ErrInvalidConfig, b.RecentEvents, b.BurstThreshold)
	}
	switch strings.ToLower(c.Store.Driver) {
	case "", "memory":
	case "sqlite", "pgx":
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for driver %s", ErrInvalidConfig, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown store.driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	switch strings.ToLower(c.Embedding.Provider) {
	case "", "none":
	case "openai":
		if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
			return fmt.Errorf("%w: embedding.api_key or embedding.base_url is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown embedding.provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	return nil
}
