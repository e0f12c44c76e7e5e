package behavior

import (
	"strings"
	"time"
)

// Policy holds the scoring rules of the ledger.
type Policy struct {
	RateLimitedPenalty float64
	BotPenalty         float64
	BurstPenalty       float64
	SuccessCredit      float64
	DecayPerMinute     float64

	// BurstWindow and BurstThreshold define "high frequency": more than
	// BurstThreshold requests to one sensitive endpoint inside BurstWindow.
	BurstWindow    time.Duration
	BurstThreshold int

	BotPatterns        []string
	SensitiveEndpoints []string

	// IdleTTL is how long a zero-score identity is kept after its last event.
	IdleTTL time.Duration
	// MaxRecent caps the timestamps kept per sensitive endpoint.
	MaxRecent int
}

// DefaultPolicy returns the stock rules.
func DefaultPolicy() Policy {
	return Policy{
		RateLimitedPenalty: 20,
		BotPenalty:         30,
		BurstPenalty:       15,
		SuccessCredit:      2,
		DecayPerMinute:     1,
		BurstWindow:        time.Minute,
		BurstThreshold:     10,
		BotPatterns:        []string{"bot", "crawler", "spider", "scraper", "headless"},
		SensitiveEndpoints: []string{"report_issue", "upvote"},
		IdleTTL:            24 * time.Hour,
		MaxRecent:          64,
	}
}

// IsBot reports whether userAgent matches a bot pattern. An empty user agent
// is not treated as a bot.
func (p *Policy) IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, pat := range p.BotPatterns {
		if pat != "" && strings.Contains(ua, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

func (p *Policy) sensitive(endpoint string) bool {
	for _, e := range p.SensitiveEndpoints {
		if e == endpoint {
			return true
		}
	}
	return false
}
