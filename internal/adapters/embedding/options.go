package embedding

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for provider calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRate sets the local token bucket. A non-positive rate disables it.
func WithRate(perSec float64, burst int) Option {
	return func(c *Client) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), max(burst, 1))
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
