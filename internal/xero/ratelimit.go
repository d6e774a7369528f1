package xero

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds outgoing calls to the accounting API. Xero allows 60
// calls per minute per tenant.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// DefaultRateLimit matches Xero's per-tenant minute limit
var DefaultRateLimit = RateLimitConfig{RequestsPerMinute: 60, BurstSize: 5}

// NewRateLimiter creates a limiter for config. A non-positive rate disables limiting.
func NewRateLimiter(config RateLimitConfig) *rate.Limiter {
	if config.RequestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), burst)
}
