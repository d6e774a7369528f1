package xero

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidGrant means the refresh token is expired or revoked. The
// connection cannot recover without the user authorizing again.
var ErrInvalidGrant = errors.New("xero: invalid_grant")

// APIError is a non-success response from Xero
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("xero %s failed with status: %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("xero %s failed with status: %d, response: %s", e.Op, e.StatusCode, e.Body)
}

// IsRateLimited reports whether Xero rejected the call for exceeding its limits
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsUnauthorized reports whether the access token was rejected
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
