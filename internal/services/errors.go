package services

import (
	"errors"
	"fmt"

	"github.com/prepaidly/prepaidly/internal/xero"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyPosted = errors.New("journal entry already posted")
	ErrNotConnected  = errors.New("xero connection is not connected")
	ErrInvalidState  = errors.New("invalid or expired oauth state")

	// ErrInvalidGrant is returned when Xero rejects a refresh token
	ErrInvalidGrant = xero.ErrInvalidGrant
)

// ValidationError is a client error carrying a message safe to return to the caller
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
