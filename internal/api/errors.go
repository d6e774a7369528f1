package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prepaidly/prepaidly/internal/services"
)

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case services.IsValidation(err), errors.Is(err, services.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrAlreadyPosted):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotConnected), errors.Is(err, services.ErrInvalidGrant):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status it maps to. Validation errors are
// reported with their own message.
func (h *Handlers) respondError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if services.IsValidation(err) {
		message = err.Error()
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		h.logger.Warn(message, zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
