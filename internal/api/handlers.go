package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prepaidly/prepaidly/internal/database"
	"github.com/prepaidly/prepaidly/internal/models"
	"github.com/prepaidly/prepaidly/internal/services"
)

// Handlers contains HTTP handlers for the API
type Handlers struct {
	db        *gorm.DB
	users     *services.UserService
	settings  *services.SettingsService
	schedules *services.ScheduleService
	journals  *services.JournalService
	tokens    *services.TokenService
	sync      *services.SyncService
	logger    *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	db *gorm.DB,
	users *services.UserService,
	settings *services.SettingsService,
	schedules *services.ScheduleService,
	journals *services.JournalService,
	tokens *services.TokenService,
	sync *services.SyncService,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		db:        db,
		users:     users,
		settings:  settings,
		schedules: schedules,
		journals:  journals,
		tokens:    tokens,
		sync:      sync,
		logger:    logger,
	}
}

// Health reports service and database health
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := database.Ping(ctx, h.db); err != nil {
		h.logger.Error("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"database":  "down",
			"timestamp": time.Now().UTC(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "prepaidly",
		"database":  "up",
		"timestamp": time.Now().UTC(),
	})
}

// CreateUserRequest is the body of POST /api/users
type CreateUserRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name" binding:"max=255"`
}

// CreateUser registers a new user
func (h *Handlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	user, err := h.users.Create(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		h.respondError(c, "Failed to create user", err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// GetUser returns a user by id
func (h *Handlers) GetUser(c *gin.Context) {
	id, ok := parseUUID(c, c.Param("id"), "id")
	if !ok {
		return
	}

	user, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get user", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetSettings returns the tenant's default account codes
func (h *Handlers) GetSettings(c *gin.Context) {
	settings, err := h.settings.Get(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		h.respondError(c, "Failed to get settings", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettingsRequest is the body of PUT /api/settings/:tenantId
type UpdateSettingsRequest struct {
	PrepaymentAcctCode     string `json:"prepaymentAcctCode" binding:"omitempty,accountcode"`
	UnearnedAcctCode       string `json:"unearnedAcctCode" binding:"omitempty,accountcode"`
	DefaultExpenseAcctCode string `json:"defaultExpenseAcctCode" binding:"omitempty,accountcode"`
	DefaultRevenueAcctCode string `json:"defaultRevenueAcctCode" binding:"omitempty,accountcode"`
}

// UpdateSettings replaces the tenant's default account codes
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	settings, err := h.settings.Upsert(c.Request.Context(), &models.TenantSettings{
		TenantID:               c.Param("tenantId"),
		PrepaymentAcctCode:     req.PrepaymentAcctCode,
		UnearnedAcctCode:       req.UnearnedAcctCode,
		DefaultExpenseAcctCode: req.DefaultExpenseAcctCode,
		DefaultRevenueAcctCode: req.DefaultRevenueAcctCode,
	})
	if err != nil {
		h.respondError(c, "Failed to update settings", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func parseUUID(c *gin.Context, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		badRequest(c, "Invalid "+field, err)
		return uuid.Nil, false
	}
	return id, true
}

func requireQuery(c *gin.Context, key string) (string, bool) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		badRequest(c, key+" query parameter is required", nil)
		return "", false
	}
	return value, true
}
