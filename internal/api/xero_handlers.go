package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prepaidly/prepaidly/internal/models"
)

// ConnectXero returns the Xero consent URL for a user
func (h *Handlers) ConnectXero(c *gin.Context) {
	userID, ok := parseUUID(c, c.Query("userId"), "userId")
	if !ok {
		return
	}

	authURL, err := h.tokens.AuthorizationURL(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "Failed to start Xero authorization", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorization_url": authURL})
}

// XeroCallback completes the authorization code flow
func (h *Handlers) XeroCallback(c *gin.Context) {
	if oauthErr := c.Query("error"); oauthErr != "" {
		h.logger.Warn("Xero authorization declined", zap.String("error", oauthErr))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Xero authorization failed",
			"details": oauthErr,
		})
		return
	}

	code, ok := requireQuery(c, "code")
	if !ok {
		return
	}
	state, ok := requireQuery(c, "state")
	if !ok {
		return
	}
	userID, ok := parseUUID(c, c.Query("userId"), "userId")
	if !ok {
		return
	}

	connections, err := h.tokens.HandleCallback(c.Request.Context(), code, state, userID)
	if err != nil {
		h.respondError(c, "Failed to complete Xero authorization", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"connections": connections,
	})
}

// XeroStatus lists the user's Xero connections
func (h *Handlers) XeroStatus(c *gin.Context) {
	userID, ok := parseUUID(c, c.Query("userId"), "userId")
	if !ok {
		return
	}

	connections, err := h.tokens.ListConnections(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "Failed to get Xero status", err)
		return
	}

	connected := false
	for i := range connections {
		if connections[i].ConnectionStatus == models.ConnectionStatusConnected {
			connected = true
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"connected":   connected,
		"connections": connections,
	})
}

// DisconnectRequest is the body of POST /api/auth/xero/disconnect
type DisconnectRequest struct {
	UserID   string `json:"userId" binding:"required,uuid"`
	TenantID string `json:"tenantId" binding:"required"`
}

// DisconnectXero revokes and removes a user's connection to a tenant
func (h *Handlers) DisconnectXero(c *gin.Context) {
	var req DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	userID, ok := parseUUID(c, req.UserID, "userId")
	if !ok {
		return
	}

	if err := h.tokens.Disconnect(c.Request.Context(), userID, req.TenantID); err != nil {
		h.respondError(c, "Failed to disconnect Xero", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// XeroAccounts returns the tenant's chart of accounts
func (h *Handlers) XeroAccounts(c *gin.Context) {
	tenantID, ok := requireQuery(c, "tenantId")
	if !ok {
		return
	}

	accounts, err := h.sync.Accounts(c.Request.Context(), tenantID)
	if err != nil {
		h.respondError(c, "Failed to fetch Xero accounts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// XeroInvoices returns one page of the tenant's invoices
func (h *Handlers) XeroInvoices(c *gin.Context) {
	tenantID, ok := requireQuery(c, "tenantId")
	if !ok {
		return
	}
	page := 1
	if raw := c.Query("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 {
			badRequest(c, "page must be a positive integer", err)
			return
		}
		page = p
	}

	invoices, err := h.sync.Invoices(c.Request.Context(), tenantID, page)
	if err != nil {
		h.respondError(c, "Failed to fetch Xero invoices", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices": invoices,
		"page":     page,
		"count":    len(invoices),
	})
}

// SyncTenant refreshes the tenant's cached Xero data
func (h *Handlers) SyncTenant(c *gin.Context) {
	result, err := h.sync.SyncTenant(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		h.respondError(c, "Failed to sync tenant", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
