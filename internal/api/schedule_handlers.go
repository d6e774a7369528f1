package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prepaidly/prepaidly/internal/models"
	"github.com/prepaidly/prepaidly/internal/services"
)

const dateLayout = "2006-01-02"

// CreateScheduleRequest is the body of POST /api/schedules. Dates are
// yyyy-mm-dd; omitted account codes fall back to the tenant's settings.
type CreateScheduleRequest struct {
	TenantID         string          `json:"tenantId" binding:"required"`
	XeroInvoiceID    string          `json:"xeroInvoiceId"`
	Type             string          `json:"type" binding:"required,oneof=PREPAID UNEARNED"`
	Method           string          `json:"method" binding:"omitempty,oneof=MONTHLY DAILY_PRORATA"`
	StartDate        string          `json:"startDate" binding:"required"`
	EndDate          string          `json:"endDate" binding:"required"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	ExpenseAcctCode  string          `json:"expenseAcctCode" binding:"omitempty,accountcode"`
	RevenueAcctCode  string          `json:"revenueAcctCode" binding:"omitempty,accountcode"`
	DeferralAcctCode string          `json:"deferralAcctCode" binding:"omitempty,accountcode"`
	ContactName      string          `json:"contactName"`
	Description      string          `json:"description" binding:"max=500"`
	CreatedBy        string          `json:"createdBy" binding:"omitempty,uuid"`
}

// CreateSchedule generates and stores an amortization schedule
func (h *Handlers) CreateSchedule(c *gin.Context) {
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		badRequest(c, "startDate must be formatted yyyy-mm-dd", err)
		return
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		badRequest(c, "endDate must be formatted yyyy-mm-dd", err)
		return
	}

	in := services.CreateScheduleInput{
		TenantID:         req.TenantID,
		XeroInvoiceID:    req.XeroInvoiceID,
		Type:             models.ScheduleType(req.Type),
		Method:           models.AmortizationMethod(req.Method),
		StartDate:        start,
		EndDate:          end,
		TotalAmount:      req.TotalAmount,
		ExpenseAcctCode:  req.ExpenseAcctCode,
		RevenueAcctCode:  req.RevenueAcctCode,
		DeferralAcctCode: req.DeferralAcctCode,
		ContactName:      req.ContactName,
		Description:      req.Description,
	}
	if req.CreatedBy != "" {
		createdBy, err := uuid.Parse(req.CreatedBy)
		if err != nil {
			badRequest(c, "Invalid createdBy", err)
			return
		}
		in.CreatedBy = &createdBy
	}

	schedule, err := h.schedules.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, "Failed to create schedule", err)
		return
	}
	c.JSON(http.StatusCreated, schedule)
}

// ListSchedules returns the schedules of a tenant
func (h *Handlers) ListSchedules(c *gin.Context) {
	tenantID, ok := requireQuery(c, "tenantId")
	if !ok {
		return
	}

	schedules, err := h.schedules.List(c.Request.Context(), tenantID)
	if err != nil {
		h.respondError(c, "Failed to list schedules", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// GetSchedule returns one schedule with its journal entries
func (h *Handlers) GetSchedule(c *gin.Context) {
	id, ok := parseUUID(c, c.Param("id"), "schedule id")
	if !ok {
		return
	}
	tenantID, ok := requireQuery(c, "tenantId")
	if !ok {
		return
	}

	schedule, err := h.schedules.Get(c.Request.Context(), id, tenantID)
	if err != nil {
		h.respondError(c, "Failed to get schedule", err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// ListJournals returns the journal entries of a schedule
func (h *Handlers) ListJournals(c *gin.Context) {
	scheduleID, ok := parseUUID(c, c.Query("scheduleId"), "scheduleId")
	if !ok {
		return
	}
	tenantID, ok := requireQuery(c, "tenantId")
	if !ok {
		return
	}

	entries, err := h.journals.ListEntries(c.Request.Context(), scheduleID, tenantID)
	if err != nil {
		h.respondError(c, "Failed to list journal entries", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"journal_entries": entries,
		"count":           len(entries),
	})
}

// PostJournalRequest is the body of POST /api/journals
type PostJournalRequest struct {
	JournalEntryID string `json:"journalEntryId" binding:"required,uuid"`
	TenantID       string `json:"tenantId" binding:"required"`
}

// PostJournal posts one journal entry to Xero as a manual journal
func (h *Handlers) PostJournal(c *gin.Context) {
	var req PostJournalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	entryID, ok := parseUUID(c, req.JournalEntryID, "journalEntryId")
	if !ok {
		return
	}

	entry, err := h.journals.Post(c.Request.Context(), entryID, req.TenantID)
	if err != nil {
		h.respondError(c, "Failed to post journal", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
