package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScheduleType selects which side of the journal is the deferral
type ScheduleType string

const (
	ScheduleTypePrepaid  ScheduleType = "PREPAID"
	ScheduleTypeUnearned ScheduleType = "UNEARNED"
)

// Valid reports whether t is a known schedule type
func (t ScheduleType) Valid() bool {
	return t == ScheduleTypePrepaid || t == ScheduleTypeUnearned
}

// AmortizationMethod selects how the total is spread across periods
type AmortizationMethod string

const (
	AmortizationMonthly AmortizationMethod = "MONTHLY"
	AmortizationProRata AmortizationMethod = "DAILY_PRORATA"
)

// Schedule is an amortization schedule for a prepaid expense or unearned revenue
type Schedule struct {
	ID            uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID      string             `json:"tenant_id" gorm:"not null;index"`
	XeroInvoiceID string             `json:"xero_invoice_id,omitempty"`
	Type          ScheduleType       `json:"type" gorm:"type:varchar(20);not null"`
	Method        AmortizationMethod `json:"method" gorm:"type:varchar(20);not null;default:'MONTHLY'"`

	StartDate   datatypes.Date  `json:"start_date" gorm:"not null"`
	EndDate     datatypes.Date  `json:"end_date" gorm:"not null"`
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:decimal(19,2);not null"`

	ExpenseAcctCode  string `json:"expense_acct_code,omitempty"`
	RevenueAcctCode  string `json:"revenue_acct_code,omitempty"`
	DeferralAcctCode string `json:"deferral_acct_code" gorm:"not null"`

	ContactName string     `json:"contact_name,omitempty"`
	Description string     `json:"description,omitempty"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty" gorm:"type:uuid"`

	JournalEntries []JournalEntry `json:"journal_entries,omitempty" gorm:"foreignKey:ScheduleID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Schedule) TableName() string {
	return "schedules"
}

// BeforeCreate assigns a primary key when the caller has not
func (s *Schedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// RecognitionAcctCode is the expense account for prepayments and the revenue
// account for unearned revenue
func (s *Schedule) RecognitionAcctCode() string {
	if s.Type == ScheduleTypeUnearned {
		return s.RevenueAcctCode
	}
	return s.ExpenseAcctCode
}

// JournalEntry is one period of a schedule. Once Posted it is never modified.
type JournalEntry struct {
	ID         uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	ScheduleID uuid.UUID       `json:"schedule_id" gorm:"type:uuid;not null;index"`
	PeriodDate datatypes.Date  `json:"period_date" gorm:"not null"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:decimal(19,2);not null"`

	Posted              bool       `json:"posted" gorm:"not null;default:false"`
	XeroManualJournalID string     `json:"xero_manual_journal_id,omitempty"`
	XeroJournalNumber   string     `json:"xero_journal_number,omitempty"`
	PostedAt            *time.Time `json:"posted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (JournalEntry) TableName() string {
	return "journal_entries"
}

// BeforeCreate assigns a primary key when the caller has not
func (e *JournalEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
