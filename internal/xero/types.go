package xero

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Token is the result of an authorization-code or refresh-token grant
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Tenant is one entry of the /connections response
type Tenant struct {
	ConnectionID   string `json:"id"`
	TenantID       string `json:"tenantId"`
	TenantType     string `json:"tenantType"`
	TenantName     string `json:"tenantName"`
	CreatedDateUTC string `json:"createdDateUtc"`
	UpdatedDateUTC string `json:"updatedDateUtc"`
}

// Organisation represents organisation details of a tenant
type Organisation struct {
	OrganisationID string `json:"OrganisationID"`
	Name           string `json:"Name"`
	LegalName      string `json:"LegalName"`
	ShortCode      string `json:"ShortCode"`
	CountryCode    string `json:"CountryCode"`
	BaseCurrency   string `json:"BaseCurrency"`
}

// Account represents a chart of accounts entry
type Account struct {
	AccountID string `json:"AccountID"`
	Code      string `json:"Code"`
	Name      string `json:"Name"`
	Type      string `json:"Type"`
	Class     string `json:"Class"`
	Status    string `json:"Status"`
}

// Contact represents the contact on an invoice
type Contact struct {
	ContactID string `json:"ContactID"`
	Name      string `json:"Name"`
}

// LineItem represents a line item in an invoice
type LineItem struct {
	Description string          `json:"Description"`
	Quantity    decimal.Decimal `json:"Quantity"`
	UnitAmount  decimal.Decimal `json:"UnitAmount"`
	LineAmount  decimal.Decimal `json:"LineAmount"`
	AccountCode string          `json:"AccountCode"`
}

// Invoice represents a Xero invoice or bill
type Invoice struct {
	InvoiceID     string          `json:"InvoiceID"`
	InvoiceNumber string          `json:"InvoiceNumber"`
	Type          string          `json:"Type"` // ACCREC, ACCPAY
	Contact       Contact         `json:"Contact"`
	LineItems     []LineItem      `json:"LineItems"`
	SubTotal      decimal.Decimal `json:"SubTotal"`
	Total         decimal.Decimal `json:"Total"`
	AmountDue     decimal.Decimal `json:"AmountDue"`
	Status        string          `json:"Status"`
	DateString    string          `json:"DateString"`
	DueDateString string          `json:"DueDateString"`
	CurrencyCode  string          `json:"CurrencyCode"`
	Reference     string          `json:"Reference"`
}

// ManualJournal statuses
const (
	ManualJournalStatusDraft  = "DRAFT"
	ManualJournalStatusPosted = "POSTED"
)

// ManualJournal is a hand-entered double-entry journal
type ManualJournal struct {
	ManualJournalID string        `json:"ManualJournalID,omitempty"`
	JournalNumber   string        `json:"JournalNumber,omitempty"`
	Narration       string        `json:"Narration"`
	Date            string        `json:"Date"`
	Status          string        `json:"Status"`
	LineAmountTypes string        `json:"LineAmountTypes,omitempty"`
	JournalLines    []JournalLine `json:"JournalLines"`
}

// JournalLine is one side of a manual journal. Positive amounts are debits.
type JournalLine struct {
	LineAmount  json.Number `json:"LineAmount"`
	AccountCode string      `json:"AccountCode"`
	Description string      `json:"Description,omitempty"`
}

// NewJournalLine formats amount with two decimal places
func NewJournalLine(amount decimal.Decimal, accountCode, description string) JournalLine {
	return JournalLine{
		LineAmount:  json.Number(amount.StringFixed(2)),
		AccountCode: accountCode,
		Description: description,
	}
}
