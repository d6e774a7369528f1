package models

import "time"

// TenantSettings holds per-tenant default account codes
type TenantSettings struct {
	TenantID               string    `json:"tenant_id" gorm:"primaryKey"`
	PrepaymentAcctCode     string    `json:"prepayment_acct_code"`
	UnearnedAcctCode       string    `json:"unearned_acct_code"`
	DefaultExpenseAcctCode string    `json:"default_expense_acct_code"`
	DefaultRevenueAcctCode string    `json:"default_revenue_acct_code"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (TenantSettings) TableName() string {
	return "tenant_settings"
}
