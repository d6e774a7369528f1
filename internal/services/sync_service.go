package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/prepaidly/prepaidly/internal/models"
	"github.com/prepaidly/prepaidly/internal/xero"
)

// XeroAPI is the part of the Xero accounting API read by SyncService
type XeroAPI interface {
	OrganisationFetcher
	GetAccounts(ctx context.Context, accessToken, tenantID string) ([]xero.Account, error)
	GetInvoices(ctx context.Context, accessToken, tenantID string, page int) ([]xero.Invoice, error)
}

// SyncResult summarises a tenant sync
type SyncResult struct {
	TenantID   string    `json:"tenant_id"`
	TenantName string    `json:"tenant_name"`
	Accounts   int       `json:"accounts"`
	Invoices   int       `json:"invoices"`
	SyncedAt   time.Time `json:"synced_at"`
}

// SyncService reads reference data for a tenant from Xero
type SyncService struct {
	db     *gorm.DB
	tokens *TokenService
	api    XeroAPI
	logger *zap.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(db *gorm.DB, tokens *TokenService, api XeroAPI, logger *zap.Logger) *SyncService {
	return &SyncService{db: db, tokens: tokens, api: api, logger: logger}
}

// Accounts returns the chart of accounts of tenantID
func (s *SyncService) Accounts(ctx context.Context, tenantID string) ([]xero.Account, error) {
	accessToken, err := s.tokens.AccessTokenForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.api.GetAccounts(ctx, accessToken, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}
	return accounts, nil
}

// Invoices returns one page of invoices of tenantID
func (s *SyncService) Invoices(ctx context.Context, tenantID string, page int) ([]xero.Invoice, error) {
	accessToken, err := s.tokens.AccessTokenForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	invoices, err := s.api.GetInvoices(ctx, accessToken, tenantID, page)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invoices: %w", err)
	}
	return invoices, nil
}

// SyncTenant refreshes the stored tenant name and counts the accounts and
// first page of invoices visible to the connection
func (s *SyncService) SyncTenant(ctx context.Context, tenantID string) (*SyncResult, error) {
	conn, err := s.tokens.ConnectionForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.tokens.GetValidAccessToken(ctx, conn)
	if err != nil {
		return nil, err
	}

	var (
		org      *xero.Organisation
		accounts []xero.Account
		invoices []xero.Invoice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		org, err = s.api.GetOrganisation(gctx, accessToken, tenantID)
		return err
	})
	g.Go(func() (err error) {
		accounts, err = s.api.GetAccounts(gctx, accessToken, tenantID)
		return err
	})
	g.Go(func() (err error) {
		invoices, err = s.api.GetInvoices(gctx, accessToken, tenantID, 1)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to sync tenant %s: %w", tenantID, err)
	}

	if org.Name != "" && org.Name != conn.TenantName {
		if err := s.db.WithContext(ctx).Model(&models.XeroConnection{}).
			Where("tenant_id = ?", tenantID).
			Update("tenant_name", org.Name).Error; err != nil {
			return nil, fmt.Errorf("failed to update tenant name: %w", err)
		}
	}

	result := &SyncResult{
		TenantID:   tenantID,
		TenantName: org.Name,
		Accounts:   len(accounts),
		Invoices:   len(invoices),
		SyncedAt:   time.Now().UTC(),
	}
	s.logger.Info("Tenant synced",
		zap.String("tenant_id", tenantID),
		zap.Int("accounts", result.Accounts),
		zap.Int("invoices", result.Invoices))
	return result, nil
}
