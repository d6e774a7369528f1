package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/prepaidly/prepaidly/internal/models"
	"github.com/prepaidly/prepaidly/internal/xero"
)

// DefaultRefreshConcurrency bounds how many connections a sweep refreshes at once
const DefaultRefreshConcurrency = 4

// OrganisationFetcher returns the organisation details of a tenant
type OrganisationFetcher interface {
	GetOrganisation(ctx context.Context, accessToken, tenantID string) (*xero.Organisation, error)
}

// RefreshResult counts the outcome of one sweep
type RefreshResult struct {
	Total        int           `json:"total"`
	Refreshed    int           `json:"refreshed"`
	Failed       int           `json:"failed"`
	Disconnected int           `json:"disconnected"`
	NamesUpdated int           `json:"names_updated"`
	Duration     time.Duration `json:"duration"`
}

// RefreshService refreshes the tokens of every CONNECTED connection
type RefreshService struct {
	db          *gorm.DB
	tokens      *TokenService
	orgs        OrganisationFetcher
	concurrency int
	logger      *zap.Logger
}

// NewRefreshService creates a new refresh service. A nil orgs skips tenant
// name updates.
func NewRefreshService(db *gorm.DB, tokens *TokenService, orgs OrganisationFetcher, concurrency int, logger *zap.Logger) *RefreshService {
	if concurrency <= 0 {
		concurrency = DefaultRefreshConcurrency
	}
	return &RefreshService{
		db:          db,
		tokens:      tokens,
		orgs:        orgs,
		concurrency: concurrency,
		logger:      logger,
	}
}

// RefreshAll refreshes every CONNECTED connection. Failures are counted per
// connection and never stop the sweep; only failing to load the
// connections is returned as an error.
func (s *RefreshService) RefreshAll(ctx context.Context) (RefreshResult, error) {
	started := time.Now()

	var connections []models.XeroConnection
	if err := s.db.WithContext(ctx).
		Where("connection_status = ?", models.ConnectionStatusConnected).
		Find(&connections).Error; err != nil {
		return RefreshResult{}, fmt.Errorf("failed to load connections: %w", err)
	}

	result := RefreshResult{Total: len(connections)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range connections {
		conn := &connections[i]
		g.Go(func() error {
			refreshed, disconnected, renamed := s.refreshOne(ctx, conn)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case refreshed:
				result.Refreshed++
			case disconnected:
				result.Disconnected++
			default:
				result.Failed++
			}
			if renamed {
				result.NamesUpdated++
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(started)
	s.logger.Info("Token refresh sweep finished",
		zap.Int("total", result.Total),
		zap.Int("refreshed", result.Refreshed),
		zap.Int("failed", result.Failed),
		zap.Int("disconnected", result.Disconnected),
		zap.Int("names_updated", result.NamesUpdated),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (s *RefreshService) refreshOne(ctx context.Context, conn *models.XeroConnection) (refreshed, disconnected, renamed bool) {
	if err := s.tokens.Refresh(ctx, conn); err != nil {
		if !conn.IsConnected() {
			return false, true, false
		}
		s.logger.Warn("Connection refresh failed, retrying next sweep",
			zap.String("connection_id", conn.ID.String()),
			zap.String("tenant_id", conn.TenantID),
			zap.Error(err))
		return false, false, false
	}

	renamed, err := s.updateTenantName(ctx, conn)
	if err != nil {
		s.logger.Warn("Tenant name update failed",
			zap.String("tenant_id", conn.TenantID),
			zap.Error(err))
	}
	return true, false, renamed
}

func (s *RefreshService) updateTenantName(ctx context.Context, conn *models.XeroConnection) (bool, error) {
	if s.orgs == nil {
		return false, nil
	}

	accessToken, err := s.tokens.GetValidAccessToken(ctx, conn)
	if err != nil {
		return false, err
	}
	org, err := s.orgs.GetOrganisation(ctx, accessToken, conn.TenantID)
	if err != nil {
		return false, err
	}
	if org.Name == "" || org.Name == conn.TenantName {
		return false, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.XeroConnection{}).
		Where("id = ?", conn.ID).
		Update("tenant_name", org.Name).Error; err != nil {
		return false, fmt.Errorf("failed to update tenant name: %w", err)
	}
	conn.TenantName = org.Name
	return true, nil
}
