package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prepaidly/prepaidly/internal/models"
)

// SettingsService manages per-tenant default account codes
type SettingsService struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *gorm.DB, logger *zap.Logger) *SettingsService {
	return &SettingsService{db: db, logger: logger}
}

// Get returns the settings of tenantID. A tenant without a row gets empty
// defaults.
func (s *SettingsService) Get(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	if tenantID == "" {
		return nil, invalid("tenant id is required")
	}

	var settings models.TenantSettings
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.TenantSettings{TenantID: tenantID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant settings: %w", err)
	}
	return &settings, nil
}

// Upsert stores settings, replacing any existing row for the tenant
func (s *SettingsService) Upsert(ctx context.Context, settings *models.TenantSettings) (*models.TenantSettings, error) {
	if settings.TenantID == "" {
		return nil, invalid("tenant id is required")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		UpdateAll: true,
	}).Create(settings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save tenant settings: %w", err)
	}

	s.logger.Info("Tenant settings saved", zap.String("tenant_id", settings.TenantID))
	return settings, nil
}
