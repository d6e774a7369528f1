package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prepaidly/prepaidly/internal/eventbus"
	"github.com/prepaidly/prepaidly/internal/models"
)

// CreateScheduleInput describes a schedule to create. Omitted account codes
// fall back to the tenant's settings.
type CreateScheduleInput struct {
	TenantID         string
	XeroInvoiceID    string
	Type             models.ScheduleType
	Method           models.AmortizationMethod
	StartDate        time.Time
	EndDate          time.Time
	TotalAmount      decimal.Decimal
	ExpenseAcctCode  string
	RevenueAcctCode  string
	DeferralAcctCode string
	ContactName      string
	Description      string
	CreatedBy        *uuid.UUID
}

// ScheduleService creates and reads amortization schedules
type ScheduleService struct {
	db       *gorm.DB
	settings *SettingsService
	events   eventbus.EventBus
	logger   *zap.Logger
}

// NewScheduleService creates a new schedule service
func NewScheduleService(db *gorm.DB, settings *SettingsService, events eventbus.EventBus, logger *zap.Logger) *ScheduleService {
	return &ScheduleService{db: db, settings: settings, events: events, logger: logger}
}

// Create validates in, generates its entries and stores the schedule with
// every entry in one transaction
func (s *ScheduleService) Create(ctx context.Context, in CreateScheduleInput) (*models.Schedule, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return nil, invalid("tenant id is required")
	}
	if !in.Type.Valid() {
		return nil, invalid("type must be PREPAID or UNEARNED")
	}
	if in.Method == "" {
		in.Method = models.AmortizationMonthly
	}

	if err := s.applyDefaults(ctx, &in); err != nil {
		return nil, err
	}

	switch in.Type {
	case models.ScheduleTypePrepaid:
		if in.ExpenseAcctCode == "" {
			return nil, invalid("expense account code is required for PREPAID schedules")
		}
	case models.ScheduleTypeUnearned:
		if in.RevenueAcctCode == "" {
			return nil, invalid("revenue account code is required for UNEARNED schedules")
		}
	}
	if in.DeferralAcctCode == "" {
		return nil, invalid("deferral account code is required")
	}

	periods, err := Generate(in.Method, in.StartDate, in.EndDate, in.TotalAmount)
	if err != nil {
		return nil, err
	}

	schedule := &models.Schedule{
		TenantID:         in.TenantID,
		XeroInvoiceID:    in.XeroInvoiceID,
		Type:             in.Type,
		Method:           in.Method,
		StartDate:        datatypes.Date(dateOf(in.StartDate)),
		EndDate:          datatypes.Date(dateOf(in.EndDate)),
		TotalAmount:      in.TotalAmount,
		ExpenseAcctCode:  in.ExpenseAcctCode,
		RevenueAcctCode:  in.RevenueAcctCode,
		DeferralAcctCode: in.DeferralAcctCode,
		ContactName:      in.ContactName,
		Description:      in.Description,
		CreatedBy:        in.CreatedBy,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(schedule).Error; err != nil {
			return fmt.Errorf("failed to create schedule: %w", err)
		}

		entries := make([]models.JournalEntry, len(periods))
		for i, p := range periods {
			entries[i] = models.JournalEntry{
				ScheduleID: schedule.ID,
				PeriodDate: datatypes.Date(p.Date),
				Amount:     p.Amount,
			}
		}
		if err := tx.Create(&entries).Error; err != nil {
			return fmt.Errorf("failed to create journal entries: %w", err)
		}
		schedule.JournalEntries = entries
		return nil
	})
	if err != nil {
		s.logger.Error("Schedule creation rolled back",
			zap.String("tenant_id", in.TenantID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Schedule created",
		zap.String("schedule_id", schedule.ID.String()),
		zap.String("tenant_id", schedule.TenantID),
		zap.Int("entries", len(periods)))

	publish(ctx, s.events, s.logger, eventbus.TopicScheduleCreated, ScheduleCreatedEvent{
		ScheduleID:  schedule.ID.String(),
		TenantID:    schedule.TenantID,
		Type:        string(schedule.Type),
		TotalAmount: schedule.TotalAmount.StringFixed(2),
		Entries:     len(periods),
	})
	return schedule, nil
}

// Get returns a schedule of tenantID with its entries ordered by period
func (s *ScheduleService) Get(ctx context.Context, id uuid.UUID, tenantID string) (*models.Schedule, error) {
	var schedule models.Schedule
	err := s.db.WithContext(ctx).
		Preload("JournalEntries", func(db *gorm.DB) *gorm.DB {
			return db.Order("period_date ASC")
		}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&schedule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	return &schedule, nil
}

// List returns the schedules of tenantID, newest first
func (s *ScheduleService) List(ctx context.Context, tenantID string) ([]models.Schedule, error) {
	if tenantID == "" {
		return nil, invalid("tenant id is required")
	}

	var schedules []models.Schedule
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

func (s *ScheduleService) applyDefaults(ctx context.Context, in *CreateScheduleInput) error {
	if s.settings == nil {
		return nil
	}
	settings, err := s.settings.Get(ctx, in.TenantID)
	if err != nil {
		return err
	}

	switch in.Type {
	case models.ScheduleTypePrepaid:
		if in.ExpenseAcctCode == "" {
			in.ExpenseAcctCode = settings.DefaultExpenseAcctCode
		}
		if in.DeferralAcctCode == "" {
			in.DeferralAcctCode = settings.PrepaymentAcctCode
		}
	case models.ScheduleTypeUnearned:
		if in.RevenueAcctCode == "" {
			in.RevenueAcctCode = settings.DefaultRevenueAcctCode
		}
		if in.DeferralAcctCode == "" {
			in.DeferralAcctCode = settings.UnearnedAcctCode
		}
	}
	return nil
}
