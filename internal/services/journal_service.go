package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
	"gorm.io/gorm"

	"github.com/prepaidly/prepaidly/internal/eventbus"
	"github.com/prepaidly/prepaidly/internal/models"
	"github.com/prepaidly/prepaidly/internal/xero"
)

const postLockTTL = time.Minute

// AccessTokenSource produces valid access tokens for a tenant
type AccessTokenSource interface {
	AccessTokenForTenant(ctx context.Context, tenantID string) (string, error)
}

// ManualJournalCreator creates manual journals in Xero
type ManualJournalCreator interface {
	CreateManualJournal(ctx context.Context, accessToken, tenantID string, journal xero.ManualJournal) (*xero.ManualJournal, error)
}

// JournalService posts schedule entries to Xero as manual journals
type JournalService struct {
	db      *gorm.DB
	tokens  AccessTokenSource
	api     ManualJournalCreator
	events  eventbus.EventBus
	locker  *redislock.Client
	printer *message.Printer
	logger  *zap.Logger
	clock   func() time.Time
}

// NewJournalService creates a new journal service
func NewJournalService(db *gorm.DB, tokens AccessTokenSource, api ManualJournalCreator, events eventbus.EventBus, logger *zap.Logger) *JournalService {
	return &JournalService{
		db:      db,
		tokens:  tokens,
		api:     api,
		events:  events,
		printer: message.NewPrinter(language.English),
		logger:  logger,
		clock:   time.Now,
	}
}

// WithLocker prevents two processes posting the same entry concurrently
func (s *JournalService) WithLocker(locker *redislock.Client) *JournalService {
	s.locker = locker
	return s
}

// Post creates a POSTED manual journal in Xero for the entry and records
// it. An entry is posted at most once; a second attempt fails with
// ErrAlreadyPosted without contacting Xero.
func (s *JournalService) Post(ctx context.Context, entryID uuid.UUID, tenantID string) (*models.JournalEntry, error) {
	entry, schedule, err := s.load(ctx, entryID, tenantID)
	if err != nil {
		return nil, err
	}
	if entry.Posted {
		return nil, ErrAlreadyPosted
	}

	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, "lock:journal:post:"+entryID.String(), postLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: journal entry %s is being posted", ErrConflict, entryID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock journal entry: %w", err)
		}
		defer lock.Release(context.Background())

		if entry, schedule, err = s.load(ctx, entryID, tenantID); err != nil {
			return nil, err
		}
		if entry.Posted {
			return nil, ErrAlreadyPosted
		}
	}

	position, count, err := s.position(ctx, entry)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.tokens.AccessTokenForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	journal := s.buildJournal(schedule, entry, position, count)
	created, err := s.api.CreateManualJournal(ctx, accessToken, tenantID, journal)
	if err != nil {
		s.logger.Error("Manual journal creation failed",
			zap.String("journal_entry_id", entryID.String()),
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to post journal to Xero: %w", err)
	}

	postedAt := s.clock()
	res := s.db.WithContext(ctx).Model(&models.JournalEntry{}).
		Where("id = ? AND posted = ?", entry.ID, false).
		Updates(map[string]interface{}{
			"posted":                 true,
			"xero_manual_journal_id": created.ManualJournalID,
			"xero_journal_number":    created.JournalNumber,
			"posted_at":              postedAt,
		})
	if res.Error != nil {
		// The journal exists in Xero; only the local record is missing.
		s.logger.Error("Failed to record posted journal",
			zap.String("journal_entry_id", entryID.String()),
			zap.String("xero_manual_journal_id", created.ManualJournalID),
			zap.Error(res.Error))
		return nil, fmt.Errorf("failed to record posted journal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Error("Journal entry was posted concurrently",
			zap.String("journal_entry_id", entryID.String()),
			zap.String("xero_manual_journal_id", created.ManualJournalID))
		return nil, ErrAlreadyPosted
	}

	entry.Posted = true
	entry.XeroManualJournalID = created.ManualJournalID
	entry.XeroJournalNumber = created.JournalNumber
	entry.PostedAt = &postedAt

	s.logger.Info("Journal posted",
		zap.String("journal_entry_id", entryID.String()),
		zap.String("tenant_id", tenantID),
		zap.String("xero_manual_journal_id", created.ManualJournalID),
		zap.Int("position", position),
		zap.Int("of", count))

	publish(ctx, s.events, s.logger, eventbus.TopicJournalPosted, JournalPostedEvent{
		JournalEntryID:      entry.ID.String(),
		ScheduleID:          schedule.ID.String(),
		TenantID:            tenantID,
		XeroManualJournalID: created.ManualJournalID,
		Amount:              entry.Amount.StringFixed(2),
	})
	return entry, nil
}

// ListEntries returns the entries of a schedule owned by tenantID, ordered
// by period
func (s *JournalService) ListEntries(ctx context.Context, scheduleID uuid.UUID, tenantID string) ([]models.JournalEntry, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Schedule{}).
		Where("id = ? AND tenant_id = ?", scheduleID, tenantID).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, scheduleID)
	}

	var entries []models.JournalEntry
	if err := s.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("period_date ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	return entries, nil
}

func (s *JournalService) load(ctx context.Context, entryID uuid.UUID, tenantID string) (*models.JournalEntry, *models.Schedule, error) {
	var entry models.JournalEntry
	err := s.db.WithContext(ctx).Where("id = ?", entryID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: journal entry %s", ErrNotFound, entryID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load journal entry: %w", err)
	}

	var schedule models.Schedule
	err = s.db.WithContext(ctx).Where("id = ?", entry.ScheduleID).First(&schedule).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	// Entries of other tenants are reported as missing.
	if err != nil || schedule.TenantID != tenantID {
		return nil, nil, fmt.Errorf("%w: journal entry %s", ErrNotFound, entryID)
	}
	return &entry, &schedule, nil
}

// position returns the 1-based index of entry among its schedule's entries
// ordered by period, and the number of entries
func (s *JournalService) position(ctx context.Context, entry *models.JournalEntry) (int, int, error) {
	var ids []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.JournalEntry{}).
		Where("schedule_id = ?", entry.ScheduleID).
		Order("period_date ASC").
		Pluck("id", &ids).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to load schedule entries: %w", err)
	}
	for i, id := range ids {
		if id == entry.ID {
			return i + 1, len(ids), nil
		}
	}
	return 0, 0, fmt.Errorf("journal entry %s missing from its schedule", entry.ID)
}

func (s *JournalService) buildJournal(schedule *models.Schedule, entry *models.JournalEntry, position, count int) xero.ManualJournal {
	label := schedule.Description
	if label == "" {
		label = schedule.ContactName
	}
	if label == "" {
		label = defaultLabel(schedule.Type)
	}

	ofM := fmt.Sprintf("(%d of %d)", position, count)
	description := fmt.Sprintf("%s - %s %s", label, s.formatAmount(schedule.TotalAmount), ofM)

	debit, credit := schedule.RecognitionAcctCode(), schedule.DeferralAcctCode
	if schedule.Type == models.ScheduleTypeUnearned {
		debit, credit = schedule.DeferralAcctCode, schedule.RevenueAcctCode
	}

	return xero.ManualJournal{
		Narration: fmt.Sprintf("Amortization: %s %s", label, ofM),
		Date:      time.Time(entry.PeriodDate).Format("2006-01-02"),
		Status:    xero.ManualJournalStatusPosted,
		JournalLines: []xero.JournalLine{
			xero.NewJournalLine(entry.Amount, debit, description),
			xero.NewJournalLine(entry.Amount.Neg(), credit, description),
		},
	}
}

func (s *JournalService) formatAmount(amount decimal.Decimal) string {
	return s.printer.Sprint(number.Decimal(amount.InexactFloat64(), number.Scale(2)))
}

func defaultLabel(t models.ScheduleType) string {
	if t == models.ScheduleTypeUnearned {
		return "Unearned revenue"
	}
	return "Prepaid expense"
}
