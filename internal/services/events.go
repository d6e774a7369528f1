package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/prepaidly/prepaidly/internal/eventbus"
)

// ScheduleCreatedEvent is published after a schedule and its entries commit
type ScheduleCreatedEvent struct {
	ScheduleID  string `json:"schedule_id"`
	TenantID    string `json:"tenant_id"`
	Type        string `json:"type"`
	TotalAmount string `json:"total_amount"`
	Entries     int    `json:"entries"`
}

// JournalPostedEvent is published after an entry is recorded as posted
type JournalPostedEvent struct {
	JournalEntryID      string `json:"journal_entry_id"`
	ScheduleID          string `json:"schedule_id"`
	TenantID            string `json:"tenant_id"`
	XeroManualJournalID string `json:"xero_manual_journal_id"`
	Amount              string `json:"amount"`
}

// ConnectionDisconnectedEvent is published when a refresh token is rejected
type ConnectionDisconnectedEvent struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	TenantID     string `json:"tenant_id"`
	Reason       string `json:"reason"`
}

// publish never fails the caller; the state change it reports has already
// been committed.
func publish(ctx context.Context, bus eventbus.EventBus, logger *zap.Logger, topic string, event interface{}) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, topic, event); err != nil {
		logger.Warn("Failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}
