package oauthstate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	userID    string
	expiresAt time.Time
}

// MemoryStore keeps states in process memory. It is not shared between
// instances; use RedisStore when running more than one API replica.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	clock   func() time.Time
	logger  *zap.Logger
}

// NewMemoryStore creates an in-memory state store
func NewMemoryStore(ttl time.Duration, logger *zap.Logger) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   time.Now,
		logger:  logger,
	}
}

// StoreState issues a new state for userID
func (m *MemoryStore) StoreState(ctx context.Context, userID string) (string, error) {
	state, err := newState()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.entries[state] = entry{userID: userID, expiresAt: m.clock().Add(m.ttl)}
	m.mu.Unlock()

	return state, nil
}

// ValidateState consumes state and reports whether it was valid for userID
func (m *MemoryStore) ValidateState(ctx context.Context, state, userID string) bool {
	m.mu.Lock()
	e, ok := m.entries[state]
	delete(m.entries, state)
	m.mu.Unlock()

	switch {
	case !ok:
		m.logger.Warn("OAuth state not found")
		return false
	case !m.clock().Before(e.expiresAt):
		m.logger.Warn("OAuth state expired", zap.String("user_id", userID))
		return false
	case e.userID != userID:
		m.logger.Warn("OAuth state user mismatch",
			zap.String("expected_user_id", e.userID),
			zap.String("user_id", userID))
		return false
	}
	return true
}

// Sweep removes expired states and returns how many were removed
func (m *MemoryStore) Sweep() int {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for state, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, state)
			removed++
		}
	}
	return removed
}

// Len returns the number of states held, expired or not
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Start runs Sweep every interval until ctx is cancelled
func (m *MemoryStore) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := m.Sweep(); removed > 0 {
					m.logger.Debug("Evicted expired OAuth states", zap.Int("removed", removed))
				}
			}
		}
	}()
}
