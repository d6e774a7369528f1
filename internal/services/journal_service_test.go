package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepaidly/prepaidly/internal/eventbus"
	"github.com/prepaidly/prepaidly/internal/models"
	"github.com/prepaidly/prepaidly/internal/xero"
)

func newJournalEnv(t *testing.T) (*testEnv, *JournalService) {
	env := newTestEnv(t)
	user := env.createUser(t)
	env.createConnection(t, user.ID, "tenant-1", "refresh-seed", time.Now().Add(time.Hour))
	return env, NewJournalService(env.db, env.tokens, env.api, env.bus, env.logger)
}

func TestPostPrepaidJournal(t *testing.T) {
	env, svc := newJournalEnv(t)
	schedule := env.createSchedule(t, "tenant-1", models.ScheduleTypePrepaid, "3000.00")
	first := schedule.JournalEntries[0]

	posted, err := svc.Post(context.Background(), first.ID, "tenant-1")
	require.NoError(t, err)

	assert.True(t, posted.Posted)
	assert.Equal(t, "mj-1", posted.XeroManualJournalID)
	assert.Equal(t, "1", posted.XeroJournalNumber)
	require.NotNil(t, posted.PostedAt)

	journals := env.xero.Journals()
	require.Len(t, journals, 1)
	journal := journals[0]
	assert.Equal(t, xero.ManualJournalStatusPosted, journal.Status)
	assert.Equal(t, "2025-01-01", journal.Date)
	assert.Equal(t, "Amortization: Annual insurance (1 of 3)", journal.Narration)

	require.Len(t, journal.JournalLines, 2)
	debit, credit := journal.JournalLines[0], journal.JournalLines[1]
	assert.Equal(t, "400", debit.AccountCode)
	assert.Equal(t, "1000.00", debit.LineAmount.String())
	assert.Equal(t, "620", credit.AccountCode)
	assert.Equal(t, "-1000.00", credit.LineAmount.String())
	assert.Equal(t, "Annual insurance - 3,000.00 (1 of 3)", debit.Description)

	var stored models.JournalEntry
	require.NoError(t, env.db.Where("id = ?", first.ID).First(&stored).Error)
	assert.True(t, stored.Posted)
	assert.Equal(t, "mj-1", stored.XeroManualJournalID)

	require.Len(t, env.bus.Events(eventbus.TopicJournalPosted), 1)
}

func TestPostUnearnedJournal(t *testing.T) {
	env, svc := newJournalEnv(t)
	schedule := env.createSchedule(t, "tenant-1", models.ScheduleTypeUnearned, "1000.00")
	last := schedule.JournalEntries[2]

	_, err := svc.Post(context.Background(), last.ID, "tenant-1")
	require.NoError(t, err)

	journal := env.xero.Journals()[0]
	assert.Equal(t, "2025-03-01", journal.Date)
	assert.Equal(t, "620", journal.JournalLines[0].AccountCode, "debit deferral")
	assert.Equal(t, "333.34", journal.JournalLines[0].LineAmount.String())
	assert.Equal(t, "200", journal.JournalLines[1].AccountCode, "credit revenue")
	assert.Equal(t, "-333.34", journal.JournalLines[1].LineAmount.String())
	assert.Contains(t, journal.Narration, "(3 of 3)")
}

func TestPostRejectsAlreadyPosted(t *testing.T) {
	env, svc := newJournalEnv(t)
	schedule := env.createSchedule(t, "tenant-1", models.ScheduleTypePrepaid, "3000.00")
	entryID := schedule.JournalEntries[0].ID

	_, err := svc.Post(context.Background(), entryID, "tenant-1")
	require.NoError(t, err)

	_, err = svc.Post(context.Background(), entryID, "tenant-1")
	assert.ErrorIs(t, err, ErrAlreadyPosted)
	assert.Len(t, env.xero.Journals(), 1, "xero is called once")
}

func TestPostChecksTenantOwnership(t *testing.T) {
	env, svc := newJournalEnv(t)
	schedule := env.createSchedule(t, "tenant-1", models.ScheduleTypePrepaid, "3000.00")

	_, err := svc.Post(context.Background(), schedule.JournalEntries[0].ID, "tenant-2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Post(context.Background(), uuid.New(), "tenant-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, env.xero.Journals())
}

func TestPostXeroFailureLeavesEntryUnposted(t *testing.T) {
	env, svc := newJournalEnv(t)
	schedule := env.createSchedule(t, "tenant-1", models.ScheduleTypePrepaid, "3000.00")
	entryID := schedule.JournalEntries[0].ID
	env.xero.SetJournalFails(true)

	_, err := svc.Post(context.Background(), entryID, "tenant-1")
	require.Error(t, err)

	var apiErr *xero.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, err.Error(), "Account code 999 is not valid")

	var stored models.JournalEntry
	require.NoError(t, env.db.Where("id = ?", entryID).First(&stored).Error)
	assert.False(t, stored.Posted)
	assert.Empty(t, stored.XeroManualJournalID)

	// The entry can be posted once Xero accepts it.
	env.xero.SetJournalFails(false)
	_, err = svc.Post(context.Background(), entryID, "tenant-1")
	assert.NoError(t, err)
}

func TestPostWithoutConnection(t *testing.T) {
	env := newTestEnv(t)
	svc := NewJournalService(env.db, env.tokens, env.api, env.bus, env.logger)
	schedule := env.createSchedule(t, "tenant-1", models.ScheduleTypePrepaid, "3000.00")

	_, err := svc.Post(context.Background(), schedule.JournalEntries[0].ID, "tenant-1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPostWithLocker(t *testing.T) {
	env, svc := newJournalEnv(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := redislock.New(client)
	svc.WithLocker(locker)

	schedule := env.createSchedule(t, "tenant-1", models.ScheduleTypePrepaid, "3000.00")
	first, second := schedule.JournalEntries[0].ID, schedule.JournalEntries[1].ID

	_, err := svc.Post(context.Background(), first, "tenant-1")
	require.NoError(t, err)

	held, err := locker.Obtain(context.Background(), "lock:journal:post:"+second.String(), time.Minute, nil)
	require.NoError(t, err)
	defer held.Release(context.Background())

	_, err = svc.Post(context.Background(), second, "tenant-1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, env.xero.Journals(), 1)
}

func TestListEntries(t *testing.T) {
	env, svc := newJournalEnv(t)
	schedule := env.createSchedule(t, "tenant-1", models.ScheduleTypePrepaid, "3000.00")

	entries, err := svc.ListEntries(context.Background(), schedule.ID, "tenant-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, time.Time(entries[0].PeriodDate).Before(time.Time(entries[1].PeriodDate)))

	_, err = svc.ListEntries(context.Background(), schedule.ID, "tenant-2")
	assert.ErrorIs(t, err, ErrNotFound)
}
