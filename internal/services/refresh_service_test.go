package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prepaidly/prepaidly/internal/models"
	"github.com/prepaidly/prepaidly/internal/xero"
)

func TestRefreshAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t)

	good := env.createConnection(t, user.ID, "tenant-good", "refresh-seed", time.Now().Add(time.Hour))
	revoked := env.createConnection(t, user.ID, "tenant-revoked", "revoked-1", time.Now().Add(time.Hour))
	flaky := env.createConnection(t, user.ID, "tenant-flaky", "flaky-1", time.Now().Add(time.Hour))
	idle := env.createConnection(t, user.ID, "tenant-idle", "revoked-2", time.Now().Add(time.Hour))
	require.NoError(t, env.db.Model(idle).Update("connection_status", models.ConnectionStatusDisconnected).Error)

	env.xero.SetOrgName("Renamed Co")
	refresher := NewRefreshService(env.db, env.tokens, env.api, 2, env.logger)

	result, err := refresher.RefreshAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Refreshed)
	assert.Equal(t, 1, result.Disconnected)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.NamesUpdated)

	assert.Equal(t, "Renamed Co", env.reload(t, good.ID).TenantName)
	assert.Equal(t, models.ConnectionStatusDisconnected, env.reload(t, revoked.ID).ConnectionStatus)
	assert.Equal(t, models.ConnectionStatusConnected, env.reload(t, flaky.ID).ConnectionStatus)

	// The disconnected connection drops out of the next sweep.
	result, err = refresher.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Refreshed)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.NamesUpdated)
}

func TestRefreshAllNameUpdateFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	env.createConnection(t, user.ID, "tenant-1", "refresh-seed", time.Now().Add(time.Hour))

	refresher := NewRefreshService(env.db, env.tokens, failingOrgs{}, 0, env.logger)
	result, err := refresher.RefreshAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Refreshed)
	assert.Zero(t, result.Failed)
	assert.Zero(t, result.NamesUpdated)
}

type failingOrgs struct{}

func (failingOrgs) GetOrganisation(ctx context.Context, accessToken, tenantID string) (*xero.Organisation, error) {
	return nil, errors.New("xero unavailable")
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestRefreshAllLoadsOnlyConnected(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "xero_connections" WHERE connection_status = $1`)).
		WithArgs(string(models.ConnectionStatusConnected)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "connection_status"}))

	result, err := NewRefreshService(db, nil, nil, 0, zap.NewNop()).RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshAllLoadFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "xero_connections"`)).
		WillReturnError(errors.New("connection reset"))

	_, err := NewRefreshService(db, nil, nil, 0, zap.NewNop()).RefreshAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load connections")
}
