package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prepaidly/prepaidly/internal/services"
)

type fakeRefresher struct {
	calls  int
	result services.RefreshResult
	err    error
}

func (f *fakeRefresher) RefreshAll(ctx context.Context) (services.RefreshResult, error) {
	f.calls++
	return f.result, f.err
}

func TestNewRefreshTokensTask(t *testing.T) {
	task, err := NewRefreshTokensTask("cron")
	require.NoError(t, err)

	assert.Equal(t, TaskRefreshTokens, task.Type())
	assert.JSONEq(t, `{"trigger":"cron"}`, string(task.Payload()))
}

func TestRefreshTokensJobHandle(t *testing.T) {
	refresher := &fakeRefresher{result: services.RefreshResult{Total: 3, Refreshed: 2, Disconnected: 1}}
	job := NewRefreshTokensJob(refresher, zap.NewNop())

	task, err := NewRefreshTokensTask("cron")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, refresher.calls)
}

func TestRefreshTokensJobPropagatesLoadFailure(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("database unavailable")}
	job := NewRefreshTokensJob(refresher, zap.NewNop())

	task, err := NewRefreshTokensTask("cron")
	require.NoError(t, err)
	assert.Error(t, job.Handle(context.Background(), task))
}

func TestRefreshTokensJobBadPayload(t *testing.T) {
	refresher := &fakeRefresher{}
	job := NewRefreshTokensJob(refresher, zap.NewNop())

	err := job.Handle(context.Background(), asynq.NewTask(TaskRefreshTokens, []byte("not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, refresher.calls)
}

func TestNewWorker(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	job := NewRefreshTokensJob(&fakeRefresher{}, zap.NewNop())

	w, err := NewWorker(WorkerConfig{RedisOpts: opts, Logger: zap.NewNop(), Refresh: job})
	require.NoError(t, err)
	assert.NotEmpty(t, w.entryID)

	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Logger: zap.NewNop(), Refresh: job, RefreshCron: "every tuesday"})
	assert.Error(t, err)

	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Logger: zap.NewNop()})
	assert.Error(t, err)
}
