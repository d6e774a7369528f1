package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/prepaidly/prepaidly/internal/services"
)

// Refresher runs one token refresh sweep
type Refresher interface {
	RefreshAll(ctx context.Context) (services.RefreshResult, error)
}

// RefreshTokensJob handles TaskRefreshTokens
type RefreshTokensJob struct {
	refresher Refresher
	logger    *zap.Logger
}

// NewRefreshTokensJob wires dependencies for the refresh handler
func NewRefreshTokensJob(refresher Refresher, logger *zap.Logger) *RefreshTokensJob {
	return &RefreshTokensJob{refresher: refresher, logger: logger}
}

// Handle processes refresh tasks
func (j *RefreshTokensJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.refresher == nil {
		return errors.New("refresh tokens: handler not configured")
	}

	var payload RefreshTokensPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Trigger == "" {
		payload.Trigger = "cron"
	}

	_, err := j.Run(ctx, payload.Trigger)
	return err
}

// Run performs a sweep outside of asynq, e.g. at worker start-up
func (j *RefreshTokensJob) Run(ctx context.Context, trigger string) (services.RefreshResult, error) {
	logger := j.logger.With(zap.String("trigger", trigger))
	logger.Info("Starting token refresh sweep")

	result, err := j.refresher.RefreshAll(ctx)
	if err != nil {
		logger.Error("Token refresh sweep failed", zap.Error(err))
		return result, err
	}

	if result.Disconnected > 0 {
		logger.Warn("Connections require re-authorization", zap.Int("disconnected", result.Disconnected))
	}
	return result, nil
}
