package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the queue every task runs on
	QueueDefault = "default"
	// TaskRefreshTokens sweeps every CONNECTED Xero connection
	TaskRefreshTokens = "xero:refresh_tokens"
)

// RefreshTokensPayload records what triggered a sweep
type RefreshTokensPayload struct {
	Trigger string `json:"trigger"`
}

// NewRefreshTokensTask builds the sweep task. A sweep is never retried;
// the next scheduled run picks up whatever failed.
func NewRefreshTokensTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(RefreshTokensPayload{Trigger: trigger})
	if err != nil {
		return nil, fmt.Errorf("marshal refresh payload: %w", err)
	}
	return asynq.NewTask(TaskRefreshTokens, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(15*time.Minute),
		asynq.Unique(time.Hour),
	), nil
}
