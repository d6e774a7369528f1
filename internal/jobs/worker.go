package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// DefaultRefreshCron runs the sweep every six hours
const DefaultRefreshCron = "0 */6 * * *"

// WorkerConfig collects dependencies required to bootstrap the worker
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *zap.Logger
	Concurrency int
	RefreshCron string
	Refresh     *RefreshTokensJob
}

// Worker wraps the asynq server and scheduler
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	entryID   string
	logger    *zap.Logger
}

// NewWorker registers the refresh handler and its cron entry
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Refresh == nil {
		return nil, errors.New("worker: refresh job is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.RefreshCron == "" {
		cfg.RefreshCron = DefaultRefreshCron
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{QueueDefault: 1},
		Logger:          cfg.Logger.Sugar(),
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			cfg.Logger.Error("Task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRefreshTokens, cfg.Refresh.Handle)

	task, err := NewRefreshTokensTask("cron")
	if err != nil {
		return nil, err
	}
	scheduler := asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   cfg.Logger.Sugar(),
	})
	entryID, err := scheduler.Register(cfg.RefreshCron, task)
	if err != nil {
		return nil, fmt.Errorf("register refresh cron %q: %w", cfg.RefreshCron, err)
	}

	return &Worker{
		server:    srv,
		mux:       mux,
		scheduler: scheduler,
		entryID:   entryID,
		logger:    cfg.Logger,
	}, nil
}

// Start begins processing tasks and scheduling the cron entry. It does not block.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	if err := w.scheduler.Start(); err != nil {
		w.server.Shutdown()
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	w.logger.Info("Worker started", zap.String("cron_entry", w.entryID))
	return nil
}

// Shutdown stops the scheduler and waits for running tasks
func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
	w.logger.Info("Worker stopped")
}
