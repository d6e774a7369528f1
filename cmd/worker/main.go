package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prepaidly/prepaidly/internal/config"
	"github.com/prepaidly/prepaidly/internal/database"
	"github.com/prepaidly/prepaidly/internal/encryption"
	"github.com/prepaidly/prepaidly/internal/eventbus"
	"github.com/prepaidly/prepaidly/internal/jobs"
	"github.com/prepaidly/prepaidly/internal/oauthstate"
	"github.com/prepaidly/prepaidly/internal/secrets"
	"github.com/prepaidly/prepaidly/internal/services"
	"github.com/prepaidly/prepaidly/internal/xero"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Provide(
			initLogger,
			initConfig,
			initDatabase,
			initRedis,
			initEventBus,
			initTokenService,
			initRefreshService,
			func(refresh *services.RefreshService, logger *zap.Logger) *jobs.RefreshTokensJob {
				return jobs.NewRefreshTokensJob(refresh, logger)
			},
			initWorker,
		),
		fx.Invoke(watchDisconnections, startWorker),
		fx.StopTimeout(30*time.Second),
	)

	if err := app.Start(context.Background()); err != nil {
		log.Fatal("Failed to start worker: ", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down worker...")
	if err := app.Stop(context.Background()); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Worker shutdown complete")
}

func initLogger() (*zap.Logger, error) {
	var logLevel zap.AtomicLevel
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		logLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		logLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		logLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = logLevel
	return zapConfig.Build()
}

func initConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cfg.Vault.Addr != "" && cfg.Vault.Token != "" {
		vault, err := secrets.NewVaultClient(cfg.Vault.Addr, cfg.Vault.Token, logger)
		if err != nil {
			return nil, err
		}
		values, err := vault.LoadConfigSecrets(context.Background(), cfg.Vault.Path)
		if err != nil {
			logger.Warn("Failed to load secrets from Vault, using config", zap.Error(err))
		} else {
			cfg.ApplySecrets(values)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr == "" {
		return nil, errors.New("worker requires redis.addr")
	}
	return cfg, nil
}

func initDatabase(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func initRedis(lc fx.Lifecycle, cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func initEventBus(lc fx.Lifecycle, client *redis.Client, logger *zap.Logger) eventbus.EventBus {
	bus := eventbus.NewRedisEventBus(client, eventbus.DefaultGroup, logger)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return bus.Close()
		},
	})
	return bus
}

func initTokenService(
	cfg *config.Config,
	db *gorm.DB,
	client *redis.Client,
	bus eventbus.EventBus,
	logger *zap.Logger,
) (*services.TokenService, error) {
	enc, err := encryption.New(cfg.Encryption.Password)
	if err != nil {
		return nil, err
	}

	oauth := xero.NewOAuthClient(xero.OAuthConfig{
		ClientID:       cfg.Xero.ClientID,
		ClientSecret:   cfg.Xero.ClientSecret,
		RedirectURI:    cfg.Xero.RedirectURI,
		Scopes:         cfg.Xero.Scopes,
		AuthURL:        cfg.Xero.AuthURL,
		TokenURL:       cfg.Xero.TokenURL,
		RevokeURL:      cfg.Xero.RevokeURL,
		ConnectionsURL: cfg.Xero.ConnectionsURL,
	}, nil, logger)

	// The worker never issues states; the store only satisfies the service.
	states := oauthstate.NewRedisStore(client, oauthstate.DefaultTTL, logger)
	tokens := services.NewTokenService(db, oauth, states, enc, bus, logger)
	return tokens.WithLocker(redislock.New(client)), nil
}

func initRefreshService(cfg *config.Config, db *gorm.DB, tokens *services.TokenService, logger *zap.Logger) *services.RefreshService {
	client := xero.NewClient(cfg.Xero.APIBaseURL, nil, xero.DefaultRateLimit, logger)
	return services.NewRefreshService(db, tokens, client, cfg.Refresh.Concurrency, logger)
}

func initWorker(cfg *config.Config, job *jobs.RefreshTokensJob, logger *zap.Logger) (*jobs.Worker, error) {
	return jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		Logger:      logger,
		RefreshCron: cfg.Refresh.Cron,
		Refresh:     job,
	})
}

func watchDisconnections(lc fx.Lifecycle, bus eventbus.EventBus, logger *zap.Logger) {
	var sub eventbus.Subscription
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			sub, err = bus.Subscribe(context.Background(), eventbus.TopicConnectionDisconnected,
				func(ctx context.Context, event map[string]interface{}) error {
					logger.Warn("Xero connection disconnected, user must reconnect",
						zap.Any("user_id", event["user_id"]),
						zap.Any("tenant_id", event["tenant_id"]),
						zap.Any("reason", event["reason"]))
					return nil
				})
			return err
		},
		OnStop: func(ctx context.Context) error {
			if sub == nil {
				return nil
			}
			return sub.Unsubscribe()
		},
	})
}

func startWorker(lc fx.Lifecycle, worker *jobs.Worker, job *jobs.RefreshTokensJob, logger *zap.Logger) {
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting Prepaidly Worker...")
			if err := worker.Start(); err != nil {
				return err
			}

			go func() {
				defer close(done)
				if _, err := job.Run(sweepCtx, "startup"); err != nil {
					logger.Error("Startup token refresh failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping Prepaidly Worker...")
			cancelSweep()
			select {
			case <-done:
			case <-ctx.Done():
			}
			worker.Shutdown()
			return nil
		},
	})
}
