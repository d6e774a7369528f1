package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prepaidly/prepaidly/internal/api"
	"github.com/prepaidly/prepaidly/internal/config"
	"github.com/prepaidly/prepaidly/internal/database"
	"github.com/prepaidly/prepaidly/internal/encryption"
	"github.com/prepaidly/prepaidly/internal/eventbus"
	"github.com/prepaidly/prepaidly/internal/oauthstate"
	"github.com/prepaidly/prepaidly/internal/secrets"
	"github.com/prepaidly/prepaidly/internal/services"
	"github.com/prepaidly/prepaidly/internal/xero"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Prepaidly API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loadVaultSecrets(ctx, cfg, logger)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Run database migrations FIRST
	if err := database.Migrate(db); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	enc, err := encryption.New(cfg.Encryption.Password)
	if err != nil {
		logger.Fatal("Failed to initialize token encryption", zap.Error(err))
	}

	var (
		redisClient *redis.Client
		locker      *redislock.Client
		bus         eventbus.EventBus = eventbus.Nop{}
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		locker = redislock.New(redisClient)
		bus = eventbus.NewRedisEventBus(redisClient, eventbus.DefaultGroup, logger)
		defer bus.Close()
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Info("Redis not configured, running without locks and events")
	}

	var states oauthstate.Store
	switch cfg.OAuth.StateBackend {
	case "redis":
		states = oauthstate.NewRedisStore(redisClient, oauthstate.DefaultTTL, logger)
	default:
		memory := oauthstate.NewMemoryStore(oauthstate.DefaultTTL, logger)
		memory.Start(ctx, oauthstate.DefaultSweepInterval)
		states = memory
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
	client := xero.NewClient(cfg.Xero.APIBaseURL, nil, xero.DefaultRateLimit, logger)

	// Initialize services AFTER migrations
	tokens := services.NewTokenService(db, oauth, states, enc, bus, logger)
	journals := services.NewJournalService(db, tokens, client, bus, logger)
	if locker != nil {
		tokens.WithLocker(locker)
		journals.WithLocker(locker)
	}
	settings := services.NewSettingsService(db, logger)

	handlers := api.NewHandlers(
		db,
		services.NewUserService(db, logger),
		settings,
		services.NewScheduleService(db, settings, bus, logger),
		journals,
		tokens,
		services.NewSyncService(db, tokens, client, logger),
		logger,
	)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := api.NewRouter(handlers, logger)
	if err != nil {
		logger.Fatal("Failed to build router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if cfg.Server.HTTPS {
			logger.Info("Starting HTTPS server",
				zap.String("addr", srv.Addr),
				zap.String("cert_file", cfg.Server.CertFile),
				zap.String("key_file", cfg.Server.KeyFile))

			if err := srv.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Failed to start HTTPS server", zap.Error(err))
			}
		} else {
			logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Failed to start HTTP server", zap.Error(err))
			}
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func initLogger(level string) (*zap.Logger, error) {
	var logLevel zap.AtomicLevel
	switch level {
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

// loadVaultSecrets overlays secrets from Vault when it is configured. Failures
// fall back to the configured values.
func loadVaultSecrets(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	if cfg.Vault.Addr == "" || cfg.Vault.Token == "" {
		logger.Info("Using config-based secrets (Vault not configured)")
		return
	}

	vault, err := secrets.NewVaultClient(cfg.Vault.Addr, cfg.Vault.Token, logger)
	if err != nil {
		logger.Warn("Failed to initialize Vault client, using config-based secrets", zap.Error(err))
		return
	}

	if err := vault.HealthCheck(ctx); err != nil {
		logger.Warn("Vault unavailable, using config-based secrets", zap.Error(err))
		return
	}

	values, err := vault.LoadConfigSecrets(ctx, cfg.Vault.Path)
	if err != nil {
		logger.Warn("Failed to load secrets from Vault, using config", zap.Error(err))
		return
	}
	cfg.ApplySecrets(values)
}
