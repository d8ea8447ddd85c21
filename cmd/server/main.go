package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hugh/go-shepherd/internal/api"
	"github.com/hugh/go-shepherd/internal/auth"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database"
	"github.com/hugh/go-shepherd/internal/directory"
	"github.com/hugh/go-shepherd/internal/followup"
	"github.com/hugh/go-shepherd/internal/inbox"
	"github.com/hugh/go-shepherd/internal/invitation"
	"github.com/hugh/go-shepherd/internal/notify"
	"github.com/hugh/go-shepherd/internal/tasks"
	"github.com/hugh/go-shepherd/pkg/config"
	"github.com/hugh/go-shepherd/pkg/crypto"
	"github.com/hugh/go-shepherd/pkg/queue"
	"github.com/hugh/go-shepherd/pkg/util"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting shepherd server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis, notifications stay in process", "error", err)
		redisClient = nil
	}

	var asynqClient *asynq.Client
	if redisClient != nil && cfg.Notify.Transport == "asynq" {
		asynqClient = queue.NewClient(&cfg.Redis)
	}

	key := cfg.Encryption.Key
	if key == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			logger.Error("failed to generate encryption key", "error", err)
			os.Exit(1)
		}
		logger.Warn("ENCRYPTION_KEY not set, using an ephemeral key; follow-up notes will be unreadable after restart (run shepherdctl gen-key)")
	}
	encryptor, err := crypto.NewEncryptor(key)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		os.Exit(1)
	}
	logger.Info("notes encryption ready", "recipient", encryptor.PublicKey())

	dispatcher := newDispatcher(cfg, redisClient, asynqClient, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	clock := util.SystemClock{}
	resolver := authz.NewResolver(nil)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())

	router := api.NewRouter(api.RouterConfig{
		DB:          db,
		Redis:       redisClient,
		Logger:      logger,
		Tokens:      jwtService,
		Directory:   directory.NewService(db, resolver, clock, logger),
		Invitations: invitation.NewService(db, resolver, dispatcher, clock, logger, invitation.OptionsFromConfig(&cfg.Invitation)),
		FollowUps: followup.NewService(db, resolver, encryptor, dispatcher, clock, logger, followup.Options{
			NotifyPreviousStaff: cfg.Notify.PreviousStaff,
		}),
		Inbox:         inbox.NewService(db, resolver, clock, logger),
		RateLimitReqs: cfg.RateLimit.Requests,
		RateLimitSecs: cfg.RateLimit.WindowSeconds,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	router.Close()

	// Drain queued notifications before their transports go away.
	dispatcher.Close()
	logger.Info("notifications flushed",
		"delivered", dispatcher.Delivered(),
		"dropped", dispatcher.Dropped(),
	)

	if asynqClient != nil {
		asynqClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}

// newDispatcher picks the notification transport. With a queue the worker
// stores and publishes each event; without one events are logged and, when
// Redis is up, published directly.
func newDispatcher(cfg *config.Config, rdb *redis.Client, client *asynq.Client, logger *slog.Logger) *notify.Dispatcher {
	var (
		transport notify.Transport
		dedup     notify.Deduper
	)

	switch {
	case client != nil:
		transport = tasks.NewAsynqTransport(client)
	case rdb != nil:
		transport = notify.MultiTransport{notify.NewLogTransport(logger), notify.NewRedisTransport(rdb)}
	default:
		transport = notify.NewLogTransport(logger)
	}
	if rdb != nil {
		dedup = notify.NewRedisDeduper(rdb, cfg.Notify.DedupTTL())
	} else {
		dedup = notify.NewMemoryDeduper(cfg.Notify.DedupTTL())
	}

	logger.Info("notification dispatcher configured",
		"transport", cfg.Notify.Transport,
		"queue_size", cfg.Notify.QueueSize,
		"workers", cfg.Notify.Workers,
	)
	return notify.NewDispatcher(transport, dedup, logger, notify.Options{
		QueueSize: cfg.Notify.QueueSize,
		Workers:   cfg.Notify.Workers,
	})
}
