package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database"
	"github.com/hugh/go-shepherd/internal/invitation"
	"github.com/hugh/go-shepherd/internal/notify"
	"github.com/hugh/go-shepherd/internal/tasks"
	"github.com/hugh/go-shepherd/pkg/config"
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

	logger.Info("starting shepherd worker")

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// The sweep needs no emitter: deactivating an expired token notifies
	// nobody.
	invitations := invitation.NewService(db, authz.NewResolver(nil), notify.Nop{}, util.SystemClock{}, logger,
		invitation.OptionsFromConfig(&cfg.Invitation))

	handler := tasks.NewHandler(db, logger, invitations,
		notify.NewRedisDeduper(redisClient, cfg.Notify.DedupTTL()).WithPrefix(tasks.LiveKeyPrefix),
		notify.NewRedisTransport(redisClient),
	)

	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	srv := queue.NewServer(&cfg.Redis, cfg.Worker.Concurrency)
	logBacklog(logger, queue.NewInspector(&cfg.Redis))

	scheduler := queue.NewScheduler(&cfg.Redis)
	if err := tasks.RegisterSchedules(scheduler, cfg.Invitation.SweepCron); err != nil {
		logger.Error("failed to register schedules", "error", err)
		os.Exit(1)
	}
	if next, err := util.NextCronTime(cfg.Invitation.SweepCron, util.SystemClock{}.Now()); err == nil {
		logger.Info("invitation sweep scheduled", "cron", cfg.Invitation.SweepCron, "next_run", next)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker...")
		scheduler.Shutdown()
		srv.Shutdown()
		cancel()
	}()

	logger.Info("worker started, waiting for tasks...")

	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
	}

	<-ctx.Done()

	redisClient.Close()
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("worker stopped")
}

// logBacklog reports what earlier runs left behind, such as notifications
// that exhausted their retries.
func logBacklog(logger *slog.Logger, inspector *asynq.Inspector) {
	defer inspector.Close()
	for _, name := range []string{queue.QueueCritical, queue.QueueDefault, queue.QueueLow} {
		info, err := inspector.GetQueueInfo(name)
		if err != nil {
			continue
		}
		logger.Info("queue backlog", "queue", name,
			"pending", info.Pending, "retry", info.Retry, "archived", info.Archived)
	}
}
