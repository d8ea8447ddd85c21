package queue

import (
	"time"

	"github.com/hibiken/asynq"

	"github.com/hugh/go-shepherd/pkg/config"
)

// Queue names. Notifications go to "default" so that a burst of them never
// starves housekeeping work on "low".
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
	}
}

func NewClient(cfg *config.RedisConfig) *asynq.Client {
	return asynq.NewClient(redisOpt(cfg))
}

func NewServer(cfg *config.RedisConfig, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}

	return asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
		},
	)
}

// NewScheduler returns a UTC scheduler for periodic tasks such as the
// invitation sweep.
func NewScheduler(cfg *config.RedisConfig) *asynq.Scheduler {
	return asynq.NewScheduler(redisOpt(cfg), &asynq.SchedulerOpts{
		Location: time.UTC,
	})
}

func NewInspector(cfg *config.RedisConfig) *asynq.Inspector {
	return asynq.NewInspector(redisOpt(cfg))
}
