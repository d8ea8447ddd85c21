package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Transport hands an event to whatever actually reaches people.
type Transport interface {
	Send(ctx context.Context, ev Event) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, ev Event) error

func (f TransportFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// LogTransport writes events to the log. Used when no queue is configured.
type LogTransport struct {
	logger *slog.Logger
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(_ context.Context, ev Event) error {
	t.logger.Info("notification",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"tenant_id", ev.TenantID,
		"subject_id", ev.SubjectID,
		"recipients", len(ev.Recipients),
	)
	return nil
}

// ChannelFor is the pub/sub channel carrying a tenant's events.
func ChannelFor(tenantID uuid.UUID) string {
	return "shepherd:tenant:" + tenantID.String() + ":events"
}

// RedisTransport publishes events on the tenant's pub/sub channel for live
// listeners.
type RedisTransport struct {
	client redis.Cmdable
}

func NewRedisTransport(client redis.Cmdable) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := t.client.Publish(ctx, ChannelFor(ev.TenantID), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// MultiTransport sends to every transport and joins their errors.
type MultiTransport []Transport

func (m MultiTransport) Send(ctx context.Context, ev Event) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
