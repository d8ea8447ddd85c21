package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/hugh/go-shepherd/internal/notify"
)

// Enqueuer is the part of *asynq.Client the transport needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqTransport hands events to the worker through the task queue. It is
// the durable notify.Transport: an event accepted here survives a restart of
// the API process.
type AsynqTransport struct {
	client Enqueuer
}

func NewAsynqTransport(client Enqueuer) *AsynqTransport {
	return &AsynqTransport{client: client}
}

func (t *AsynqTransport) Send(ctx context.Context, ev notify.Event) error {
	task, err := NewNotificationDeliverTask(ev)
	if err != nil {
		return fmt.Errorf("build delivery task: %w", err)
	}
	if _, err := t.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue delivery task: %w", err)
	}
	return nil
}

var _ notify.Transport = (*AsynqTransport)(nil)
