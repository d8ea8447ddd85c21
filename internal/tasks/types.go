package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/hugh/go-shepherd/internal/notify"
	"github.com/hugh/go-shepherd/pkg/queue"
)

// Task type names
const (
	TypeNotificationDeliver = "notification:deliver"
	TypeInvitationSweep     = "invitation:sweep"
)

// deliverMaxRetry bounds redelivery of one event. Each attempt is idempotent.
const deliverMaxRetry = 5

// NotificationDeliverPayload carries one event to the worker.
type NotificationDeliverPayload struct {
	Event notify.Event `json:"event"`
}

// NewNotificationDeliverTask builds a delivery task whose asynq task id is
// the event id, so enqueueing the same event twice is rejected by the queue.
func NewNotificationDeliverTask(ev notify.Event) (*asynq.Task, error) {
	data, err := json.Marshal(NotificationDeliverPayload{Event: ev})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotificationDeliver, data,
		asynq.TaskID(ev.ID),
		asynq.Queue(queue.QueueDefault),
		asynq.MaxRetry(deliverMaxRetry),
	), nil
}

// InvitationSweepPayload is empty; the sweep covers every tenant.
type InvitationSweepPayload struct{}

func NewInvitationSweepTask() *asynq.Task {
	return asynq.NewTask(TypeInvitationSweep, nil, asynq.Queue(queue.QueueLow))
}
