package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/internal/invitation"
	"github.com/hugh/go-shepherd/internal/notify"
	"github.com/hugh/go-shepherd/internal/testutil"
	"github.com/hugh/go-shepherd/pkg/queue"
	"github.com/hugh/go-shepherd/pkg/util"
)

type sweepFunc func(ctx context.Context) (int64, error)

func (f sweepFunc) SweepExpired(ctx context.Context) (int64, error) { return f(ctx) }

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func deliverTask(t *testing.T, ev notify.Event) *asynq.Task {
	t.Helper()
	task, err := NewNotificationDeliverTask(ev)
	require.NoError(t, err)
	return task
}

func TestNewNotificationDeliverTask(t *testing.T) {
	ev := notify.New(notify.KindFollowUpAssigned, uuid.New(), uuid.New(), time.Now(), uuid.New())
	task := deliverTask(t, ev)

	assert.Equal(t, TypeNotificationDeliver, task.Type())

	var payload NotificationDeliverPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, ev.ID, payload.Event.ID)
	assert.Equal(t, ev.Recipients, payload.Event.Recipients)
}

func TestHandleNotificationDeliver_StoresInboxOnce(t *testing.T) {
	ts := testutil.NewTestContext(t)
	rdb := newRedis(t)
	ctx := testutil.TestContext(t)

	sub := rdb.Subscribe(ctx, notify.ChannelFor(ts.Tenant.ID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	dedup := notify.NewRedisDeduper(rdb, time.Hour).WithPrefix(LiveKeyPrefix)
	h := NewHandler(ts.DB, util.DiscardLogger(), nil, dedup, notify.NewRedisTransport(rdb))

	ev := notify.New(notify.KindFollowUpAssigned, ts.Tenant.ID, uuid.New(), time.Now(), ts.Staff.ID, ts.Admin.ID).
		With("guest_name", "Ada")
	task := deliverTask(t, ev)

	require.NoError(t, h.HandleNotificationDeliver(ctx, task))
	require.NoError(t, h.HandleNotificationDeliver(ctx, task), "redelivery is harmless")

	var rows []models.Notification
	require.NoError(t, ts.DB.Where("event_id = ?", ev.ID).Find(&rows).Error)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, ts.Tenant.ID, r.TenantID)
		assert.Equal(t, ev.Title(), r.Title)
		assert.Contains(t, r.Body, "Ada")
	}

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got notify.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, ev.ID, got.ID)

	select {
	case extra := <-sub.Channel():
		t.Fatalf("event published twice: %s", extra.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleNotificationDeliver_NoRecipients(t *testing.T) {
	ts := testutil.NewTestContext(t)
	h := NewHandler(ts.DB, util.DiscardLogger(), nil, nil, nil)

	ev := notify.New(notify.KindFollowUpReassigned, ts.Tenant.ID, uuid.New(), time.Now())
	require.NoError(t, h.HandleNotificationDeliver(context.Background(), deliverTask(t, ev)))

	var n int64
	require.NoError(t, ts.DB.Model(&models.Notification{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestHandleNotificationDeliver_InvalidPayload(t *testing.T) {
	ts := testutil.NewTestContext(t)
	h := NewHandler(ts.DB, util.DiscardLogger(), nil, nil, nil)

	err := h.HandleNotificationDeliver(context.Background(), asynq.NewTask(TypeNotificationDeliver, []byte("invalid json")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal payload")
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = h.HandleNotificationDeliver(context.Background(), asynq.NewTask(TypeNotificationDeliver, []byte(`{"event":{}}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleNotificationDeliver_PublishFailureReleasesClaim(t *testing.T) {
	ts := testutil.NewTestContext(t)
	dedup := notify.NewMemoryDeduper(time.Hour)

	fail := true
	sends := 0
	live := notify.TransportFunc(func(context.Context, notify.Event) error {
		sends++
		if fail {
			return errors.New("redis down")
		}
		return nil
	})
	h := NewHandler(ts.DB, util.DiscardLogger(), nil, dedup, live)

	ev := notify.New(notify.KindPrincipalAdmitted, ts.Tenant.ID, uuid.New(), time.Now(), ts.Owner.ID)
	task := deliverTask(t, ev)

	assert.Error(t, h.HandleNotificationDeliver(context.Background(), task))
	fail = false
	assert.NoError(t, h.HandleNotificationDeliver(context.Background(), task))
	assert.Equal(t, 2, sends)

	var n int64
	require.NoError(t, ts.DB.Model(&models.Notification{}).Where("event_id = ?", ev.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestHandleInvitationSweep(t *testing.T) {
	ts := testutil.NewTestContext(t)

	expired := testutil.CreateTestToken(t, ts.DB, ts.Staff, authz.RoleGuest, testutil.WithExpiry(ts.Clock.Now().Add(-time.Minute)))
	live := testutil.CreateTestToken(t, ts.DB, ts.Staff, authz.RoleGuest, testutil.WithExpiry(ts.Clock.Now().Add(time.Hour)))

	svc := invitation.NewService(ts.DB, ts.Resolver, notify.Nop{}, ts.Clock, util.DiscardLogger(), invitation.Options{})
	h := NewHandler(ts.DB, util.DiscardLogger(), svc, nil, nil)

	require.NoError(t, h.HandleInvitationSweep(context.Background(), NewInvitationSweepTask()))

	var got models.InvitationToken
	require.NoError(t, ts.DB.Where("id = ?", expired.ID).First(&got).Error)
	assert.False(t, got.Active)
	assert.NotNil(t, got.DeactivatedAt)

	require.NoError(t, ts.DB.Where("id = ?", live.ID).First(&got).Error)
	assert.True(t, got.Active)
}

func TestHandleInvitationSweep_Error(t *testing.T) {
	h := NewHandler(nil, util.DiscardLogger(), sweepFunc(func(context.Context) (int64, error) {
		return 0, errors.New("db gone")
	}), nil, nil)
	assert.Error(t, h.HandleInvitationSweep(context.Background(), NewInvitationSweepTask()))
}

func TestRegisterHandlers(t *testing.T) {
	h := NewHandler(nil, util.DiscardLogger(), nil, nil, nil)
	mux := asynq.NewServeMux()
	h.RegisterHandlers(mux)

	for _, typ := range []string{TypeNotificationDeliver, TypeInvitationSweep} {
		_, pattern := mux.Handler(asynq.NewTask(typ, nil))
		assert.Equal(t, typ, pattern)
	}
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: queue.QueueDefault}, nil
}

func TestAsynqTransport(t *testing.T) {
	ev := notify.New(notify.KindFollowUpAssigned, uuid.New(), uuid.New(), time.Now(), uuid.New())

	q := &fakeEnqueuer{}
	require.NoError(t, NewAsynqTransport(q).Send(context.Background(), ev))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TypeNotificationDeliver, q.tasks[0].Type())

	conflict := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	assert.NoError(t, NewAsynqTransport(conflict).Send(context.Background(), ev), "already queued counts as sent")

	down := &fakeEnqueuer{err: errors.New("connection refused")}
	assert.Error(t, NewAsynqTransport(down).Send(context.Background(), ev))
}

type fakeRegistrar struct {
	specs []string
	types []string
}

func (f *fakeRegistrar) Register(cronspec string, task *asynq.Task, _ ...asynq.Option) (string, error) {
	f.specs = append(f.specs, cronspec)
	f.types = append(f.types, task.Type())
	return uuid.NewString(), nil
}

func TestRegisterSchedules(t *testing.T) {
	r := &fakeRegistrar{}
	require.NoError(t, RegisterSchedules(r, "*/15 * * * *"))
	assert.Equal(t, []string{"*/15 * * * *"}, r.specs)
	assert.Equal(t, []string{TypeInvitationSweep}, r.types)

	assert.Error(t, RegisterSchedules(&fakeRegistrar{}, "every now and then"))
}
