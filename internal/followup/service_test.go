package followup_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugh/go-shepherd/internal/apperr"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/internal/followup"
	"github.com/hugh/go-shepherd/internal/notify"
	"github.com/hugh/go-shepherd/internal/testutil"
	"github.com/hugh/go-shepherd/pkg/crypto"
	"github.com/hugh/go-shepherd/pkg/util"
)

func newService(t *testing.T, ts *testutil.TestSetup, opts followup.Options) (*followup.Service, *notify.Recorder) {
	t.Helper()
	enc, err := crypto.NewEncryptor("")
	require.NoError(t, err)
	rec := &notify.Recorder{}
	return followup.NewService(ts.DB, ts.Resolver, enc, rec, ts.Clock, util.DiscardLogger(), opts), rec
}

func openCount(t *testing.T, ts *testutil.TestSetup, guestID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, ts.DB.Model(&models.FollowUpAssignment{}).
		Where("guest_id = ? AND status NOT IN ?", guestID, models.TerminalFollowUpStatuses).
		Count(&n).Error)
	return n
}

func TestAssign(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, rec := newService(t, ts, followup.Options{})
	ctx := testutil.TestContext(t)

	a, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowUpPending, a.Status)
	assert.Equal(t, &ts.Admin.ID, a.AssignedBy)

	var guest models.Principal
	require.NoError(t, ts.DB.Where("id = ?", ts.Guest.ID).First(&guest).Error)
	assert.Equal(t, &ts.Staff.ID, guest.AssignedStaffID)

	events := rec.OfKind(notify.KindFollowUpAssigned)
	require.Len(t, events, 1)
	assert.Equal(t, []uuid.UUID{ts.Staff.ID}, events[0].Recipients)
}

func TestAssign_Reassignment(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, rec := newService(t, ts, followup.Options{NotifyPreviousStaff: true})
	ctx := testutil.TestContext(t)

	s1 := ts.Staff
	s2 := testutil.CreateTestPrincipal(t, ts.DB, ts.Tenant, authz.RoleStaff)

	first, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, s1.ID)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, s1.ID, first.ID, models.FollowUpContacted, nil)
	require.NoError(t, err)

	second, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, s2.ID)
	require.NoError(t, err)

	var old models.FollowUpAssignment
	require.NoError(t, ts.DB.Where("id = ?", first.ID).First(&old).Error)
	assert.Equal(t, models.FollowUpReassigned, old.Status)
	assert.NotNil(t, old.ClosedAt)

	assert.Equal(t, models.FollowUpPending, second.Status)
	assert.Equal(t, s2.ID, second.StaffID)
	assert.Equal(t, int64(1), openCount(t, ts, ts.Guest.ID))

	var guest models.Principal
	require.NoError(t, ts.DB.Where("id = ?", ts.Guest.ID).First(&guest).Error)
	assert.Equal(t, &s2.ID, guest.AssignedStaffID)

	reassigned := rec.OfKind(notify.KindFollowUpReassigned)
	require.Len(t, reassigned, 1)
	assert.Equal(t, []uuid.UUID{s1.ID}, reassigned[0].Recipients)
}

func TestAssign_PreviousStaffPolicyOff(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, rec := newService(t, ts, followup.Options{NotifyPreviousStaff: false})
	ctx := testutil.TestContext(t)

	s2 := testutil.CreateTestPrincipal(t, ts.DB, ts.Tenant, authz.RoleStaff)
	_, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	require.NoError(t, err)
	_, err = svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, s2.ID)
	require.NoError(t, err)

	reassigned := rec.OfKind(notify.KindFollowUpReassigned)
	require.Len(t, reassigned, 1, "the transition is still reported")
	assert.Empty(t, reassigned[0].Recipients)
}

func TestAssign_SameStaffIsNoOp(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, rec := newService(t, ts, followup.Options{})
	ctx := testutil.TestContext(t)

	first, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	require.NoError(t, err)
	again, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, models.FollowUpPending, again.Status)
	assert.Len(t, rec.OfKind(notify.KindFollowUpAssigned), 1)
	assert.Empty(t, rec.OfKind(notify.KindFollowUpReassigned))

	var rows int64
	require.NoError(t, ts.DB.Model(&models.FollowUpAssignment{}).Where("guest_id = ?", ts.Guest.ID).Count(&rows).Error)
	assert.Equal(t, int64(1), rows, "no reassigned row is written for the same staff member")
}

func TestAssign_CancelledContext(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, rec := newService(t, ts, followup.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Equal(t, int64(0), openCount(t, ts, ts.Guest.ID))

	var guest models.Principal
	require.NoError(t, ts.DB.Where("id = ?", ts.Guest.ID).First(&guest).Error)
	assert.Nil(t, guest.AssignedStaffID)
	assert.Empty(t, rec.Events())
}

func TestAssign_AfterCompletion(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, _ := newService(t, ts, followup.Options{})
	ctx := testutil.TestContext(t)

	done := testutil.CreateTestAssignment(t, ts.DB, ts.Guest, ts.Staff, models.FollowUpCompleted)

	fresh, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	require.NoError(t, err)
	assert.NotEqual(t, done.ID, fresh.ID)
	assert.Equal(t, models.FollowUpPending, fresh.Status)

	var kept models.FollowUpAssignment
	require.NoError(t, ts.DB.Where("id = ?", done.ID).First(&kept).Error)
	assert.Equal(t, models.FollowUpCompleted, kept.Status, "completed assignments are never reopened or reassigned")
}

func TestAssign_Rejections(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, _ := newService(t, ts, followup.Options{})
	ctx := testutil.TestContext(t)

	other := testutil.CreateTestTenant(t, ts.DB)
	foreignGuest := testutil.CreateTestPrincipal(t, ts.DB, other, authz.RoleGuest)
	foreignStaff := testutil.CreateTestPrincipal(t, ts.DB, other, authz.RoleStaff)

	_, err := svc.Assign(ctx, ts.Staff.ID, ts.Guest.ID, ts.Staff.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized, "staff lack followup:assign")

	_, err = svc.Assign(ctx, ts.Admin.ID, foreignGuest.ID, ts.Staff.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, foreignStaff.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.Assign(ctx, ts.Admin.ID, ts.Member.ID, ts.Staff.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Member.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Assign(ctx, ts.Admin.ID, uuid.New(), ts.Staff.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAssign_ConcurrentKeepsSingleOpenAssignment(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, _ := newService(t, ts, followup.Options{})
	ctx := testutil.TestContext(t)

	staff := []*models.Principal{ts.Staff}
	for i := 0; i < 4; i++ {
		staff = append(staff, testutil.CreateTestPrincipal(t, ts.DB, ts.Tenant, authz.RoleStaff))
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(s *models.Principal) {
			defer wg.Done()
			_, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, s.ID)
			if err != nil {
				assert.ErrorIs(t, err, apperr.ErrConflict)
			}
		}(staff[i%len(staff)])
	}
	wg.Wait()

	assert.Equal(t, int64(1), openCount(t, ts, ts.Guest.ID))
}

func TestOpenAssignmentIndex(t *testing.T) {
	ts := testutil.NewTestContext(t)
	testutil.CreateTestAssignment(t, ts.DB, ts.Guest, ts.Staff, models.FollowUpPending)

	dup := &models.FollowUpAssignment{
		TenantID: ts.Tenant.ID,
		GuestID:  ts.Guest.ID,
		StaffID:  ts.Admin.ID,
		Status:   models.FollowUpInProgress,
	}
	err := ts.DB.Create(dup).Error
	assert.ErrorIs(t, apperr.FromStore(err), apperr.ErrConflict)

	closed := &models.FollowUpAssignment{
		TenantID: ts.Tenant.ID,
		GuestID:  ts.Guest.ID,
		StaffID:  ts.Admin.ID,
		Status:   models.FollowUpReassigned,
	}
	assert.NoError(t, ts.DB.Create(closed).Error, "terminal rows are outside the index")
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, rec := newService(t, ts, followup.Options{})
	ctx := testutil.TestContext(t)

	a, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	require.NoError(t, err)

	note := "left a voicemail"
	contacted, err := svc.UpdateStatus(ctx, ts.Staff.ID, a.ID, models.FollowUpContacted, &note)
	require.NoError(t, err)
	assert.Equal(t, models.FollowUpContacted, contacted.Status)
	require.NotNil(t, contacted.LastContactedAt)

	var stored models.FollowUpAssignment
	require.NoError(t, ts.DB.Where("id = ?", a.ID).First(&stored).Error)
	assert.NotContains(t, stored.Notes, "voicemail", "notes are sealed at rest")
	opened, err := svc.Notes(&stored)
	require.NoError(t, err)
	assert.Equal(t, note, opened)

	_, err = svc.UpdateStatus(ctx, ts.Staff.ID, a.ID, models.FollowUpInProgress, nil)
	require.NoError(t, err)

	completed, err := svc.UpdateStatus(ctx, ts.Staff.ID, a.ID, models.FollowUpCompleted, nil)
	require.NoError(t, err)
	assert.NotNil(t, completed.ClosedAt)

	_, err = svc.UpdateStatus(ctx, ts.Staff.ID, a.ID, models.FollowUpInProgress, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "completed is terminal")

	changes := rec.OfKind(notify.KindFollowUpStatusChanged)
	require.Len(t, changes, 3)
	assert.Equal(t, []uuid.UUID{ts.Admin.ID}, changes[0].Recipients, "the actor is not told about their own change")
	assert.Equal(t, "pending", changes[0].Data["from"])
	assert.Equal(t, "contacted", changes[0].Data["to"])
}

func TestUpdateStatus_LastContactedOnlyLeavingPending(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, _ := newService(t, ts, followup.Options{})
	ctx := testutil.TestContext(t)

	a, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	require.NoError(t, err)

	started, err := svc.UpdateStatus(ctx, ts.Staff.ID, a.ID, models.FollowUpInProgress, nil)
	require.NoError(t, err)
	require.NotNil(t, started.LastContactedAt)
	first := *started.LastContactedAt

	ts.Clock.Advance(time.Hour)
	back, err := svc.UpdateStatus(ctx, ts.Staff.ID, a.ID, models.FollowUpContacted, nil)
	require.NoError(t, err)
	require.NotNil(t, back.LastContactedAt)
	assert.True(t, first.Equal(*back.LastContactedAt))

	ts.Clock.Advance(time.Hour)
	_, err = svc.UpdateStatus(ctx, ts.Staff.ID, a.ID, models.FollowUpContacted, nil)
	require.NoError(t, err)

	var stored models.FollowUpAssignment
	require.NoError(t, ts.DB.Where("id = ?", a.ID).First(&stored).Error)
	require.NotNil(t, stored.LastContactedAt)
	assert.WithinDuration(t, first, *stored.LastContactedAt, time.Second)
}

func TestUpdateStatus_EachTransitionDeliveredWithFrozenClock(t *testing.T) {
	ts := testutil.NewTestContext(t)
	ctx := testutil.TestContext(t)
	enc, err := crypto.NewEncryptor("")
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		sent []notify.Event
	)
	transport := notify.TransportFunc(func(_ context.Context, ev notify.Event) error {
		mu.Lock()
		sent = append(sent, ev)
		mu.Unlock()
		return nil
	})
	d := notify.NewDispatcher(transport, notify.NewMemoryDeduper(time.Hour), util.DiscardLogger(), notify.Options{Workers: 1})
	d.Start(ctx)

	svc := followup.NewService(ts.DB, ts.Resolver, enc, d, ts.Clock, util.DiscardLogger(), followup.Options{})
	a := testutil.CreateTestAssignment(t, ts.DB, ts.Guest, ts.Staff, models.FollowUpPending)

	steps := []models.FollowUpStatus{
		models.FollowUpContacted, models.FollowUpInProgress, models.FollowUpContacted, models.FollowUpCompleted,
	}
	for _, st := range steps {
		_, err := svc.UpdateStatus(ctx, ts.Admin.ID, a.ID, st, nil)
		require.NoError(t, err)
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, len(steps))
	ids := map[string]bool{}
	for i, ev := range sent {
		assert.Equal(t, notify.KindFollowUpStatusChanged, ev.Kind)
		assert.Equal(t, string(steps[i]), ev.Data["to"])
		ids[ev.ID] = true
	}
	assert.Len(t, ids, len(steps))

	var stored models.FollowUpAssignment
	require.NoError(t, ts.DB.Where("id = ?", a.ID).First(&stored).Error)
	assert.Equal(t, len(steps), stored.Version)
}

func TestUpdateStatus_Rules(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, _ := newService(t, ts, followup.Options{})
	ctx := testutil.TestContext(t)

	other := testutil.CreateTestPrincipal(t, ts.DB, ts.Tenant, authz.RoleStaff)
	a, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, ts.Staff.ID, a.ID, models.FollowUpReassigned, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "reassigned only through Assign")

	_, err = svc.UpdateStatus(ctx, other.ID, a.ID, models.FollowUpContacted, nil)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized, "not the assignee and no override")

	_, err = svc.UpdateStatus(ctx, ts.Admin.ID, a.ID, models.FollowUpInProgress, nil)
	require.NoError(t, err, "override holders may update any assignment")

	_, err = svc.UpdateStatus(ctx, ts.Staff.ID, a.ID, "lost", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.UpdateStatus(ctx, ts.Staff.ID, uuid.New(), models.FollowUpContacted, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateStatus_ReassignedIsTerminal(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, _ := newService(t, ts, followup.Options{})
	ctx := testutil.TestContext(t)

	s2 := testutil.CreateTestPrincipal(t, ts.DB, ts.Tenant, authz.RoleStaff)
	first, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	require.NoError(t, err)
	_, err = svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, s2.ID)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, ts.Admin.ID, first.ID, models.FollowUpContacted, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestGetAndList(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc, _ := newService(t, ts, followup.Options{})
	ctx := testutil.TestContext(t)

	guest2 := testutil.CreateTestPrincipal(t, ts.DB, ts.Tenant, authz.RoleGuest)
	a1, err := svc.Assign(ctx, ts.Admin.ID, ts.Guest.ID, ts.Staff.ID)
	require.NoError(t, err)
	_, err = svc.Assign(ctx, ts.Admin.ID, guest2.ID, ts.Admin.ID)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, ts.Staff.ID, a1.ID, models.FollowUpCompleted, nil)
	require.NoError(t, err)

	got, err := svc.Get(ctx, ts.Staff.ID, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowUpCompleted, got.Status)

	_, err = svc.Get(ctx, ts.Member.ID, a1.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	mine, total, err := svc.List(ctx, ts.Staff.ID, followup.Filter{StaffID: &ts.Staff.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, a1.ID, mine[0].ID)

	open, total, err := svc.List(ctx, ts.Staff.ID, followup.Filter{OpenOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, guest2.ID, open[0].GuestID)
}
