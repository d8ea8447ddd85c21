package inbox_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugh/go-shepherd/internal/apperr"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/internal/inbox"
	"github.com/hugh/go-shepherd/internal/testutil"
	"github.com/hugh/go-shepherd/pkg/util"
)

func seed(t *testing.T, ts *testutil.TestSetup, recipient *models.Principal, event string) *models.Notification {
	t.Helper()
	n := &models.Notification{
		TenantID:    recipient.TenantID,
		RecipientID: recipient.ID,
		EventID:     event,
		Kind:        "followup.assigned",
		Title:       "New follow-up",
	}
	require.NoError(t, ts.DB.Create(n).Error)
	return n
}

func TestList(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc := inbox.NewService(ts.DB, ts.Resolver, ts.Clock, util.DiscardLogger())
	ctx := testutil.TestContext(t)

	seed(t, ts, ts.Staff, "e1")
	seed(t, ts, ts.Staff, "e2")
	seed(t, ts, ts.Admin, "e1")

	got, total, err := svc.List(ctx, ts.Staff.ID, inbox.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, n := range got {
		assert.Equal(t, ts.Staff.ID, n.RecipientID)
	}

	_, _, err = svc.List(ctx, uuid.New(), inbox.Filter{})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestMarkRead(t *testing.T) {
	ts := testutil.NewTestContext(t)
	svc := inbox.NewService(ts.DB, ts.Resolver, ts.Clock, util.DiscardLogger())
	ctx := testutil.TestContext(t)

	n := seed(t, ts, ts.Staff, "e1")
	seed(t, ts, ts.Staff, "e2")

	read, err := svc.MarkRead(ctx, ts.Staff.ID, n.ID)
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)
	first := *read.ReadAt

	ts.Clock.Advance(time.Hour)
	again, err := svc.MarkRead(ctx, ts.Staff.ID, n.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*again.ReadAt), "first read time is kept")

	unread, total, err := svc.List(ctx, ts.Staff.ID, inbox.Filter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "e2", unread[0].EventID)

	_, err = svc.MarkRead(ctx, ts.Admin.ID, n.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "someone else's notification")
}
