package notificationq

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&NotificationRow{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	store, err := NewStore(Params{DB: conn, GenID: node, Clock: clk})
	require.NoError(t, err)
	return store, clk
}

func TestRecordMergesSameDate(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	at := domain.Date(2026, time.February, 1)

	require.NoError(t, store.RecordFutureNotification(ctx, domain.QueuedNotification{
		AccountID: 1, TenantID: 3, Queue: domain.QueueNextBillingDate, EffectiveDate: at, SubscriptionIDs: []snowflake.ID{20},
	}))
	require.NoError(t, store.RecordFutureNotification(ctx, domain.QueuedNotification{
		AccountID: 1, TenantID: 3, Queue: domain.QueueNextBillingDate, EffectiveDate: at, SubscriptionIDs: []snowflake.ID{10, 20},
	}))
	require.NoError(t, store.RecordFutureNotification(ctx, domain.QueuedNotification{
		AccountID: 1, TenantID: 3, Queue: domain.QueueDryRun, EffectiveDate: at, SubscriptionIDs: []snowflake.ID{10},
	}))

	got, err := store.GetFutureNotificationForSearchKeys(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byQueue := map[string]domain.QueuedNotification{}
	for _, n := range got {
		byQueue[n.Queue] = n
	}
	assert.Equal(t, []snowflake.ID{10, 20}, byQueue[domain.QueueNextBillingDate].SubscriptionIDs)
	assert.True(t, at.Equal(byQueue[domain.QueueNextBillingDate].EffectiveDate))

	other, err := store.GetFutureNotificationForSearchKeys(ctx, 1, 4)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRecordRejectsEmptySubscriptionSet(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.RecordFutureNotification(context.Background(), domain.QueuedNotification{
		AccountID: 1, Queue: domain.QueueNextBillingDate, EffectiveDate: testNow,
	})
	assert.ErrorIs(t, err, ErrInvalidNotification)
}

func TestRecordAccountNotifications(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	trigger := domain.Date(2026, time.March, 1)

	n := domain.NewFutureAccountNotificationsBuilder().
		AddTrigger(trigger, 5).
		AddDryRun(domain.AddDays(trigger, -2), 5).
		Build()
	require.NoError(t, store.RecordAccountNotifications(ctx, nil, 9, 1, n))

	got, err := store.GetFutureNotificationForSearchKeys(ctx, 9, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.QueueDryRun, got[0].Queue)
	assert.Equal(t, domain.QueueNextBillingDate, got[1].Queue)
}

func TestClaimDueAndComplete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.RecordFutureNotification(ctx, domain.QueuedNotification{
		AccountID: 1, Queue: domain.QueueNextBillingDate, EffectiveDate: testNow.Add(-time.Hour), SubscriptionIDs: []snowflake.ID{1},
	}))
	require.NoError(t, store.RecordFutureNotification(ctx, domain.QueuedNotification{
		AccountID: 1, Queue: domain.QueueNextBillingDate, EffectiveDate: testNow.Add(time.Hour), SubscriptionIDs: []snowflake.ID{1},
	}))

	due, err := store.ClaimDue(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	again, err := store.ClaimDue(ctx, testNow, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, store.Complete(ctx, due[0].ID, nil))
	pending, err := store.GetFutureNotificationForSearchKeys(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
