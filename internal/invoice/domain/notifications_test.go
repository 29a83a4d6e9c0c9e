package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestFutureAccountNotificationsBuilderDropsEmptySets(t *testing.T) {
	day := Date(2026, time.March, 1)
	n := NewFutureAccountNotificationsBuilder().
		AddTrigger(day, snowflake.ID(1), snowflake.ID(2)).
		AddTrigger(day, snowflake.ID(2)).
		AddTrigger(AddDays(day, 1)).
		AddDryRun(AddDays(day, -3), snowflake.ID(1)).
		SetRescheduled(true).
		Build()

	assert.Len(t, n.NotificationListForTrigger, 1)
	assert.Equal(t, []snowflake.ID{1, 2}, n.NotificationListForTrigger[day].Sorted())
	assert.Equal(t, []time.Time{AddDays(day, -3)}, n.DryRunDates())
	assert.True(t, n.IsRescheduled)
	assert.False(t, n.IsEmpty())
}

func TestFutureAccountNotificationsNormalizesInstants(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	at := time.Date(2026, time.March, 1, 7, 0, 0, 0, loc)

	n := NewFutureAccountNotificationsBuilder().
		AddTrigger(at, snowflake.ID(1)).
		AddTrigger(at.UTC(), snowflake.ID(3)).
		Build()

	assert.Len(t, n.NotificationListForTrigger, 1)
	assert.Equal(t, []snowflake.ID{1, 3}, n.NotificationListForTrigger[at.UTC()].Sorted())
}

func TestBuiltNotificationsAreIndependentOfBuilder(t *testing.T) {
	day := Date(2026, time.March, 1)
	b := NewFutureAccountNotificationsBuilder().AddTrigger(day, snowflake.ID(1))
	first := b.Build()
	b.AddTrigger(day, snowflake.ID(9))

	assert.Len(t, first.NotificationListForTrigger[day], 1)
}
