package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
)

// AccountLevelSubscriptionID marks a notification that is not tied to a subscription.
const AccountLevelSubscriptionID snowflake.ID = 0

// SubscriptionSet is a set of subscription ids.
type SubscriptionSet map[snowflake.ID]struct{}

func NewSubscriptionSet(ids ...snowflake.ID) SubscriptionSet {
	set := make(SubscriptionSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Sorted returns the members in ascending order.
func (s SubscriptionSet) Sorted() []snowflake.ID {
	out := lo.Keys(s)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FutureAccountNotifications schedules the next wake-ups of an account. Every date key
// maps to a non-empty set.
type FutureAccountNotifications struct {
	NotificationListForTrigger map[time.Time]SubscriptionSet
	NotificationListForDryRun  map[time.Time]SubscriptionSet
	IsRescheduled              bool
}

func (n FutureAccountNotifications) IsEmpty() bool {
	return len(n.NotificationListForTrigger) == 0 && len(n.NotificationListForDryRun) == 0
}

func (n FutureAccountNotifications) TriggerDates() []time.Time {
	return sortedDates(n.NotificationListForTrigger)
}

func (n FutureAccountNotifications) DryRunDates() []time.Time {
	return sortedDates(n.NotificationListForDryRun)
}

func sortedDates(m map[time.Time]SubscriptionSet) []time.Time {
	out := lo.Keys(m)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// FutureAccountNotificationsBuilder accumulates notification dates incrementally.
type FutureAccountNotificationsBuilder struct {
	trigger     map[time.Time]SubscriptionSet
	dryRun      map[time.Time]SubscriptionSet
	rescheduled bool
}

func NewFutureAccountNotificationsBuilder() *FutureAccountNotificationsBuilder {
	return &FutureAccountNotificationsBuilder{
		trigger: map[time.Time]SubscriptionSet{},
		dryRun:  map[time.Time]SubscriptionSet{},
	}
}

func (b *FutureAccountNotificationsBuilder) AddTrigger(at time.Time, subscriptionIDs ...snowflake.ID) *FutureAccountNotificationsBuilder {
	addNotification(b.trigger, at, subscriptionIDs)
	return b
}

func (b *FutureAccountNotificationsBuilder) AddDryRun(at time.Time, subscriptionIDs ...snowflake.ID) *FutureAccountNotificationsBuilder {
	addNotification(b.dryRun, at, subscriptionIDs)
	return b
}

func (b *FutureAccountNotificationsBuilder) SetRescheduled(rescheduled bool) *FutureAccountNotificationsBuilder {
	b.rescheduled = rescheduled
	return b
}

func (b *FutureAccountNotificationsBuilder) Build() FutureAccountNotifications {
	return FutureAccountNotifications{
		NotificationListForTrigger: copyNotifications(b.trigger),
		NotificationListForDryRun:  copyNotifications(b.dryRun),
		IsRescheduled:              b.rescheduled,
	}
}

func addNotification(m map[time.Time]SubscriptionSet, at time.Time, subscriptionIDs []snowflake.ID) {
	if len(subscriptionIDs) == 0 {
		return
	}
	key := normalizeInstant(at)
	set, ok := m[key]
	if !ok {
		set = SubscriptionSet{}
		m[key] = set
	}
	for _, id := range subscriptionIDs {
		set[id] = struct{}{}
	}
}

func copyNotifications(m map[time.Time]SubscriptionSet) map[time.Time]SubscriptionSet {
	out := make(map[time.Time]SubscriptionSet, len(m))
	for at, set := range m {
		if len(set) == 0 {
			continue
		}
		out[at] = NewSubscriptionSet(set.Sorted()...)
	}
	return out
}

// normalizeInstant strips location and monotonic readings so equal instants share a map key.
func normalizeInstant(t time.Time) time.Time {
	return t.UTC().Round(0)
}
