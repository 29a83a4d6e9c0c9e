package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// BillingAction is the subscription transition a billing event records.
type BillingAction string

const (
	BillingActionStartBilling         BillingAction = "START_BILLING"
	BillingActionPhase                BillingAction = "PHASE"
	BillingActionChange               BillingAction = "CHANGE"
	BillingActionCancel               BillingAction = "CANCEL"
	BillingActionStartBillingDisabled BillingAction = "START_BILLING_DISABLED"
	BillingActionEndBillingDisabled   BillingAction = "END_BILLING_DISABLED"
)

// BillingEvent is an immutable record of a billable subscription transition.
type BillingEvent struct {
	ID             snowflake.ID
	AccountID      snowflake.ID
	SubscriptionID snowflake.ID
	BundleID       snowflake.ID
	EffectiveDate  time.Time
	Action         BillingAction
	ProductName    string
	PlanName       string
	PhaseName      string
	Currency       string
	FixedPrice     *decimal.Decimal
	RecurringPrice *decimal.Decimal
	// BillingPeriodDays is the length of one recurring period. Zero means no recurring charge.
	BillingPeriodDays int
	UsageUnits        []string
}

// BillingEventSet is the ordered, deduplicated set of billing events of one account.
type BillingEventSet struct {
	Events                  []BillingEvent
	AutoInvoicingOff        bool
	AutoInvoicingDraft      bool
	AutoInvoicingReuseDraft bool
}

// NewBillingEventSet orders events by effective date, subscription and id, dropping duplicate ids.
func NewBillingEventSet(events []BillingEvent) BillingEventSet {
	unique := lo.UniqBy(events, func(e BillingEvent) snowflake.ID { return e.ID })
	sort.SliceStable(unique, func(i, j int) bool {
		a, b := unique[i], unique[j]
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.Before(b.EffectiveDate)
		}
		if a.SubscriptionID != b.SubscriptionID {
			return a.SubscriptionID < b.SubscriptionID
		}
		return a.ID < b.ID
	})
	return BillingEventSet{Events: unique}
}

func (s BillingEventSet) IsEmpty() bool {
	return len(s.Events) == 0
}

// SubscriptionIDs returns the distinct subscriptions in event order.
func (s BillingEventSet) SubscriptionIDs() []snowflake.ID {
	return lo.Uniq(lo.Map(s.Events, func(e BillingEvent, _ int) snowflake.ID { return e.SubscriptionID }))
}

// ForSubscription returns the events of one subscription in order.
func (s BillingEventSet) ForSubscription(subscriptionID snowflake.ID) []BillingEvent {
	return lo.Filter(s.Events, func(e BillingEvent, _ int) bool { return e.SubscriptionID == subscriptionID })
}

// NextTransitionDates returns, per subscription, the local date of the earliest billing event
// effective strictly after now.
func (s BillingEventSet) NextTransitionDates(now time.Time, loc *time.Location) map[snowflake.ID]time.Time {
	out := make(map[snowflake.ID]time.Time)
	for _, e := range s.Events {
		if !e.EffectiveDate.After(now) {
			continue
		}
		if _, seen := out[e.SubscriptionID]; seen {
			continue
		}
		out[e.SubscriptionID] = ToLocalDate(e.EffectiveDate, loc)
	}
	return out
}
