package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// BillingMode tells whether recurring items are billed at the start or the end of a period.
type BillingMode string

const (
	BillingModeInAdvance BillingMode = "IN_ADVANCE"
	BillingModeInArrear  BillingMode = "IN_ARREAR"
)

// SubscriptionFutureNotificationDates is the generator's per-subscription wake-up metadata.
type SubscriptionFutureNotificationDates struct {
	RecurringBillingMode BillingMode
	NextRecurringDate    *time.Time
	NextUsageDates       map[string]time.Time
}

// TrackingID ties an invoice to an external usage record.
type TrackingID struct {
	TrackingID     string
	InvoiceID      snowflake.ID
	SubscriptionID snowflake.ID
	UnitType       string
	RecordDate     time.Time
}

// InvoiceWithMetadata is the generator output. Invoice is nil when nothing is due.
type InvoiceWithMetadata struct {
	Invoice                                *Invoice
	PerSubscriptionFutureNotificationDates map[snowflake.ID]SubscriptionFutureNotificationDates
	TrackingIDs                            []TrackingID
}

// Normalize drops an invoice without items and resets the next recurring date of in-advance
// subscriptions that contributed nothing to the invoice.
func (m *InvoiceWithMetadata) Normalize() {
	if m.Invoice != nil && !m.Invoice.HasItems() {
		m.Invoice = nil
	}
	for subscriptionID, dates := range m.PerSubscriptionFutureNotificationDates {
		if dates.RecurringBillingMode != BillingModeInAdvance || dates.NextRecurringDate == nil {
			continue
		}
		if m.Invoice == nil || !m.invoiceHasSubscription(subscriptionID) {
			dates.NextRecurringDate = nil
			m.PerSubscriptionFutureNotificationDates[subscriptionID] = dates
		}
	}
}

func (m *InvoiceWithMetadata) invoiceHasSubscription(subscriptionID snowflake.ID) bool {
	for _, it := range m.Invoice.Items {
		if it.SubscriptionID == subscriptionID {
			return true
		}
	}
	return false
}

// ChargedThroughDates computes, for a committed invoice, the latest end date invoiced per subscription.
func ChargedThroughDates(inv *Invoice) map[snowflake.ID]time.Time {
	out := map[snowflake.ID]time.Time{}
	if inv == nil || inv.Status != InvoiceStatusCommitted {
		return out
	}
	for _, it := range inv.Items {
		if !it.Type.ChargesSubscription() || it.SubscriptionID == 0 {
			continue
		}
		end := it.StartDate
		if it.EndDate != nil {
			end = *it.EndDate
		}
		if current, ok := out[it.SubscriptionID]; !ok || end.After(current) {
			out[it.SubscriptionID] = end
		}
	}
	return out
}
