package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// BillingEventSource returns the billing events of an account, refreshing its bill cycle day.
// Lookup failures wrap ErrCatalogUnavailable, ErrAccountNotFound or ErrSubscriptionNotFound.
type BillingEventSource interface {
	GetBillingEventsForAccountAndUpdateAccountBCD(ctx context.Context, accountID snowflake.ID, dryRun *DryRunArguments, cutoff *time.Time) (BillingEventSet, error)
}

type AccountSource interface {
	GetImmutableAccountByID(ctx context.Context, accountID snowflake.ID) (Account, error)
}

// GenerateRequest is the input of one pure generation.
type GenerateRequest struct {
	Account         Account
	BillingEvents   BillingEventSet
	AccountInvoices AccountInvoices
	// TargetInvoiceID reuses an existing DRAFT invoice when set.
	TargetInvoiceID snowflake.ID
	TargetDate      time.Time
	Currency        string
	DryRunInfo      *DryRunArguments
}

// Generator computes the invoice due at a target date. It performs no I/O.
type Generator interface {
	GenerateInvoice(ctx context.Context, req GenerateRequest) (InvoiceWithMetadata, error)
}

// CreateInvoiceInput is everything persisted by one commit.
type CreateInvoiceInput struct {
	Invoice *Invoice
	// AdjustedInvoices are existing invoices that received items from plugins.
	AdjustedInvoices    []Invoice
	BillingEvents       BillingEventSet
	TrackingIDs         []TrackingID
	Notifications       FutureAccountNotifications
	ChargedThroughDates map[snowflake.ID]time.Time
	ExistingInvoices    AccountInvoices
}

// InvoiceDao persists invoices. CreateInvoice writes all of its input atomically.
type InvoiceDao interface {
	GetInvoicesByAccount(ctx context.Context, accountID snowflake.ID, cutoff *time.Time) ([]Invoice, error)
	CreateInvoice(ctx context.Context, in CreateInvoiceInput) error
	SetFutureAccountNotificationsForEmptyInvoice(ctx context.Context, accountID snowflake.ID, notifications FutureAccountNotifications) error
	DoCBAComplexity(ctx context.Context, invoice *Invoice, existing AccountInvoices) (bool, error)
	GetByID(ctx context.Context, invoiceID snowflake.ID) (*Invoice, error)
}

// Notification queue names.
const (
	QueueNextBillingDate = "next_billing_date"
	QueueDryRun          = "dry_run_notification"
)

// QueuedNotification is a future wake-up stored in the notification queue.
type QueuedNotification struct {
	ID              snowflake.ID
	AccountID       snowflake.ID
	TenantID        int64
	Queue           string
	EffectiveDate   time.Time
	SubscriptionIDs []snowflake.ID
	IsRescheduled   bool
}

// NotificationQueue exposes the future notifications recorded for an account.
type NotificationQueue interface {
	GetFutureNotificationForSearchKeys(ctx context.Context, accountID snowflake.ID, tenantID int64) ([]QueuedNotification, error)
	RecordFutureNotification(ctx context.Context, n QueuedNotification) error
}

// EventBus publishes domain events.
type EventBus interface {
	Post(ctx context.Context, event Event) error
}
