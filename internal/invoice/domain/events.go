package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// EventType names a domain event on the bus.
type EventType string

const (
	EventTypeNullInvoice            EventType = "invoice.null"
	EventTypeInvoiceCreation        EventType = "invoice.created"
	EventTypeInvoiceAdjustment      EventType = "invoice.adjusted"
	EventTypeInvoiceNotification    EventType = "invoice.notification"
	EventTypeSubscriptionTransition EventType = "subscription.transition"
	EventTypeBlockingTransition     EventType = "blocking_state.transition"
	EventTypeAccountChange          EventType = "account.changed"
	EventTypeControlTagDeletion     EventType = "tag.control.deleted"
)

// Event is published on, or consumed from, the event bus.
type Event interface {
	EventType() EventType
}

// NullInvoiceEvent is posted when a real generation pass produced nothing.
type NullInvoiceEvent struct {
	AccountID snowflake.ID `json:"account_id"`
	TenantID  int64        `json:"tenant_id"`
	UserToken string       `json:"user_token"`
}

func (NullInvoiceEvent) EventType() EventType { return EventTypeNullInvoice }

type InvoiceCreationEvent struct {
	InvoiceID snowflake.ID    `json:"invoice_id"`
	AccountID snowflake.ID    `json:"account_id"`
	TenantID  int64           `json:"tenant_id"`
	Status    InvoiceStatus   `json:"status"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	UserToken string          `json:"user_token"`
}

func (InvoiceCreationEvent) EventType() EventType { return EventTypeInvoiceCreation }

// InvoiceAdjustmentEvent is posted for each existing invoice that received new items.
type InvoiceAdjustmentEvent struct {
	InvoiceID snowflake.ID `json:"invoice_id"`
	AccountID snowflake.ID `json:"account_id"`
	TenantID  int64        `json:"tenant_id"`
	UserToken string       `json:"user_token"`
}

func (InvoiceAdjustmentEvent) EventType() EventType { return EventTypeInvoiceAdjustment }

// InvoiceNotificationEvent warns that an invoice with a positive balance is about to be generated.
type InvoiceNotificationEvent struct {
	AccountID  snowflake.ID    `json:"account_id"`
	TenantID   int64           `json:"tenant_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	TargetDate time.Time       `json:"target_date"`
	UserToken  string          `json:"user_token"`
}

func (InvoiceNotificationEvent) EventType() EventType { return EventTypeInvoiceNotification }

// SubscriptionTransitionType describes the entitlement change behind a transition event.
type SubscriptionTransitionType string

const (
	TransitionCreate   SubscriptionTransitionType = "CREATE"
	TransitionPhase    SubscriptionTransitionType = "PHASE"
	TransitionChange   SubscriptionTransitionType = "CHANGE"
	TransitionCancel   SubscriptionTransitionType = "CANCEL"
	TransitionUncancel SubscriptionTransitionType = "UNCANCEL"
)

type EffectiveSubscriptionTransitionEvent struct {
	AccountID      snowflake.ID               `json:"account_id"`
	TenantID       int64                      `json:"tenant_id"`
	SubscriptionID snowflake.ID               `json:"subscription_id"`
	BundleID       snowflake.ID               `json:"bundle_id"`
	TransitionType SubscriptionTransitionType `json:"transition_type"`
	EffectiveDate  time.Time                  `json:"effective_date"`
	// RemainingEventsForUserOperation counts the transitions of the same user operation still to come.
	RemainingEventsForUserOperation int    `json:"remaining_events_for_user_operation"`
	UserToken                       string `json:"user_token"`
}

func (EffectiveSubscriptionTransitionEvent) EventType() EventType {
	return EventTypeSubscriptionTransition
}

type BlockingTransitionEvent struct {
	AccountID                        snowflake.ID `json:"account_id"`
	TenantID                         int64        `json:"tenant_id"`
	BlockableID                      snowflake.ID `json:"blockable_id"`
	EffectiveDate                    time.Time    `json:"effective_date"`
	IsTransitionedToBlockedBilling   bool         `json:"is_transitioned_to_blocked_billing"`
	IsTransitionedToUnblockedBilling bool         `json:"is_transitioned_to_unblocked_billing"`
	UserToken                        string       `json:"user_token"`
}

func (BlockingTransitionEvent) EventType() EventType { return EventTypeBlockingTransition }

// ChangedField is one field delta of an account change.
type ChangedField struct {
	FieldName string `json:"field_name"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
}

const FieldBillCycleDayLocal = "billCycleDayLocal"

type AccountChangeEvent struct {
	AccountID snowflake.ID   `json:"account_id"`
	TenantID  int64          `json:"tenant_id"`
	Changes   []ChangedField `json:"changes"`
	UserToken string         `json:"user_token"`
}

func (AccountChangeEvent) EventType() EventType { return EventTypeAccountChange }

type ControlTagDeletionEvent struct {
	AccountID         snowflake.ID `json:"account_id"`
	TenantID          int64        `json:"tenant_id"`
	ObjectID          snowflake.ID `json:"object_id"`
	ObjectType        string       `json:"object_type"`
	TagDefinitionName string       `json:"tag_definition_name"`
	UserToken         string       `json:"user_token"`
}

func (ControlTagDeletionEvent) EventType() EventType { return EventTypeControlTagDeletion }
