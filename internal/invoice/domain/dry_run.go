package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// DryRunType selects the dry-run simulation mode.
type DryRunType string

const (
	DryRunTargetDate         DryRunType = "TARGET_DATE"
	DryRunUpcomingInvoice    DryRunType = "UPCOMING_INVOICE"
	DryRunSubscriptionAction DryRunType = "SUBSCRIPTION_ACTION"
)

// DryRunArguments is constructed by the caller and never mutated.
type DryRunArguments struct {
	Type           DryRunType
	SubscriptionID snowflake.ID
	BundleID       snowflake.ID
	EffectiveDate  *time.Time
	Action         BillingAction
	// IsNotification marks a simulation fired by a dry-run lead-time notification.
	IsNotification bool
}

func (a DryRunArguments) Validate() error {
	switch a.Type {
	case DryRunTargetDate, DryRunUpcomingInvoice:
		return nil
	case DryRunSubscriptionAction:
		if a.Action == "" {
			return fmt.Errorf("%w: subscription action requires an action", ErrInvalidDryRunArguments)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDryRunArguments, a.Type)
	}
}

// HasFilter reports whether the caller restricted the simulation to a subscription or bundle.
func (a DryRunArguments) HasFilter() bool {
	return a.SubscriptionID != 0 || a.BundleID != 0
}

// Matches reports whether a subscription/bundle pair passes the filter.
func (a DryRunArguments) Matches(subscriptionID, bundleID snowflake.ID) bool {
	if a.SubscriptionID != 0 && a.SubscriptionID != subscriptionID {
		return false
	}
	if a.BundleID != 0 && a.BundleID != bundleID {
		return false
	}
	return true
}
