// Package generator is the reference invoice generator. Recurring charges are billed in advance
// over fixed-length periods starting at the billing event that set the price.
package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	GenID *snowflake.Node
	Clock clock.Clock
}

type Generator struct {
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) (*Generator, error) {
	if p.GenID == nil || p.Clock == nil {
		return nil, domain.ErrInvalidConfig
	}
	return &Generator{genID: p.GenID, clock: p.Clock}, nil
}

type billedKey struct {
	subscriptionID snowflake.ID
	itemType       domain.ItemType
	startDate      time.Time
}

// GenerateInvoice bills every fixed and recurring charge due on or before the target date that
// no active invoice covers yet.
func (g *Generator) GenerateInvoice(_ context.Context, req domain.GenerateRequest) (domain.InvoiceWithMetadata, error) {
	account := req.Account
	currency := req.Currency
	if currency == "" {
		currency = account.Currency
	}

	billed := make(map[billedKey]struct{})
	for _, inv := range req.AccountInvoices.Active() {
		for _, it := range inv.Items {
			if it.Type == domain.ItemTypeFixed || it.Type == domain.ItemTypeRecurring {
				billed[billedKey{it.SubscriptionID, it.Type, it.StartDate}] = struct{}{}
			}
		}
	}

	out := domain.InvoiceWithMetadata{
		PerSubscriptionFutureNotificationDates: make(map[snowflake.ID]domain.SubscriptionFutureNotificationDates),
	}
	var items []domain.InvoiceItem
	for _, subscriptionID := range req.BillingEvents.SubscriptionIDs() {
		plan := planSubscription(account, req.BillingEvents.ForSubscription(subscriptionID))
		subItems, dates := plan.bill(req.TargetDate, req.AccountInvoices.CutoffDate, currency)
		for _, it := range subItems {
			if _, ok := billed[billedKey{it.SubscriptionID, it.Type, it.StartDate}]; ok {
				continue
			}
			it.ID = g.genID.Generate()
			items = append(items, it)
		}
		if dates.NextRecurringDate != nil || len(dates.NextUsageDates) > 0 {
			out.PerSubscriptionFutureNotificationDates[subscriptionID] = dates
		}
	}

	if len(items) == 0 {
		return out, nil
	}

	inv, err := g.targetInvoice(req, currency)
	if err != nil {
		return domain.InvoiceWithMetadata{}, err
	}
	now := g.clock.Now()
	for i := range items {
		items[i].CreatedAt = now
	}
	inv.AddItems(items...)
	out.Invoice = inv
	return out, nil
}

func (g *Generator) targetInvoice(req domain.GenerateRequest, currency string) (*domain.Invoice, error) {
	if req.TargetInvoiceID != 0 {
		draft, ok := req.AccountInvoices.ByID(req.TargetInvoiceID)
		if !ok || draft.Status != domain.InvoiceStatusDraft {
			return nil, fmt.Errorf("%w: draft invoice %s not found", domain.ErrUnexpected, req.TargetInvoiceID)
		}
		inv := draft.Clone()
		if req.TargetDate.After(inv.TargetDate) {
			inv.TargetDate = req.TargetDate
		}
		return inv, nil
	}
	now := g.clock.Now()
	return &domain.Invoice{
		ID:          g.genID.Generate(),
		AccountID:   req.Account.ID,
		Currency:    currency,
		Status:      domain.InvoiceStatusCommitted,
		InvoiceDate: req.Account.LocalDate(now),
		TargetDate:  req.TargetDate,
		CreatedAt:   now,
	}, nil
}
