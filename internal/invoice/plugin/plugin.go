// Package plugin routes invoice generation through the registered invoice plugins.
package plugin

import (
	"context"
	"time"

	"github.com/smallbiznis/invoicing/internal/invoice/domain"
)

// Context is the view of one generation pass handed to plugins. Every plugin receives its own
// deep copy of Invoice and ExistingInvoices.
type Context struct {
	Account          domain.Account
	TargetDate       time.Time
	DryRun           bool
	DryRunArguments  *domain.DryRunArguments
	IsRescheduled    bool
	Invoice          *domain.Invoice
	ExistingInvoices []domain.Invoice
}

func (c Context) clone() Context {
	out := c
	out.Invoice = c.Invoice.Clone()
	out.ExistingInvoices = make([]domain.Invoice, 0, len(c.ExistingInvoices))
	for i := range c.ExistingInvoices {
		out.ExistingInvoices = append(out.ExistingInvoices, *c.ExistingInvoices[i].Clone())
	}
	return out
}

// PriorResult is a plugin's answer before generation. A RescheduleDate postpones generation;
// Abort cancels it.
type PriorResult struct {
	RescheduleDate *time.Time
	Abort          bool
}

// Plugin extends invoice generation. Items returned by AdditionalItems either reference an
// existing item by ID, updating its mutable fields, or introduce a new adjustment item.
type Plugin interface {
	Name() string
	PriorCall(ctx context.Context, pctx Context) (PriorResult, error)
	AdditionalItems(ctx context.Context, invoice *domain.Invoice, pctx Context) ([]domain.InvoiceItem, error)
	OnSuccess(ctx context.Context, pctx Context) error
	OnFailure(ctx context.Context, pctx Context) error
}
