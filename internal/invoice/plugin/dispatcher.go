package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Plugins []Plugin `group:"invoice_plugins"`
	Config  *config.InvoiceConfigHolder
	GenID   *snowflake.Node
	Log     *zap.Logger
}

// Dispatcher calls the registered plugins in configured order.
type Dispatcher struct {
	plugins []Plugin
	cfg     *config.InvoiceConfigHolder
	genID   *snowflake.Node
	log     *zap.Logger
}

func NewDispatcher(p Params) (*Dispatcher, error) {
	if p.Config == nil || p.GenID == nil || p.Log == nil {
		return nil, domain.ErrInvalidConfig
	}
	plugins := lo.Filter(p.Plugins, func(pl Plugin, _ int) bool { return pl != nil })
	return &Dispatcher{
		plugins: plugins,
		cfg:     p.Config,
		genID:   p.GenID,
		log:     p.Log.Named("invoice.plugin"),
	}, nil
}

// ordered returns the plugins named in pluginOrder first, then the rest in registration order.
func (d *Dispatcher) ordered() []Plugin {
	order := d.cfg.Get().PluginOrder
	if len(order) == 0 {
		return d.plugins
	}

	out := make([]Plugin, 0, len(d.plugins))
	used := make(map[int]struct{}, len(d.plugins))
	for _, name := range order {
		for i, pl := range d.plugins {
			if _, ok := used[i]; ok || pl.Name() != name {
				continue
			}
			out = append(out, pl)
			used[i] = struct{}{}
		}
	}
	for i, pl := range d.plugins {
		if _, ok := used[i]; !ok {
			out = append(out, pl)
		}
	}
	return out
}

// PriorCall returns the earliest reschedule date requested by any plugin. A plugin asking to
// abort ends the call with ErrPluginAborted regardless of reschedule requests.
func (d *Dispatcher) PriorCall(ctx context.Context, pctx Context) (*time.Time, error) {
	var earliest *time.Time
	for _, pl := range d.ordered() {
		res, err := pl.PriorCall(ctx, pctx.clone())
		if err != nil {
			return nil, fmt.Errorf("plugin %s prior call: %w", pl.Name(), err)
		}
		if res.RescheduleDate != nil && (earliest == nil || res.RescheduleDate.Before(*earliest)) {
			at := *res.RescheduleDate
			earliest = &at
		}
		if res.Abort {
			d.log.Info("invoice.plugin.aborted", zap.String("plugin", pl.Name()))
			return nil, fmt.Errorf("%w: %s", domain.ErrPluginAborted, pl.Name())
		}
	}
	return earliest, nil
}

// Update is the outcome of merging plugin items.
type Update struct {
	// Changed reports whether the original invoice items changed.
	Changed bool
	// Adjusted holds copies of other existing invoices that received plugin items.
	Adjusted []domain.Invoice
}

// UpdateOriginalInvoiceWithPluginInvoiceItems merges the items returned by every plugin into
// original and into the existing invoices they target. Immutable fields keep their system value.
func (d *Dispatcher) UpdateOriginalInvoiceWithPluginInvoiceItems(ctx context.Context, original *domain.Invoice, pctx Context) (Update, error) {
	if original == nil {
		return Update{}, nil
	}

	m := newItemMerger(original, pctx.ExistingInvoices, d.genID.Generate, d.log)
	for _, pl := range d.ordered() {
		view := pctx.clone()
		view.Invoice = original.Clone()
		items, err := pl.AdditionalItems(ctx, view.Invoice, view)
		if err != nil {
			return Update{}, fmt.Errorf("plugin %s additional items: %w", pl.Name(), err)
		}
		for _, item := range items {
			if err := m.add(pl.Name(), item); err != nil {
				return Update{}, err
			}
		}
	}
	return m.apply(original), nil
}

// OnSuccessCall notifies every plugin that the invoice was committed.
func (d *Dispatcher) OnSuccessCall(ctx context.Context, pctx Context) error {
	for _, pl := range d.ordered() {
		if err := pl.OnSuccess(ctx, pctx.clone()); err != nil {
			return fmt.Errorf("plugin %s on success: %w", pl.Name(), err)
		}
	}
	return nil
}

// OnFailureCall notifies every plugin that the generation pass failed.
func (d *Dispatcher) OnFailureCall(ctx context.Context, pctx Context) error {
	for _, pl := range d.ordered() {
		if err := pl.OnFailure(ctx, pctx.clone()); err != nil {
			return fmt.Errorf("plugin %s on failure: %w", pl.Name(), err)
		}
	}
	return nil
}
