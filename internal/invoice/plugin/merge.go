package plugin

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"go.uber.org/zap"
)

// itemMerger accumulates plugin items per invoice id, keyed by item id.
type itemMerger struct {
	original *domain.Invoice
	existing map[snowflake.ID]domain.Invoice
	known    map[snowflake.ID]domain.InvoiceItem
	merged   map[snowflake.ID]map[snowflake.ID]domain.InvoiceItem
	order    map[snowflake.ID][]snowflake.ID
	invoices []snowflake.ID
	newID    func() snowflake.ID
	log      *zap.Logger
}

func newItemMerger(original *domain.Invoice, existing []domain.Invoice, newID func() snowflake.ID, log *zap.Logger) *itemMerger {
	m := &itemMerger{
		original: original,
		existing: make(map[snowflake.ID]domain.Invoice, len(existing)),
		known:    make(map[snowflake.ID]domain.InvoiceItem),
		merged:   make(map[snowflake.ID]map[snowflake.ID]domain.InvoiceItem),
		order:    make(map[snowflake.ID][]snowflake.ID),
		newID:    newID,
		log:      log,
	}
	for _, inv := range existing {
		if inv.ID == original.ID {
			continue
		}
		m.existing[inv.ID] = inv
		for _, it := range inv.Items {
			m.known[it.ID] = it
		}
	}
	for _, it := range original.Items {
		m.known[it.ID] = it
	}
	return m
}

func (m *itemMerger) add(pluginName string, candidate domain.InvoiceItem) error {
	var item domain.InvoiceItem
	if current, ok := m.lookup(candidate.ID); ok {
		item = m.mergeExisting(pluginName, current, candidate)
	} else {
		if !candidate.Type.AllowedFromPlugin() {
			return fmt.Errorf("%w: %w: plugin %s returned %s item %s without an existing item",
				domain.ErrUnexpected, domain.ErrInvalidPluginItem, pluginName, candidate.Type, candidate.ID)
		}
		item = candidate
		if item.ID == 0 {
			item.ID = m.newID()
		}
		if item.InvoiceID == 0 {
			item.InvoiceID = m.original.ID
		}
		if item.InvoiceID != m.original.ID {
			if _, ok := m.existing[item.InvoiceID]; !ok {
				return fmt.Errorf("%w: %w: plugin %s targets unknown invoice %s",
					domain.ErrUnexpected, domain.ErrInvalidPluginItem, pluginName, item.InvoiceID)
			}
		}
		item.AccountID = m.original.AccountID
		if item.Currency == "" {
			item.Currency = m.original.Currency
		}
		if item.StartDate.IsZero() {
			item.StartDate = m.original.TargetDate
		}
	}

	byItem, ok := m.merged[item.InvoiceID]
	if !ok {
		byItem = make(map[snowflake.ID]domain.InvoiceItem)
		m.merged[item.InvoiceID] = byItem
		m.invoices = append(m.invoices, item.InvoiceID)
	}
	if _, seen := byItem[item.ID]; !seen {
		m.order[item.InvoiceID] = append(m.order[item.InvoiceID], item.ID)
	}
	byItem[item.ID] = item
	return nil
}

func (m *itemMerger) lookup(id snowflake.ID) (domain.InvoiceItem, bool) {
	if id == 0 {
		return domain.InvoiceItem{}, false
	}
	for _, byItem := range m.merged {
		if it, ok := byItem[id]; ok {
			return it, true
		}
	}
	it, ok := m.known[id]
	return it, ok
}

// mergeExisting applies the mutable fields set by the plugin onto current.
func (m *itemMerger) mergeExisting(pluginName string, current, candidate domain.InvoiceItem) domain.InvoiceItem {
	for _, field := range immutableConflicts(current, candidate) {
		m.log.Warn("invoice.plugin.immutable_field_ignored",
			zap.String("plugin", pluginName),
			zap.String("item_id", current.ID.String()),
			zap.String("field", field),
		)
	}

	out := current
	if current.EndDate != nil {
		end := *current.EndDate
		out.EndDate = &end
	}
	if candidate.Description != "" {
		out.Description = candidate.Description
	}
	if candidate.ItemDetails != "" {
		out.ItemDetails = candidate.ItemDetails
	}
	if !candidate.Quantity.IsZero() {
		out.Quantity = candidate.Quantity
	}
	if current.Type.AmountMutable() && !candidate.Amount.IsZero() {
		out.Amount = candidate.Amount
	}
	return out
}

// immutableConflicts lists the immutable fields the plugin tried to change. Zero values mean
// the plugin left the field unset.
func immutableConflicts(current, candidate domain.InvoiceItem) []string {
	var out []string
	check := func(name string, set, differs bool) {
		if set && differs {
			out = append(out, name)
		}
	}
	check("type", candidate.Type != "", candidate.Type != current.Type)
	check("invoiceId", candidate.InvoiceID != 0, candidate.InvoiceID != current.InvoiceID)
	check("accountId", candidate.AccountID != 0, candidate.AccountID != current.AccountID)
	check("subscriptionId", candidate.SubscriptionID != 0, candidate.SubscriptionID != current.SubscriptionID)
	check("bundleId", candidate.BundleID != 0, candidate.BundleID != current.BundleID)
	check("productName", candidate.ProductName != "", candidate.ProductName != current.ProductName)
	check("planName", candidate.PlanName != "", candidate.PlanName != current.PlanName)
	check("phaseName", candidate.PhaseName != "", candidate.PhaseName != current.PhaseName)
	check("usageName", candidate.UsageName != "", candidate.UsageName != current.UsageName)
	check("startDate", !candidate.StartDate.IsZero(), !candidate.StartDate.Equal(current.StartDate))
	check("endDate", candidate.EndDate != nil, current.EndDate == nil || (candidate.EndDate != nil && !candidate.EndDate.Equal(*current.EndDate)))
	check("rate", !candidate.Rate.IsZero(), !candidate.Rate.Equal(current.Rate))
	check("currency", candidate.Currency != "", candidate.Currency != current.Currency)
	check("linkedItemId", candidate.LinkedItemID != 0, candidate.LinkedItemID != current.LinkedItemID)
	if !current.Type.AmountMutable() {
		check("amount", !candidate.Amount.IsZero(), !candidate.Amount.Equal(current.Amount))
	}
	return out
}

func (m *itemMerger) apply(original *domain.Invoice) Update {
	var update Update
	for _, invoiceID := range m.invoices {
		if invoiceID == original.ID {
			update.Changed = m.applyTo(original) || update.Changed
			continue
		}
		existing := m.existing[invoiceID]
		target := existing.Clone()
		if m.applyTo(target) {
			update.Adjusted = append(update.Adjusted, *target)
		}
	}
	return update
}

func (m *itemMerger) applyTo(inv *domain.Invoice) bool {
	changed := false
	byItem := m.merged[inv.ID]
	for _, itemID := range m.order[inv.ID] {
		item := byItem[itemID]
		if current, ok := inv.ItemByID(itemID); ok {
			if !sameItem(*current, item) {
				*current = item
				changed = true
			}
			continue
		}
		inv.AddItems(item)
		changed = true
	}
	return changed
}

func sameItem(a, b domain.InvoiceItem) bool {
	return a.Description == b.Description &&
		a.ItemDetails == b.ItemDetails &&
		a.Quantity.Equal(b.Quantity) &&
		a.Amount.Equal(b.Amount)
}
