package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
)

// AccountInvoices is the snapshot of existing invoices taken once per dispatch call.
// A nil CutoffDate means the full history was loaded.
type AccountInvoices struct {
	CutoffDate *time.Time
	Invoices   []Invoice
}

func (a AccountInvoices) Clone() AccountInvoices {
	out := AccountInvoices{Invoices: make([]Invoice, 0, len(a.Invoices))}
	if a.CutoffDate != nil {
		cutoff := *a.CutoffDate
		out.CutoffDate = &cutoff
	}
	for i := range a.Invoices {
		out.Invoices = append(out.Invoices, *a.Invoices[i].Clone())
	}
	return out
}

// Upsert replaces the invoice sharing inv's id, or appends it.
func (a *AccountInvoices) Upsert(inv Invoice) {
	for i := range a.Invoices {
		if a.Invoices[i].ID == inv.ID {
			a.Invoices[i] = *inv.Clone()
			return
		}
	}
	a.Invoices = append(a.Invoices, *inv.Clone())
}

func (a AccountInvoices) ByID(id snowflake.ID) (*Invoice, bool) {
	for i := range a.Invoices {
		if a.Invoices[i].ID == id {
			return &a.Invoices[i], true
		}
	}
	return nil, false
}

// LatestDraft returns the most recent DRAFT invoice, if any.
func (a AccountInvoices) LatestDraft() (*Invoice, bool) {
	var latest *Invoice
	for i := range a.Invoices {
		inv := &a.Invoices[i]
		if inv.Status != InvoiceStatusDraft {
			continue
		}
		if latest == nil || inv.InvoiceDate.After(latest.InvoiceDate) ||
			(inv.InvoiceDate.Equal(latest.InvoiceDate) && inv.ID > latest.ID) {
			latest = inv
		}
	}
	return latest, latest != nil
}

// Active returns the non-VOID invoices ordered by invoice date then id.
func (a AccountInvoices) Active() []Invoice {
	out := make([]Invoice, 0, len(a.Invoices))
	for _, inv := range a.Invoices {
		if inv.Status == InvoiceStatusVoid {
			continue
		}
		out = append(out, inv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].InvoiceDate.Equal(out[j].InvoiceDate) {
			return out[i].InvoiceDate.Before(out[j].InvoiceDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
