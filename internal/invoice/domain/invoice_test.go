package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInvoice() *Invoice {
	end := Date(2026, time.February, 1)
	return &Invoice{
		ID:          snowflake.ID(10),
		AccountID:   snowflake.ID(1),
		Currency:    "USD",
		Status:      InvoiceStatusDraft,
		InvoiceDate: Date(2026, time.January, 1),
		Items: []InvoiceItem{{
			ID:             snowflake.ID(100),
			InvoiceID:      snowflake.ID(10),
			SubscriptionID: snowflake.ID(5),
			Type:           ItemTypeRecurring,
			ProductName:    "pro",
			StartDate:      Date(2026, time.January, 1),
			EndDate:        &end,
			Amount:         decimal.NewFromInt(30),
		}},
	}
}

func TestInvoiceCloneIsDeep(t *testing.T) {
	inv := sampleInvoice()
	clone := inv.Clone()

	clone.Items[0].ProductName = "changed"
	*clone.Items[0].EndDate = Date(2030, time.January, 1)
	clone.Items = append(clone.Items, InvoiceItem{ID: snowflake.ID(101)})

	assert.Equal(t, "pro", inv.Items[0].ProductName)
	assert.Equal(t, Date(2026, time.February, 1), *inv.Items[0].EndDate)
	assert.Len(t, inv.Items, 1)
}

func TestAccountInvoicesUpsertReplacesSameID(t *testing.T) {
	ai := AccountInvoices{}
	inv := sampleInvoice()
	ai.Upsert(*inv)

	inv.AddItems(InvoiceItem{ID: snowflake.ID(101), Type: ItemTypeFixed, Amount: decimal.NewFromInt(5)})
	ai.Upsert(*inv)

	require.Len(t, ai.Invoices, 1)
	assert.Len(t, ai.Invoices[0].Items, 2)

	draft, ok := ai.LatestDraft()
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(10), draft.ID)
}

func TestApplyCBAGeneratesCreditOnNegativeBalance(t *testing.T) {
	inv := sampleInvoice()
	inv.Items[0].Amount = decimal.NewFromInt(-20)
	ids := snowflake.ID(500)
	next := func() snowflake.ID { ids++; return ids }

	changed := ApplyCBA(inv, nil, next)
	assert.True(t, changed)
	assert.True(t, inv.Balance().IsZero())

	// second run is stable
	assert.False(t, ApplyCBA(inv, nil, next))
	assert.Len(t, inv.Items, 2)
}

func TestApplyCBAConsumesExistingCredit(t *testing.T) {
	credit := Invoice{
		ID:     snowflake.ID(1),
		Status: InvoiceStatusCommitted,
		Items:  []InvoiceItem{{ID: snowflake.ID(2), Type: ItemTypeCBAAdj, Amount: decimal.NewFromInt(12)}},
	}
	inv := sampleInvoice()
	next := func() snowflake.ID { return snowflake.ID(900) }

	assert.True(t, ApplyCBA(inv, []Invoice{credit}, next))
	assert.True(t, inv.Balance().Equal(decimal.NewFromInt(18)))

	cba, ok := inv.ItemByID(snowflake.ID(900))
	require.True(t, ok)
	assert.True(t, cba.Amount.Equal(decimal.NewFromInt(-12)))
}

func TestChargedThroughDatesOnlyForCommitted(t *testing.T) {
	inv := sampleInvoice()
	assert.Empty(t, ChargedThroughDates(inv))

	inv.Status = InvoiceStatusCommitted
	ctd := ChargedThroughDates(inv)
	assert.Equal(t, Date(2026, time.February, 1), ctd[snowflake.ID(5)])
}

func TestNormalizeDropsEmptyInvoiceAndResetsInAdvanceDates(t *testing.T) {
	next := Date(2026, time.March, 1)
	meta := InvoiceWithMetadata{
		Invoice: &Invoice{ID: snowflake.ID(3)},
		PerSubscriptionFutureNotificationDates: map[snowflake.ID]SubscriptionFutureNotificationDates{
			snowflake.ID(7): {RecurringBillingMode: BillingModeInAdvance, NextRecurringDate: &next},
			snowflake.ID(8): {RecurringBillingMode: BillingModeInArrear, NextRecurringDate: &next},
		},
	}
	meta.Normalize()

	assert.Nil(t, meta.Invoice)
	assert.Nil(t, meta.PerSubscriptionFutureNotificationDates[snowflake.ID(7)].NextRecurringDate)
	assert.NotNil(t, meta.PerSubscriptionFutureNotificationDates[snowflake.ID(8)].NextRecurringDate)
}
