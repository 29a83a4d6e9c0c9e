package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePlugin struct {
	name       string
	calls      *[]string
	prior      PriorResult
	items      func(inv *domain.Invoice) []domain.InvoiceItem
	successErr error
}

func (p *fakePlugin) Name() string { return p.name }

func (p *fakePlugin) PriorCall(context.Context, Context) (PriorResult, error) {
	if p.calls != nil {
		*p.calls = append(*p.calls, p.name)
	}
	return p.prior, nil
}

func (p *fakePlugin) AdditionalItems(_ context.Context, inv *domain.Invoice, _ Context) ([]domain.InvoiceItem, error) {
	if p.items == nil {
		return nil, nil
	}
	return p.items(inv), nil
}

func (p *fakePlugin) OnSuccess(context.Context, Context) error {
	if p.calls != nil {
		*p.calls = append(*p.calls, p.name)
	}
	return p.successErr
}

func (p *fakePlugin) OnFailure(context.Context, Context) error { return nil }

func newDispatcher(t *testing.T, order []string, plugins ...Plugin) *Dispatcher {
	t.Helper()
	cfg := config.DefaultInvoiceConfig()
	cfg.PluginOrder = order
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	d, err := NewDispatcher(Params{
		Plugins: plugins,
		Config:  config.NewStaticInvoiceConfigHolder(cfg),
		GenID:   node,
		Log:     zap.NewNop(),
	})
	require.NoError(t, err)
	return d
}

func at(day int) *time.Time {
	d := domain.Date(2026, time.April, day)
	return &d
}

func sampleInvoice() *domain.Invoice {
	end := domain.Date(2026, time.May, 1)
	inv := &domain.Invoice{ID: 100, AccountID: 1, Currency: "USD", Status: domain.InvoiceStatusDraft, TargetDate: domain.Date(2026, time.April, 1)}
	inv.AddItems(domain.InvoiceItem{
		ID:          101,
		Type:        domain.ItemTypeRecurring,
		ProductName: "Gold",
		PlanName:    "gold-monthly",
		Description: "Gold monthly",
		StartDate:   domain.Date(2026, time.April, 1),
		EndDate:     &end,
		Amount:      decimal.NewFromInt(50),
		Rate:        decimal.NewFromInt(50),
		Currency:    "USD",
	})
	return inv
}

func TestPluginOrderFollowsConfigThenRegistration(t *testing.T) {
	var calls []string
	d := newDispatcher(t, []string{"c", "missing", "b"},
		&fakePlugin{name: "a", calls: &calls},
		&fakePlugin{name: "b", calls: &calls},
		&fakePlugin{name: "c", calls: &calls},
	)

	_, err := d.PriorCall(context.Background(), Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, calls)
}

func TestPriorCallReturnsEarliestReschedule(t *testing.T) {
	d := newDispatcher(t, nil,
		&fakePlugin{name: "a", prior: PriorResult{RescheduleDate: at(20)}},
		&fakePlugin{name: "b", prior: PriorResult{RescheduleDate: at(5)}},
		&fakePlugin{name: "c"},
	)

	got, err := d.PriorCall(context.Background(), Context{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, at(5).Equal(*got))
}

func TestPriorCallAbortWinsOverReschedule(t *testing.T) {
	var calls []string
	d := newDispatcher(t, nil,
		&fakePlugin{name: "a", calls: &calls, prior: PriorResult{RescheduleDate: at(5)}},
		&fakePlugin{name: "b", calls: &calls, prior: PriorResult{Abort: true}},
		&fakePlugin{name: "c", calls: &calls},
	)

	got, err := d.PriorCall(context.Background(), Context{})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, domain.ErrPluginAborted)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestImmutableFieldsKeepSystemValue(t *testing.T) {
	d := newDispatcher(t, nil, &fakePlugin{name: "rename", items: func(*domain.Invoice) []domain.InvoiceItem {
		return []domain.InvoiceItem{{
			ID:          101,
			ProductName: "Platinum",
			Amount:      decimal.NewFromInt(1),
			Description: "Gold monthly (discounted)",
		}}
	}})

	inv := sampleInvoice()
	update, err := d.UpdateOriginalInvoiceWithPluginInvoiceItems(context.Background(), inv, Context{Invoice: inv})
	require.NoError(t, err)
	assert.True(t, update.Changed)
	require.Len(t, inv.Items, 1)
	assert.Equal(t, "Gold", inv.Items[0].ProductName)
	assert.True(t, decimal.NewFromInt(50).Equal(inv.Items[0].Amount))
	assert.Equal(t, "Gold monthly (discounted)", inv.Items[0].Description)
}

func TestNewItemMustUseAllowedType(t *testing.T) {
	d := newDispatcher(t, nil, &fakePlugin{name: "bad", items: func(*domain.Invoice) []domain.InvoiceItem {
		return []domain.InvoiceItem{{Type: domain.ItemTypeRecurring, Amount: decimal.NewFromInt(5)}}
	}})

	inv := sampleInvoice()
	_, err := d.UpdateOriginalInvoiceWithPluginInvoiceItems(context.Background(), inv, Context{Invoice: inv})
	assert.ErrorIs(t, err, domain.ErrInvalidPluginItem)
	assert.ErrorIs(t, err, domain.ErrUnexpected)
	assert.Len(t, inv.Items, 1)
}

func TestPluginItemsLandOnOriginalAndOtherInvoices(t *testing.T) {
	sibling := domain.Invoice{ID: 200, AccountID: 1, Currency: "USD", Status: domain.InvoiceStatusCommitted}
	d := newDispatcher(t, nil, &fakePlugin{name: "tax", items: func(inv *domain.Invoice) []domain.InvoiceItem {
		inv.Items = nil
		return []domain.InvoiceItem{
			{Type: domain.ItemTypeTax, Amount: decimal.NewFromInt(5), Description: "VAT"},
			{Type: domain.ItemTypeTax, InvoiceID: 200, Amount: decimal.NewFromInt(2), Description: "VAT catch-up"},
		}
	}})

	inv := sampleInvoice()
	update, err := d.UpdateOriginalInvoiceWithPluginInvoiceItems(context.Background(), inv, Context{
		Invoice:          inv,
		ExistingInvoices: []domain.Invoice{sibling},
	})
	require.NoError(t, err)
	assert.True(t, update.Changed)
	require.Len(t, inv.Items, 2)
	assert.NotZero(t, inv.Items[1].ID)
	assert.Equal(t, inv.ID, inv.Items[1].InvoiceID)
	assert.True(t, decimal.NewFromInt(55).Equal(inv.Balance()))

	require.Len(t, update.Adjusted, 1)
	assert.Equal(t, snowflake.ID(200), update.Adjusted[0].ID)
	require.Len(t, update.Adjusted[0].Items, 1)
	assert.Equal(t, "VAT catch-up", update.Adjusted[0].Items[0].Description)
	assert.Empty(t, sibling.Items)
}

func TestLaterPluginUpdatesEarlierPluginItem(t *testing.T) {
	d := newDispatcher(t, nil,
		&fakePlugin{name: "first", items: func(*domain.Invoice) []domain.InvoiceItem {
			return []domain.InvoiceItem{{ID: 555, Type: domain.ItemTypeExternalCharge, Amount: decimal.NewFromInt(10)}}
		}},
		&fakePlugin{name: "second", items: func(*domain.Invoice) []domain.InvoiceItem {
			return []domain.InvoiceItem{{ID: 555, Amount: decimal.NewFromInt(12), Description: "repriced"}}
		}},
	)

	inv := sampleInvoice()
	_, err := d.UpdateOriginalInvoiceWithPluginInvoiceItems(context.Background(), inv, Context{Invoice: inv})
	require.NoError(t, err)
	require.Len(t, inv.Items, 2)
	added, ok := inv.ItemByID(555)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(12).Equal(added.Amount))
	assert.Equal(t, "repriced", added.Description)
}

func TestNoPluginItemsLeavesInvoiceUnchanged(t *testing.T) {
	d := newDispatcher(t, nil, &fakePlugin{name: "noop"})
	inv := sampleInvoice()
	update, err := d.UpdateOriginalInvoiceWithPluginInvoiceItems(context.Background(), inv, Context{Invoice: inv})
	require.NoError(t, err)
	assert.False(t, update.Changed)
	assert.Empty(t, update.Adjusted)
}

func TestOnSuccessStopsAtFirstError(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	d := newDispatcher(t, nil,
		&fakePlugin{name: "a", calls: &calls, successErr: boom},
		&fakePlugin{name: "b", calls: &calls},
	)

	err := d.OnSuccessCall(context.Background(), Context{Invoice: sampleInvoice()})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, calls)
}
