package dispatcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/generator"
	"github.com/smallbiznis/invoicing/internal/invoice/optimizer"
	"github.com/smallbiznis/invoicing/internal/invoice/plugin"
	"github.com/smallbiznis/invoicing/internal/locker"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

const (
	testAccountID      snowflake.ID = 1
	testSubscriptionID snowflake.ID = 10
)

var day1 = domain.Date(2026, time.January, 1)

// day returns the n-th day of the test calendar, day 1 being the subscription start.
func day(n int) time.Time {
	return domain.AddDays(day1, n-1)
}

func price(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

type fakeAccounts struct {
	accounts map[snowflake.ID]domain.Account
}

func (f *fakeAccounts) GetImmutableAccountByID(_ context.Context, accountID snowflake.ID) (domain.Account, error) {
	acc, ok := f.accounts[accountID]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return acc, nil
}

type fakeEvents struct {
	mu  sync.Mutex
	set domain.BillingEventSet
	err error
}

func (f *fakeEvents) GetBillingEventsForAccountAndUpdateAccountBCD(context.Context, snowflake.ID, *domain.DryRunArguments, *time.Time) (domain.BillingEventSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set, f.err
}

func (f *fakeEvents) Set(set domain.BillingEventSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = set
}

type fakeQueue struct {
	mu      sync.Mutex
	nextID  snowflake.ID
	pending []domain.QueuedNotification
}

func (q *fakeQueue) GetFutureNotificationForSearchKeys(_ context.Context, accountID snowflake.ID, _ int64) ([]domain.QueuedNotification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.QueuedNotification
	for _, n := range q.pending {
		if n.AccountID == accountID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveDate.Before(out[j].EffectiveDate) })
	return out, nil
}

func (q *fakeQueue) RecordFutureNotification(_ context.Context, n domain.QueuedNotification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	n.ID = q.nextID
	q.pending = append(q.pending, n)
	return nil
}

func (q *fakeQueue) record(accountID snowflake.ID, notifications domain.FutureAccountNotifications) {
	for at, set := range notifications.NotificationListForTrigger {
		_ = q.RecordFutureNotification(context.Background(), domain.QueuedNotification{
			AccountID: accountID, Queue: domain.QueueNextBillingDate, EffectiveDate: at,
			SubscriptionIDs: set.Sorted(), IsRescheduled: notifications.IsRescheduled,
		})
	}
	for at, set := range notifications.NotificationListForDryRun {
		_ = q.RecordFutureNotification(context.Background(), domain.QueuedNotification{
			AccountID: accountID, Queue: domain.QueueDryRun, EffectiveDate: at, SubscriptionIDs: set.Sorted(),
		})
	}
}

func (q *fakeQueue) snapshot() []domain.QueuedNotification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.QueuedNotification(nil), q.pending...)
}

type fakeDao struct {
	mu        sync.Mutex
	queue     *fakeQueue
	node      *snowflake.Node
	invoices  map[snowflake.ID]domain.Invoice
	order     []snowflake.ID
	ctds      map[snowflake.ID]time.Time
	creates   int
	createErr error
}

func newFakeDao(queue *fakeQueue, node *snowflake.Node) *fakeDao {
	return &fakeDao{
		queue:    queue,
		node:     node,
		invoices: map[snowflake.ID]domain.Invoice{},
		ctds:     map[snowflake.ID]time.Time{},
	}
}

func (f *fakeDao) GetInvoicesByAccount(_ context.Context, accountID snowflake.ID, cutoff *time.Time) ([]domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Invoice
	for _, id := range f.order {
		inv := f.invoices[id]
		if inv.AccountID != accountID || (cutoff != nil && inv.TargetDate.Before(*cutoff)) {
			continue
		}
		out = append(out, *inv.Clone())
	}
	return out, nil
}

func (f *fakeDao) CreateInvoice(_ context.Context, in domain.CreateInvoiceInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.creates++
	for _, inv := range append([]domain.Invoice{*in.Invoice}, in.AdjustedInvoices...) {
		if _, ok := f.invoices[inv.ID]; !ok {
			f.order = append(f.order, inv.ID)
		}
		f.invoices[inv.ID] = *inv.Clone()
	}
	for sub, ctd := range in.ChargedThroughDates {
		if ctd.After(f.ctds[sub]) {
			f.ctds[sub] = ctd
		}
	}
	f.queue.record(in.Invoice.AccountID, in.Notifications)
	return nil
}

func (f *fakeDao) SetFutureAccountNotificationsForEmptyInvoice(_ context.Context, accountID snowflake.ID, notifications domain.FutureAccountNotifications) error {
	f.queue.record(accountID, notifications)
	return nil
}

func (f *fakeDao) DoCBAComplexity(_ context.Context, inv *domain.Invoice, existing domain.AccountInvoices) (bool, error) {
	return domain.ApplyCBA(inv, existing.Invoices, f.node.Generate), nil
}

func (f *fakeDao) GetByID(_ context.Context, id snowflake.ID) (*domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	return inv.Clone(), nil
}

func (f *fakeDao) all() []domain.Invoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Invoice, 0, len(f.order))
	for _, id := range f.order {
		inv := f.invoices[id]
		out = append(out, *inv.Clone())
	}
	return out
}

type fakeParker struct {
	mu     sync.Mutex
	parked map[snowflake.ID]bool
}

func (p *fakeParker) ParkAccount(_ context.Context, accountID snowflake.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parked[accountID] = true
	return nil
}

func (p *fakeParker) UnparkAccount(_ context.Context, accountID snowflake.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.parked, accountID)
	return nil
}

func (p *fakeParker) IsParked(_ context.Context, accountID snowflake.ID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parked[accountID], nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *fakeBus) Post(_ context.Context, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBus) ofType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// recordingGenerator records target dates and detects overlapping generations.
type recordingGenerator struct {
	inner domain.Generator

	mu        sync.Mutex
	targets   []time.Time
	active    int
	maxActive int
	failWith  error
	holdFor   time.Duration
}

func (g *recordingGenerator) GenerateInvoice(ctx context.Context, req domain.GenerateRequest) (domain.InvoiceWithMetadata, error) {
	g.mu.Lock()
	g.targets = append(g.targets, req.TargetDate)
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	failWith, holdFor := g.failWith, g.holdFor
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
	}()

	if holdFor > 0 {
		time.Sleep(holdFor)
	}
	if failWith != nil {
		return domain.InvoiceWithMetadata{}, failWith
	}
	return g.inner.GenerateInvoice(ctx, req)
}

func (g *recordingGenerator) visited() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.targets...)
}

func (g *recordingGenerator) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.targets = nil
}

// scriptedPlugin lets tests drive the plugin hooks.
type scriptedPlugin struct {
	prior     plugin.PriorResult
	items     func(inv *domain.Invoice) []domain.InvoiceItem
	mu        sync.Mutex
	successes int
	failures  int
	committed []*domain.Invoice
}

func (p *scriptedPlugin) Name() string { return "scripted" }

func (p *scriptedPlugin) PriorCall(context.Context, plugin.Context) (plugin.PriorResult, error) {
	return p.prior, nil
}

func (p *scriptedPlugin) AdditionalItems(_ context.Context, inv *domain.Invoice, _ plugin.Context) ([]domain.InvoiceItem, error) {
	if p.items == nil {
		return nil, nil
	}
	return p.items(inv), nil
}

func (p *scriptedPlugin) OnSuccess(_ context.Context, pctx plugin.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successes++
	p.committed = append(p.committed, pctx.Invoice)
	return nil
}

func (p *scriptedPlugin) OnFailure(context.Context, plugin.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	return nil
}

type harness struct {
	dispatcher *Dispatcher
	clock      *clock.FakeClock
	cfg        *config.InvoiceConfigHolder
	events     *fakeEvents
	queue      *fakeQueue
	dao        *fakeDao
	parker     *fakeParker
	bus        *fakeBus
	generator  *recordingGenerator
	plugin     *scriptedPlugin
	locker     *locker.MemoryLocker
	spans      *tracetest.SpanRecorder
}

func newHarness(t *testing.T, now time.Time, mutate ...func(*config.InvoiceConfig)) *harness {
	t.Helper()
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	cfg := config.DefaultInvoiceConfig()
	cfg.MaxLockTries = 1
	for _, m := range mutate {
		m(&cfg)
	}
	holder := config.NewStaticInvoiceConfigHolder(cfg)

	h := &harness{
		clock:  clock.NewFakeClock(now),
		cfg:    holder,
		events: &fakeEvents{},
		queue:  &fakeQueue{},
		parker: &fakeParker{parked: map[snowflake.ID]bool{}},
		bus:    &fakeBus{},
		plugin: &scriptedPlugin{},
		locker: locker.NewMemoryLocker(locker.Config{RetryInterval: 5 * time.Millisecond}),
		spans:  tracetest.NewSpanRecorder(),
	}
	h.dao = newFakeDao(h.queue, node)

	gen, err := generator.New(generator.Params{GenID: node, Clock: h.clock})
	require.NoError(t, err)
	h.generator = &recordingGenerator{inner: gen}

	opt, err := optimizer.New(optimizer.Params{Dao: h.dao, Queue: h.queue, Config: holder, Clock: h.clock, Log: zap.NewNop()})
	require.NoError(t, err)
	plugins, err := plugin.NewDispatcher(plugin.Params{Plugins: []plugin.Plugin{h.plugin}, Config: holder, GenID: node, Log: zap.NewNop()})
	require.NoError(t, err)

	h.dispatcher, err = New(Params{
		Config:    holder,
		Events:    h.events,
		Accounts:  &fakeAccounts{accounts: map[snowflake.ID]domain.Account{testAccountID: {ID: testAccountID, TenantID: 3, Currency: "USD"}}},
		Generator: h.generator,
		Dao:       h.dao,
		Queue:     h.queue,
		Locker:    h.locker,
		Optimizer: opt,
		Plugins:   plugins,
		Parking:   h.parker,
		Bus:       h.bus,
		Clock:     h.clock,
		Log:       zap.NewNop(),
		Tracer:    sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans)),
	})
	require.NoError(t, err)
	return h
}

// trialThenMonthly is a subscription starting on day 1 with a 30-day trial followed by a
// 30-day evergreen phase billed in advance.
func trialThenMonthly() domain.BillingEventSet {
	return domain.NewBillingEventSet([]domain.BillingEvent{
		{ID: 1, AccountID: testAccountID, SubscriptionID: testSubscriptionID, BundleID: 100, EffectiveDate: day(1),
			Action: domain.BillingActionStartBilling, ProductName: "Pro", PlanName: "pro-monthly", PhaseName: "pro-monthly-trial"},
		{ID: 2, AccountID: testAccountID, SubscriptionID: testSubscriptionID, BundleID: 100, EffectiveDate: day(31),
			Action: domain.BillingActionPhase, ProductName: "Pro", PlanName: "pro-monthly", PhaseName: "pro-monthly-evergreen",
			RecurringPrice: price(30), BillingPeriodDays: 30},
	})
}

var errBoom = errors.New("boom")
