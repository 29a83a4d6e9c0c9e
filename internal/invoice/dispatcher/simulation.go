package dispatcher

import (
	"container/heap"
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"go.uber.org/zap"
)

// dateHeap is a min-heap of local dates.
type dateHeap []time.Time

func (h dateHeap) Len() int           { return len(h) }
func (h dateHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h dateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *dateHeap) Push(x any)        { *h = append(*h, x.(time.Time)) }
func (h *dateHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// candidate is a date on which the account may be invoiced and the subscriptions behind it.
type candidate struct {
	date          time.Time
	subscriptions []snowflake.ID
}

// candidateDates collects the pending queue notifications and the next billing transition of
// every subscription, truncated to the account-local day.
func (d *Dispatcher) candidateDates(ctx context.Context, r *run) ([]candidate, error) {
	queued, err := d.queue.GetFutureNotificationForSearchKeys(ctx, r.account.ID, r.account.TenantID)
	if err != nil {
		return nil, err
	}

	byDate := map[time.Time][]snowflake.ID{}
	for _, n := range queued {
		if n.Queue != domain.QueueNextBillingDate {
			continue
		}
		date := r.account.LocalDate(n.EffectiveDate)
		byDate[date] = append(byDate[date], n.SubscriptionIDs...)
	}
	for subscriptionID, date := range r.events.NextTransitionDates(r.now, r.account.Location()) {
		byDate[date] = append(byDate[date], subscriptionID)
	}

	out := make([]candidate, 0, len(byDate))
	for date, ids := range byDate {
		out = append(out, candidate{date: date, subscriptions: ids})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].date.Before(out[j].date) })
	return out, nil
}

// simulate walks every candidate date up to target in ascending order so that invoices target
// depends on (drafts, credit) exist in memory before target itself is generated.
func (d *Dispatcher) simulate(ctx context.Context, r *run, target time.Time) (*domain.Invoice, error) {
	candidates, err := d.candidateDates(ctx, r)
	if err != nil {
		return nil, err
	}

	h := make(dateHeap, 0, len(candidates))
	for _, c := range candidates {
		h = append(h, c.date)
	}
	heap.Init(&h)

	var (
		prev    *time.Time
		last    *domain.Invoice
		visited int
	)
	for h.Len() > 0 {
		cur := heap.Pop(&h).(time.Time)
		if prev != nil && cur.Equal(*prev) {
			continue
		}
		if cur.After(target) {
			break
		}
		prev = &cur
		visited++

		res, err := d.processTarget(ctx, r, cur)
		if err != nil {
			return nil, err
		}
		if res.invoice != nil {
			last = res.invoice
		}
		for _, at := range res.notifications.TriggerDates() {
			date := r.account.LocalDate(at)
			if date.After(cur) && date.Before(target) {
				heap.Push(&h, date)
			}
		}
	}

	if prev != nil && prev.Equal(target) {
		d.metrics.ObserveDryRunCandidates(visited)
		return last, nil
	}

	visited++
	d.metrics.ObserveDryRunCandidates(visited)
	res, err := d.processTarget(ctx, r, target)
	if err != nil {
		return nil, err
	}
	if res.invoice != nil {
		return res.invoice, nil
	}
	return last, nil
}

// upcomingInvoice returns the first candidate date producing an invoice. With a subscription
// or bundle filter each matching candidate is simulated as a target date.
func (d *Dispatcher) upcomingInvoice(ctx context.Context, r *run) (*domain.Invoice, error) {
	candidates, err := d.candidateDates(ctx, r)
	if err != nil {
		return nil, err
	}

	if !r.dryRun.HasFilter() {
		for _, c := range candidates {
			res, err := d.processTarget(ctx, r, c.date)
			if err != nil {
				return nil, err
			}
			if res.invoice.HasItems() {
				return res.invoice, nil
			}
		}
		return nil, nil
	}

	bundles := map[snowflake.ID]snowflake.ID{}
	for _, ev := range r.events.Events {
		bundles[ev.SubscriptionID] = ev.BundleID
	}
	snapshot := r.existing.Clone()
	for _, c := range candidates {
		if !d.matchesFilter(r.dryRun, c.subscriptions, bundles) {
			continue
		}
		existing := snapshot.Clone()
		attempt := *r
		attempt.existing = &existing
		inv, err := d.simulate(ctx, &attempt, c.date)
		if err != nil {
			return nil, err
		}
		if inv.HasItems() {
			return inv, nil
		}
		d.log.Debug("invoice.dispatch.upcoming_candidate_empty",
			zap.String("account_id", r.account.ID.String()),
			zap.Time("date", c.date),
		)
	}
	return nil, nil
}

func (d *Dispatcher) matchesFilter(args *domain.DryRunArguments, subscriptions []snowflake.ID, bundles map[snowflake.ID]snowflake.ID) bool {
	for _, id := range subscriptions {
		if id == domain.AccountLevelSubscriptionID {
			continue
		}
		if args.Matches(id, bundles[id]) {
			return true
		}
	}
	return false
}
