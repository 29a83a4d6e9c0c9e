package generator

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
)

// segment is a span during which one recurring price applies. end is nil while open.
type segment struct {
	event      domain.BillingEvent
	start      time.Time
	end        *time.Time
	price      decimal.Decimal
	periodDays int
}

type fixedCharge struct {
	event domain.BillingEvent
	date  time.Time
	price decimal.Decimal
}

type subscriptionPlan struct {
	subscriptionID snowflake.ID
	bundleID       snowflake.ID
	segments       []segment
	fixed          []fixedCharge
}

// planSubscription folds the ordered billing events of one subscription into billing segments.
func planSubscription(account domain.Account, events []domain.BillingEvent) subscriptionPlan {
	var plan subscriptionPlan
	var current *segment
	var last *domain.BillingEvent
	disabled := false

	closeCurrent := func(at time.Time) {
		if current == nil {
			return
		}
		end := at
		current.end = &end
		if current.start.Before(end) {
			plan.segments = append(plan.segments, *current)
		}
		current = nil
	}
	open := func(ev domain.BillingEvent, at time.Time) {
		if ev.RecurringPrice == nil || ev.BillingPeriodDays <= 0 {
			return
		}
		current = &segment{event: ev, start: at, price: *ev.RecurringPrice, periodDays: ev.BillingPeriodDays}
	}

	for i := range events {
		ev := events[i]
		plan.subscriptionID = ev.SubscriptionID
		plan.bundleID = ev.BundleID
		date := account.LocalDate(ev.EffectiveDate)

		switch ev.Action {
		case domain.BillingActionCancel, domain.BillingActionStartBillingDisabled:
			closeCurrent(date)
			disabled = true
		case domain.BillingActionEndBillingDisabled:
			disabled = false
			if last != nil {
				open(*last, date)
			}
		default:
			closeCurrent(date)
			last = &events[i]
			if disabled {
				continue
			}
			if ev.FixedPrice != nil {
				plan.fixed = append(plan.fixed, fixedCharge{event: ev, date: date, price: *ev.FixedPrice})
			}
			open(ev, date)
		}
	}
	if current != nil {
		plan.segments = append(plan.segments, *current)
	}
	return plan
}

// bill returns the items due on or before target plus the subscription's next wake-up dates.
// Periods starting before cutoff are assumed billed.
func (p subscriptionPlan) bill(target time.Time, cutoff *time.Time, currency string) ([]domain.InvoiceItem, domain.SubscriptionFutureNotificationDates) {
	var items []domain.InvoiceItem
	var next *time.Time
	usage := map[string]time.Time{}

	consider := func(at time.Time) {
		if at.After(target) && (next == nil || at.Before(*next)) {
			d := at
			next = &d
		}
	}

	for _, fc := range p.fixed {
		if fc.date.After(target) {
			consider(fc.date)
			continue
		}
		if cutoff != nil && fc.date.Before(*cutoff) {
			continue
		}
		items = append(items, p.item(fc.event, domain.ItemTypeFixed, fc.date, nil, fc.price, fc.price, currency))
	}

	for _, seg := range p.segments {
		start := seg.start
		for seg.end == nil || start.Before(*seg.end) {
			end := domain.AddDays(start, seg.periodDays)
			amount := seg.price
			if seg.end != nil && end.After(*seg.end) {
				amount = prorate(seg.price, domain.DaysBetween(start, *seg.end), seg.periodDays)
				end = *seg.end
			}
			if start.After(target) {
				consider(start)
				break
			}
			for _, unit := range seg.event.UsageUnits {
				if end.After(target) {
					if current, ok := usage[unit]; !ok || end.Before(current) {
						usage[unit] = end
					}
				}
			}
			if cutoff == nil || !start.Before(*cutoff) {
				periodEnd := end
				items = append(items, p.item(seg.event, domain.ItemTypeRecurring, start, &periodEnd, amount, seg.price, currency))
			}
			start = end
		}
	}

	dates := domain.SubscriptionFutureNotificationDates{
		RecurringBillingMode: domain.BillingModeInAdvance,
		NextRecurringDate:    next,
	}
	if len(usage) > 0 {
		dates.NextUsageDates = usage
	}
	return items, dates
}

func (p subscriptionPlan) item(ev domain.BillingEvent, itemType domain.ItemType, start time.Time, end *time.Time, amount, rate decimal.Decimal, currency string) domain.InvoiceItem {
	return domain.InvoiceItem{
		SubscriptionID: p.subscriptionID,
		BundleID:       p.bundleID,
		Type:           itemType,
		ProductName:    ev.ProductName,
		PlanName:       ev.PlanName,
		PhaseName:      ev.PhaseName,
		Description:    describe(ev, itemType),
		StartDate:      start,
		EndDate:        end,
		Amount:         amount,
		Rate:           rate,
		Quantity:       decimal.NewFromInt(1),
		Currency:       currency,
	}
}

func describe(ev domain.BillingEvent, itemType domain.ItemType) string {
	name := ev.PhaseName
	if name == "" {
		name = ev.PlanName
	}
	if itemType == domain.ItemTypeFixed {
		return name + " (fixed)"
	}
	return name
}

func prorate(price decimal.Decimal, days, periodDays int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(int64(periodDays))).
		Round(2)
}
