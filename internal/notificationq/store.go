package notificationq

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrInvalidNotification = errors.New("invalid_notification")

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Clock clock.Clock
}

// Store is the gorm-backed notification queue.
type Store struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewStore(p Params) (*Store, error) {
	if p.DB == nil || p.GenID == nil || p.Clock == nil {
		return nil, errors.New("notification store requires db, id generator and clock")
	}
	return &Store{db: p.DB, genID: p.GenID, clock: p.Clock}, nil
}

// GetFutureNotificationForSearchKeys returns the pending notifications of an account ordered by date.
func (s *Store) GetFutureNotificationForSearchKeys(ctx context.Context, accountID snowflake.ID, tenantID int64) ([]domain.QueuedNotification, error) {
	var rows []NotificationRow
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND tenant_id = ? AND status = ?", accountID, tenantID, StatusPending).
		Order("effective_date ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r NotificationRow, _ int) domain.QueuedNotification { return r.toDomain() }), nil
}

func (s *Store) RecordFutureNotification(ctx context.Context, n domain.QueuedNotification) error {
	return s.Record(ctx, s.db, []domain.QueuedNotification{n})
}

// RecordAccountNotifications converts the notification maps of an account into queue entries
// and records them using tx.
func (s *Store) RecordAccountNotifications(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, tenantID int64, notifications domain.FutureAccountNotifications) error {
	entries := make([]domain.QueuedNotification, 0,
		len(notifications.NotificationListForTrigger)+len(notifications.NotificationListForDryRun))
	for _, at := range notifications.TriggerDates() {
		entries = append(entries, domain.QueuedNotification{
			AccountID:       accountID,
			TenantID:        tenantID,
			Queue:           domain.QueueNextBillingDate,
			EffectiveDate:   at,
			SubscriptionIDs: notifications.NotificationListForTrigger[at].Sorted(),
			IsRescheduled:   notifications.IsRescheduled,
		})
	}
	for _, at := range notifications.DryRunDates() {
		entries = append(entries, domain.QueuedNotification{
			AccountID:       accountID,
			TenantID:        tenantID,
			Queue:           domain.QueueDryRun,
			EffectiveDate:   at,
			SubscriptionIDs: notifications.NotificationListForDryRun[at].Sorted(),
			IsRescheduled:   notifications.IsRescheduled,
		})
	}
	return s.Record(ctx, tx, entries)
}

// Record upserts notifications: a pending entry with the same account, queue and date absorbs
// the new subscription ids instead of creating a duplicate wake-up.
func (s *Store) Record(ctx context.Context, tx *gorm.DB, notifications []domain.QueuedNotification) error {
	if tx == nil {
		tx = s.db
	}
	now := s.clock.Now()
	for _, n := range notifications {
		if n.AccountID == 0 || n.Queue == "" || len(n.SubscriptionIDs) == 0 {
			return ErrInvalidNotification
		}
		at := n.EffectiveDate.UTC().Round(0)

		var existing NotificationRow
		err := tx.WithContext(ctx).
			Where("account_id = ? AND queue = ? AND effective_date = ? AND status = ?", n.AccountID, n.Queue, at, StatusPending).
			Take(&existing).Error
		switch {
		case err == nil:
			merged := mergeIDs(existing.SubscriptionIDs, n.SubscriptionIDs)
			if err := tx.WithContext(ctx).Model(&NotificationRow{}).
				Where("id = ?", existing.ID).
				Updates(map[string]any{
					"subscription_ids": datatypes.NewJSONSlice(merged),
					"is_rescheduled":   existing.IsRescheduled || n.IsRescheduled,
					"updated_at":       now,
				}).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := NotificationRow{
				ID:              s.genID.Generate(),
				TenantID:        n.TenantID,
				AccountID:       n.AccountID,
				Queue:           n.Queue,
				EffectiveDate:   at,
				SubscriptionIDs: datatypes.NewJSONSlice(mergeIDs(nil, n.SubscriptionIDs)),
				IsRescheduled:   n.IsRescheduled,
				Status:          StatusPending,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

// ClaimDue marks up to limit pending notifications effective at or before now as processing
// and returns them. A row claimed concurrently by another poller is skipped.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.QueuedNotification, error) {
	var rows []NotificationRow
	if err := s.db.WithContext(ctx).
		Where("status = ? AND effective_date <= ?", StatusPending, now).
		Order("effective_date ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	claimed := make([]domain.QueuedNotification, 0, len(rows))
	for _, row := range rows {
		res := s.db.WithContext(ctx).Model(&NotificationRow{}).
			Where("id = ? AND status = ?", row.ID, StatusPending).
			Updates(map[string]any{
				"status":     StatusProcessing,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": s.clock.Now(),
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 1 {
			claimed = append(claimed, row.toDomain())
		}
	}
	return claimed, nil
}

// Complete records the outcome of a claimed notification.
func (s *Store) Complete(ctx context.Context, id snowflake.ID, procErr error) error {
	now := s.clock.Now()
	updates := map[string]any{
		"status":       StatusProcessed,
		"processed_at": now,
		"updated_at":   now,
		"last_error":   "",
	}
	if procErr != nil {
		updates["status"] = StatusFailed
		updates["last_error"] = procErr.Error()
	}
	return s.db.WithContext(ctx).Model(&NotificationRow{}).Where("id = ?", id).Updates(updates).Error
}

func mergeIDs(current []snowflake.ID, extra []snowflake.ID) []snowflake.ID {
	merged := lo.Uniq(append(append([]snowflake.ID{}, current...), extra...))
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	return merged
}
