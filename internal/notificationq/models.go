package notificationq

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"gorm.io/datatypes"
)

const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusProcessed  = "PROCESSED"
	StatusFailed     = "FAILED"
)

// NotificationRow is a future wake-up of one account on one queue.
type NotificationRow struct {
	ID              snowflake.ID                      `gorm:"primaryKey"`
	TenantID        int64                             `gorm:"not null;index"`
	AccountID       snowflake.ID                      `gorm:"not null;index:ix_invoice_notifications_account_queue"`
	Queue           string                            `gorm:"type:text;not null;index:ix_invoice_notifications_account_queue"`
	EffectiveDate   time.Time                         `gorm:"not null;index"`
	SubscriptionIDs datatypes.JSONSlice[snowflake.ID] `gorm:"type:jsonb;not null"`
	IsRescheduled   bool                              `gorm:"not null;default:false"`
	Status          string                            `gorm:"type:text;not null;index"`
	Attempts        int                               `gorm:"not null;default:0"`
	LastError       string                            `gorm:"type:text"`
	ProcessedAt     *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (NotificationRow) TableName() string { return "invoice_notifications" }

func (r NotificationRow) toDomain() domain.QueuedNotification {
	return domain.QueuedNotification{
		ID:              r.ID,
		AccountID:       r.AccountID,
		TenantID:        r.TenantID,
		Queue:           r.Queue,
		EffectiveDate:   r.EffectiveDate.UTC(),
		SubscriptionIDs: append([]snowflake.ID(nil), r.SubscriptionIDs...),
		IsRescheduled:   r.IsRescheduled,
	}
}
