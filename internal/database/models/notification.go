package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is one inbox entry. The (event, recipient) pair is unique so
// redelivering an event never duplicates an entry.
type Notification struct {
	Base
	TenantID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	RecipientID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_notification_event_recipient" json:"recipient_id"`
	EventID     string     `gorm:"not null;uniqueIndex:idx_notification_event_recipient" json:"event_id"`
	Kind        string     `gorm:"type:varchar(64);not null" json:"kind"`
	Title       string     `gorm:"not null" json:"title"`
	Body        string     `gorm:"type:text" json:"body"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

func (Notification) TableName() string {
	return "notifications"
}
