package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification - уведомление во входящих пользователя.
// Меняется только флаг прочтения.
type Notification struct {
	ID        string               `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string               `gorm:"type:uuid;not null;index:idx_notifications_user_read_created,priority:1;uniqueIndex:idx_notifications_event_user,priority:2" json:"user_id"`
	Type      NotificationType     `gorm:"type:varchar(20);not null" json:"type"`
	Priority  NotificationPriority `gorm:"type:varchar(10);not null;default:medium" json:"priority"`
	Title     string               `gorm:"not null" json:"title"`
	Message   string               `gorm:"type:text" json:"message"`
	ActionURL *string              `json:"action_url,omitempty"`
	Data      datatypes.JSON       `gorm:"type:jsonb" json:"data,omitempty"`
	EventID   *string              `gorm:"type:uuid;uniqueIndex:idx_notifications_event_user,priority:1" json:"event_id,omitempty"`
	IsRead    bool                 `gorm:"column:is_read;not null;default:false;index:idx_notifications_user_read_created,priority:2" json:"read"`
	ReadAt    *time.Time           `json:"read_at,omitempty"`
	CreatedAt time.Time            `gorm:"index:idx_notifications_user_read_created,priority:3,sort:desc" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
