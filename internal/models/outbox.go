package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OutboxEvent - доменное событие, записанное в той же транзакции, что и изменение
type OutboxEvent struct {
	ID            string         `gorm:"type:uuid;primaryKey" json:"id"`
	Position      int64          `gorm:"not null;uniqueIndex" json:"position"`
	AggregateType string         `gorm:"not null" json:"aggregate_type"`
	AggregateID   string         `gorm:"not null;index" json:"aggregate_id"`
	EventType     string         `gorm:"not null" json:"event_type"`
	Payload       datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	LastError     *string        `json:"last_error,omitempty"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
	DispatchedAt  *time.Time     `gorm:"index" json:"dispatched_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// AuditEntry - запись аудита: сбои подписчиков, шлюза, отклоненные колбэки
type AuditEntry struct {
	ID          string         `gorm:"type:uuid;primaryKey" json:"id"`
	Source      string         `gorm:"not null;index" json:"source"`
	EventType   string         `json:"event_type"`
	AggregateID *string        `json:"aggregate_id,omitempty"`
	Subscriber  *string        `json:"subscriber,omitempty"`
	Message     string         `gorm:"type:text;not null" json:"message"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (AuditEntry) TableName() string { return "audit_entries" }

// AllModels - список для AutoMigrate (тесты и dev)
func AllModels() []interface{} {
	return []interface{}{
		&Profile{},
		&BankAccount{},
		&Assignment{},
		&Application{},
		&Gig{},
		&Milestone{},
		&EscrowPayment{},
		&Notification{},
		&OutboxEvent{},
		&AuditEntry{},
	}
}

func (e *OutboxEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

func (a *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
