package events

import (
	"encoding/json"
	"fmt"

	"trustwork_backend/internal/models"
	"trustwork_backend/internal/repositories"

	"gorm.io/gorm"
)

// NotifyChannel - канал pg_notify, который слушает Listener
const NotifyChannel = "outbox_events"

// Outbox пишет события в outbox_events в транзакции команды.
// При откате события пропадают вместе с изменениями.
type Outbox struct {
	repo repositories.OutboxRepository
}

func NewOutbox(repo repositories.OutboxRepository) *Outbox {
	return &Outbox{repo: repo}
}

// Record добавляет события в порядке аргументов
func (o *Outbox) Record(tx *gorm.DB, evs ...Event) error {
	for _, e := range evs {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", e.Type, err)
		}
		row := &models.OutboxEvent{
			AggregateType: e.AggregateType,
			AggregateID:   e.AggregateID,
			EventType:     string(e.Type),
			Payload:       payload,
			CreatedAt:     models.NowUTC(),
		}
		if err := o.repo.Append(tx, row); err != nil {
			return fmt.Errorf("failed to append %s to outbox: %w", e.Type, err)
		}
		if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
			// уведомление уходит только после COMMIT
			if err := tx.Exec("SELECT pg_notify(?, ?)", NotifyChannel, row.ID).Error; err != nil {
				return fmt.Errorf("failed to notify outbox listeners: %w", err)
			}
		}
	}
	return nil
}

// FromRow восстанавливает событие из строки outbox
func FromRow(row models.OutboxEvent) (Event, error) {
	e := Event{
		ID:            row.ID,
		Type:          Type(row.EventType),
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Position:      row.Position,
		OccurredAt:    row.CreatedAt,
	}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &e.Payload); err != nil {
			return e, fmt.Errorf("failed to decode outbox event %s: %w", row.ID, err)
		}
	}
	return e, nil
}
