package events

import (
	"context"
	"encoding/json"

	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/repositories"

	"gorm.io/gorm"
)

// Источники записей аудита
const (
	AuditSourceSubscriber = "subscriber"
	AuditSourceGateway    = "gateway"
	AuditSourceCallback   = "callback"
)

// AuditSink пишет записи аудита в audit_entries. Запись идет вне транзакций
// команды, чтобы сбой фиксировался даже при откате.
type AuditSink struct {
	db   *gorm.DB
	repo repositories.AuditRepository
}

func NewAuditSink(db *gorm.DB, repo repositories.AuditRepository) *AuditSink {
	return &AuditSink{db: db, repo: repo}
}

func (s *AuditSink) SubscriberFailed(ctx context.Context, subscriber string, e Event, err error) {
	payload, _ := json.Marshal(e)
	aggregateID := e.AggregateID
	entry := &models.AuditEntry{
		Source:      AuditSourceSubscriber,
		EventType:   string(e.Type),
		AggregateID: &aggregateID,
		Subscriber:  &subscriber,
		Message:     errString(err),
		Payload:     payload,
	}
	s.write(ctx, entry)
}

// Record - произвольная запись (сбой возврата в шлюзе, отклоненный колбэк)
func (s *AuditSink) Record(ctx context.Context, source, eventType, aggregateID, message string, payload []byte) {
	entry := &models.AuditEntry{
		Source:    source,
		EventType: eventType,
		Message:   message,
		Payload:   payload,
	}
	if aggregateID != "" {
		entry.AggregateID = &aggregateID
	}
	if len(payload) == 0 || !json.Valid(payload) {
		entry.Payload = nil
	}
	s.write(ctx, entry)
}

func (s *AuditSink) write(ctx context.Context, entry *models.AuditEntry) {
	if err := s.repo.Create(s.db.WithContext(context.WithoutCancel(ctx)), entry); err != nil {
		logger.CtxError(ctx, "Failed to write audit entry",
			"source", entry.Source,
			"event_type", entry.EventType,
			"error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
