package repositories

import (
	"time"

	"trustwork_backend/internal/models"

	"gorm.io/gorm"
)

type OutboxRepository interface {
	Append(db *gorm.DB, e *models.OutboxEvent) error
	ListPending(db *gorm.DB, staleBefore time.Time, limit int) ([]models.OutboxEvent, error)
	Claim(db *gorm.DB, id string, at, staleBefore time.Time) (bool, error)
	MarkDispatched(db *gorm.DB, id string, at time.Time, errMsg string) error
	RecordFailure(db *gorm.DB, id string, errMsg string) error
}

type OutboxRepositoryImpl struct{}

func NewOutboxRepository() OutboxRepository {
	return &OutboxRepositoryImpl{}
}

// Append вставляет событие с монотонной позицией.
// На Postgres позицию выдает последовательность, иначе max(position)+1 внутри транзакции.
func (r *OutboxRepositoryImpl) Append(db *gorm.DB, e *models.OutboxEvent) error {
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		if err := db.Raw("SELECT nextval('outbox_events_position_seq')").Scan(&e.Position).Error; err != nil {
			return err
		}
	} else {
		var last int64
		if err := db.Model(&models.OutboxEvent{}).Select("COALESCE(MAX(position), 0)").Scan(&last).Error; err != nil {
			return err
		}
		e.Position = last + 1
	}
	return translate(db.Create(e).Error)
}

// claimable: не отправлено и не захвачено, либо захват старше staleBefore
func claimable(db *gorm.DB, staleBefore time.Time) *gorm.DB {
	return db.Where("dispatched_at IS NULL AND (claimed_at IS NULL OR claimed_at < ?)", staleBefore)
}

func (r *OutboxRepositoryImpl) ListPending(db *gorm.DB, staleBefore time.Time, limit int) ([]models.OutboxEvent, error) {
	var list []models.OutboxEvent
	err := claimable(db, staleBefore).Order("position").Limit(limit).Find(&list).Error
	return list, err
}

// Claim берет событие в аренду до публикации; false значит, что его держит другой диспетчер.
// Аренда, не закрытая MarkDispatched до staleBefore, считается брошенной.
func (r *OutboxRepositoryImpl) Claim(db *gorm.DB, id string, at, staleBefore time.Time) (bool, error) {
	res := claimable(db.Model(&models.OutboxEvent{}).Where("id = ?", id), staleBefore).
		Updates(map[string]interface{}{"claimed_at": at, "attempts": gorm.Expr("attempts + 1")})
	return res.RowsAffected == 1, res.Error
}

// MarkDispatched закрывает аренду после публикации
func (r *OutboxRepositoryImpl) MarkDispatched(db *gorm.DB, id string, at time.Time, errMsg string) error {
	updates := map[string]interface{}{"dispatched_at": at, "claimed_at": nil}
	if errMsg != "" {
		updates["last_error"] = errMsg
	}
	return db.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(updates).Error
}

// RecordFailure возвращает событие в очередь
func (r *OutboxRepositoryImpl) RecordFailure(db *gorm.DB, id string, errMsg string) error {
	return db.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dispatched_at": nil,
			"claimed_at":    nil,
			"last_error":    errMsg,
		}).Error
}

// ============================================================================

type AuditRepository interface {
	Create(db *gorm.DB, entry *models.AuditEntry) error
	List(db *gorm.DB, source string, limit int) ([]models.AuditEntry, error)
}

type AuditRepositoryImpl struct{}

func NewAuditRepository() AuditRepository {
	return &AuditRepositoryImpl{}
}

func (r *AuditRepositoryImpl) Create(db *gorm.DB, entry *models.AuditEntry) error {
	return db.Create(entry).Error
}

func (r *AuditRepositoryImpl) List(db *gorm.DB, source string, limit int) ([]models.AuditEntry, error) {
	var list []models.AuditEntry
	q := db.Order("created_at DESC")
	if source != "" {
		q = q.Where("source = ?", source)
	}
	err := q.Limit(limit).Find(&list).Error
	return list, err
}
