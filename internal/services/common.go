package services

import (
	"context"
	"errors"

	"trustwork_backend/internal/events"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/pkg/apperrors"

	"gorm.io/gorm"
)

// EventRecorder пишет события в outbox внутри транзакции
type EventRecorder interface {
	Record(tx *gorm.DB, evs ...events.Event) error
}

// EventFlusher доставляет накопленные события после коммита
type EventFlusher interface {
	Flush(ctx context.Context) error
}

// ChangePublisher раздает изменения строк подписчикам realtime
type ChangePublisher interface {
	Publish(ctx context.Context, change realtime.Change, audience ...string)
}

type rowChange struct {
	change   realtime.Change
	audience []string
}

func changeOf(table string, ev realtime.ChangeEvent, oldRow, newRow interface{}, audience ...string) rowChange {
	return rowChange{change: realtime.NewChange(table, ev, oldRow, newRow), audience: audience}
}

// postCommit - работа после успешного коммита. Отмена запроса ее не прерывает.
type postCommit struct {
	flusher EventFlusher
	hub     ChangePublisher
}

func (p postCommit) run(ctx context.Context, changes ...rowChange) {
	ctx = context.WithoutCancel(ctx)
	if p.hub != nil {
		for _, c := range changes {
			p.hub.Publish(ctx, c.change, c.audience...)
		}
	}
	if p.flusher != nil {
		if err := p.flusher.Flush(ctx); err != nil {
			logger.CtxWithError(ctx, "Outbox flush after commit failed", err)
		}
	}
}

func beginTx(ctx context.Context, db *gorm.DB) (*gorm.DB, error) {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, apperrors.InternalError(tx.Error)
	}
	return tx, nil
}

func commitTx(tx *gorm.DB) error {
	if err := tx.Commit().Error; err != nil {
		return apperrors.InternalError(err)
	}
	return nil
}

// repoError переводит ошибки хранилища в ошибки приложения
func repoError(err error, domain, notFound string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return apperrors.ErrNotFound(domain, notFound)
	case errors.Is(err, repositories.ErrVersionConflict):
		return apperrors.ErrConflict(err, domain, "Record was modified concurrently, refresh and retry")
	case errors.Is(err, repositories.ErrDuplicate):
		return apperrors.ErrConflict(err, domain, "Record already exists")
	}
	return apperrors.InternalError(err)
}

func ptr[T any](v T) *T {
	return &v
}
