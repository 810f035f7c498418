package events

import (
	"context"
	"sync"
	"time"

	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/repositories"

	"gorm.io/gorm"
)

// Dispatcher переносит события из outbox в шину в порядке position
type Dispatcher struct {
	db        *gorm.DB
	repo      repositories.OutboxRepository
	bus       *Bus
	batchSize int
	lease     time.Duration

	mu      sync.Mutex
	running bool
	again   bool
}

// NewDispatcher: lease - сколько захваченное событие может ждать публикации,
// прежде чем другой проход заберет его заново (например, после падения процесса).
func NewDispatcher(db *gorm.DB, repo repositories.OutboxRepository, bus *Bus, batchSize int, lease time.Duration) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if lease <= 0 {
		lease = time.Minute
	}
	return &Dispatcher{db: db, repo: repo, bus: bus, batchSize: batchSize, lease: lease}
}

// Flush отправляет все неотправленные события. Вызов во время уже идущего
// Flush (в том числе из подписчика) не ждет: текущий проход повторится еще раз.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.again = true
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.mu.Unlock()

	// коммит уже случился, отмена запроса не должна останавливать доставку
	ctx = context.WithoutCancel(ctx)

	for {
		err := d.drain(ctx)

		d.mu.Lock()
		if err != nil || !d.again {
			d.running = false
			d.again = false
			d.mu.Unlock()
			return err
		}
		d.again = false
		d.mu.Unlock()
	}
}

func (d *Dispatcher) drain(ctx context.Context) error {
	db := d.db.WithContext(ctx)
	for {
		rows, err := d.repo.ListPending(db, d.staleBefore(), d.batchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		metrics.SetOutboxLag(time.Since(rows[0].CreatedAt))

		for _, row := range rows {
			if err := d.dispatch(ctx, db, row); err != nil {
				return err
			}
		}
		if len(rows) < d.batchSize {
			return nil
		}
	}
}

func (d *Dispatcher) staleBefore() time.Time {
	return models.NowUTC().Add(-d.lease)
}

func (d *Dispatcher) dispatch(ctx context.Context, db *gorm.DB, row models.OutboxEvent) error {
	claimed, err := d.repo.Claim(db, row.ID, models.NowUTC(), d.staleBefore())
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	e, err := FromRow(row)
	if err != nil {
		// повтор упадет так же, событие закрывается с ошибкой
		logger.CtxError(ctx, "Dropping undecodable outbox event", "event_id", row.ID, "error", err)
		return d.repo.MarkDispatched(db, row.ID, models.NowUTC(), err.Error())
	}

	evCtx := logger.WithEventID(ctx, e.ID)
	if err := d.bus.Publish(evCtx, e); err != nil {
		if ferr := d.repo.RecordFailure(db, row.ID, err.Error()); ferr != nil {
			logger.CtxError(evCtx, "Failed to return outbox event to queue", "error", ferr)
		}
		return err
	}
	if err := d.repo.MarkDispatched(db, row.ID, models.NowUTC(), ""); err != nil {
		// подписчики уже отработали; при повторе аренды их идемпотентность не даст дублей
		logger.CtxError(evCtx, "Failed to mark outbox event dispatched", "error", err)
		return err
	}
	metrics.RecordEventDispatched(string(e.Type))
	logger.CtxDebug(evCtx, "Event dispatched",
		"event_type", string(e.Type),
		"aggregate_id", e.AggregateID,
		"position", e.Position)
	return nil
}
