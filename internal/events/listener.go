package events

import (
	"context"
	"time"

	"trustwork_backend/internal/logger"

	"github.com/lib/pq"
)

// Flusher - то, что Listener дергает при уведомлении
type Flusher interface {
	Flush(ctx context.Context) error
}

// Listener слушает pg_notify('outbox_events') и запускает Flush,
// чтобы события, записанные другими экземплярами, уходили без ожидания cron.
type Listener struct {
	dsn     string
	flusher Flusher
}

func NewListener(dsn string, flusher Flusher) *Listener {
	return &Listener{dsn: dsn, flusher: flusher}
}

// Run блокируется до отмены ctx
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("Outbox listener connection event", "event", int(ev), "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(NotifyChannel); err != nil {
		return err
	}
	logger.Info("Outbox listener started", "channel", NotifyChannel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Outbox listener stopped")
			return nil
		case n := <-listener.Notify:
			// n == nil после переподключения: могли пропустить уведомления
			if n != nil {
				logger.Debug("Outbox notification", "event_id", n.Extra)
			}
			if err := l.flusher.Flush(ctx); err != nil {
				logger.WorkerLog("outbox_listener", "flush", err)
			}
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				logger.WorkerLog("outbox_listener", "ping", err)
			}
		}
	}
}
