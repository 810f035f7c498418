package workers

import (
	"time"

	"trustwork_backend/internal/config"
	"trustwork_backend/internal/services"

	"gorm.io/gorm"
)

// Register ставит все фоновые задачи в расписание из конфигурации
func Register(s *Scheduler, cfg *config.Config, db *gorm.DB, c *services.ServiceContainer) error {
	jobs := []struct {
		spec string
		job  Job
	}{
		{cfg.Payouts.Schedule, NewPayoutJob(db, c.PayoutService)},
		{cfg.Outbox.Schedule, NewOutboxJob(c.Dispatcher)},
		{cfg.Checkout.Schedule, NewCheckoutExpiryJob(db, c.EscrowService)},
		{cfg.Disputes.Schedule, NewDisputeEscalationJob(db, c.EscrowService)},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if err := s.Add(j.spec, j.job); err != nil {
			return err
		}
	}
	return nil
}

// DefaultTimeout - верхняя граница одного прохода
const DefaultTimeout = 2 * time.Minute
