package workers

import (
	"context"

	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/services"

	"gorm.io/gorm"
)

// PayoutJob продвигает выплаты освобожденных платежей
type PayoutJob struct {
	db  *gorm.DB
	svc services.PayoutService
}

func NewPayoutJob(db *gorm.DB, svc services.PayoutService) *PayoutJob {
	return &PayoutJob{db: db, svc: svc}
}

func (j *PayoutJob) Name() string { return "payouts" }

func (j *PayoutJob) Run(ctx context.Context) error {
	report, err := j.svc.ProcessPayouts(ctx, j.db)
	if report != (services.PayoutReport{}) {
		logger.Info("Payout tick",
			"started", report.Started,
			"completed", report.Completed,
			"failed", report.Failed,
			"retried", report.Retried,
			"waiting", report.Waiting,
		)
	}
	return err
}

// OutboxJob досылает события, которые не ушли сразу после коммита
type OutboxJob struct {
	flusher services.EventFlusher
}

func NewOutboxJob(flusher services.EventFlusher) *OutboxJob {
	return &OutboxJob{flusher: flusher}
}

func (j *OutboxJob) Name() string { return "outbox" }

func (j *OutboxJob) Run(ctx context.Context) error {
	return j.flusher.Flush(ctx)
}

// CheckoutExpiryJob отбрасывает checkout без колбэка дольше TTL
type CheckoutExpiryJob struct {
	db     *gorm.DB
	escrow services.EscrowService
}

func NewCheckoutExpiryJob(db *gorm.DB, escrow services.EscrowService) *CheckoutExpiryJob {
	return &CheckoutExpiryJob{db: db, escrow: escrow}
}

func (j *CheckoutExpiryJob) Name() string { return "checkout_expiry" }

func (j *CheckoutExpiryJob) Run(ctx context.Context) error {
	_, err := j.escrow.ExpireCheckouts(ctx, j.db)
	return err
}

// DisputeEscalationJob поднимает долгие споры админам
type DisputeEscalationJob struct {
	db     *gorm.DB
	escrow services.EscrowService
}

func NewDisputeEscalationJob(db *gorm.DB, escrow services.EscrowService) *DisputeEscalationJob {
	return &DisputeEscalationJob{db: db, escrow: escrow}
}

func (j *DisputeEscalationJob) Name() string { return "dispute_escalation" }

func (j *DisputeEscalationJob) Run(ctx context.Context) error {
	n, err := j.escrow.EscalateDisputes(ctx, j.db)
	if n > 0 {
		logger.Info("Disputes escalated", "count", n)
	}
	return err
}

// FuncJob - задача из функции, для мелкого обслуживания
type FuncJob struct {
	name string
	fn   func(ctx context.Context) error
}

func NewFuncJob(name string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{name: name, fn: fn}
}

func (j *FuncJob) Name() string { return j.name }

func (j *FuncJob) Run(ctx context.Context) error { return j.fn(ctx) }
