package services

import (
	"context"
	"errors"
	"time"

	"trustwork_backend/internal/events"
	"trustwork_backend/internal/gateway"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/pkg/apperrors"

	"gorm.io/gorm"
)

// PayoutReport - итог одного тика воркера выплат
type PayoutReport struct {
	Started   int
	Completed int
	Failed    int
	Retried   int
	Waiting   int
}

// BackoffFunc - задержка перед попыткой номер attempt (с 1)
type BackoffFunc func(attempt int) time.Duration

type PayoutService interface {
	ProcessPayouts(ctx context.Context, db *gorm.DB) (PayoutReport, error)
}

type payoutService struct {
	escrowRepo repositories.EscrowRepository
	bankRepo   repositories.BankAccountRepository
	processor  gateway.PaymentProcessor
	outbox     EventRecorder
	post       postCommit
	backoff    BackoffFunc
	batchSize  int
	now        func() time.Time
}

func NewPayoutService(
	escrowRepo repositories.EscrowRepository,
	bankRepo repositories.BankAccountRepository,
	processor gateway.PaymentProcessor,
	outbox EventRecorder,
	flusher EventFlusher,
	hub ChangePublisher,
	backoff BackoffFunc,
	batchSize int,
) PayoutService {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &payoutService{
		escrowRepo: escrowRepo,
		bankRepo:   bankRepo,
		processor:  processor,
		outbox:     outbox,
		post:       postCommit{flusher: flusher, hub: hub},
		backoff:    backoff,
		batchSize:  batchSize,
		now:        models.NowUTC,
	}
}

// payoutUpdate - результат обращения к шлюзу, применяемый к строке платежа
type payoutUpdate struct {
	fields map[string]interface{}
	event  *events.Event
	result string
}

// ProcessPayouts: сначала запускает ожидающие выплаты, затем опрашивает идущие
func (s *payoutService) ProcessPayouts(ctx context.Context, db *gorm.DB) (PayoutReport, error) {
	var report PayoutReport
	db = db.WithContext(ctx)

	pending, err := s.escrowRepo.ListByPayoutStatus(db, models.PayoutStatusPending, s.batchSize)
	if err != nil {
		return report, apperrors.InternalError(err)
	}
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.startPayout(ctx, db, &pending[i], &report)
	}

	processing, err := s.escrowRepo.ListByPayoutStatus(db, models.PayoutStatusProcessing, s.batchSize)
	if err != nil {
		return report, apperrors.InternalError(err)
	}
	for i := range processing {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.advancePayout(ctx, db, &processing[i], &report)
	}

	s.post.run(ctx)
	return report, nil
}

// startPayout: pending -> processing и первый вызов шлюза.
// Без верифицированных реквизитов строка ждет следующего тика.
func (s *payoutService) startPayout(ctx context.Context, db *gorm.DB, pay *models.EscrowPayment, report *PayoutReport) {
	now := s.now()
	if !pay.PayoutDue(now) {
		return
	}
	bank, ok := s.verifiedBank(ctx, db, pay)
	if !ok {
		report.Waiting++
		return
	}

	before := *pay
	err := s.escrowRepo.Update(db, pay, map[string]interface{}{
		"payout_status":     models.PayoutStatusProcessing,
		"payout_started_at": now,
	})
	if err != nil {
		if !errors.Is(err, repositories.ErrVersionConflict) {
			logger.WorkerLog("payouts", "claim", err, "payment_id", pay.ID)
		}
		return
	}
	pay.PayoutStatus = ptr(models.PayoutStatusProcessing)
	pay.PayoutStartedAt = &now
	logger.TransitionLog("payout", pay.ID, string(models.PayoutStatusPending), string(models.PayoutStatusProcessing))
	report.Started++

	s.apply(ctx, db, before, pay, s.execute(ctx, pay, bank), report)
}

// advancePayout: повтор запуска без payoutRef либо опрос статуса
func (s *payoutService) advancePayout(ctx context.Context, db *gorm.DB, pay *models.EscrowPayment, report *PayoutReport) {
	if !pay.PayoutDue(s.now()) {
		return
	}
	before := *pay

	if pay.PayoutRef == nil {
		bank, ok := s.verifiedBank(ctx, db, pay)
		if !ok {
			report.Waiting++
			return
		}
		s.apply(ctx, db, before, pay, s.execute(ctx, pay, bank), report)
		return
	}

	s.apply(ctx, db, before, pay, s.query(ctx, pay), report)
}

func (s *payoutService) verifiedBank(ctx context.Context, db *gorm.DB, pay *models.EscrowPayment) (*models.BankAccount, bool) {
	bank, err := s.bankRepo.FindByOwner(db, pay.RecipientID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			logger.WorkerLog("payouts", "bank_lookup", err, "payment_id", pay.ID)
		}
		return nil, false
	}
	if !bank.Verified {
		logger.CtxDebug(ctx, "Payout waits for verified bank account", "payment_id", pay.ID)
		return nil, false
	}
	return bank, true
}

func (s *payoutService) execute(ctx context.Context, pay *models.EscrowPayment, bank *models.BankAccount) payoutUpdate {
	res, err := s.processor.ExecutePayout(ctx, gateway.PayoutRequest{
		Bank: gateway.BankDetails{
			BankName:      bank.BankName,
			AccountNumber: bank.AccountNumber,
			AccountHolder: bank.AccountHolder,
		},
		Amount:    pay.FreelancerNet,
		Reference: pay.ID,
	})
	switch {
	case err != nil && gateway.IsRetryable(err):
		return s.retryLater(pay, err.Error())
	case err != nil:
		return s.fail(pay, err.Error())
	case res.State == gateway.PayoutRejected:
		reason := res.Error
		if reason == "" {
			reason = "payout rejected"
		}
		return s.fail(pay, reason)
	}
	return payoutUpdate{
		fields: map[string]interface{}{
			"payout_ref":             res.PayoutRef,
			"next_payout_attempt_at": nil,
			"payout_error":           nil,
		},
		result: "accepted",
	}
}

func (s *payoutService) query(ctx context.Context, pay *models.EscrowPayment) payoutUpdate {
	st, err := s.processor.QueryPayout(ctx, *pay.PayoutRef)
	if err != nil {
		// неудачный опрос не значит неудачную выплату
		return s.retryLater(pay, err.Error())
	}
	switch st.State {
	case gateway.PayoutCompleted:
		now := s.now()
		done := *pay
		done.PayoutStatus = ptr(models.PayoutStatusCompleted)
		ev := events.New(events.PayoutCompleted, events.AggregatePayment, pay.ID, payoutPayload(&done))
		return payoutUpdate{
			fields: map[string]interface{}{
				"payout_status":          models.PayoutStatusCompleted,
				"payout_completed_at":    now,
				"next_payout_attempt_at": nil,
				"payout_error":           nil,
			},
			event:  &ev,
			result: "completed",
		}
	case gateway.PayoutFailed:
		reason := st.Error
		if reason == "" {
			reason = "payout failed"
		}
		return s.fail(pay, reason)
	}
	return s.retryLater(pay, "")
}

func (s *payoutService) retryLater(pay *models.EscrowPayment, reason string) payoutUpdate {
	attempts := pay.PayoutAttempts + 1
	fields := map[string]interface{}{
		"payout_attempts":        attempts,
		"next_payout_attempt_at": s.now().Add(s.backoff(attempts)),
	}
	if reason != "" {
		fields["payout_error"] = reason
	}
	return payoutUpdate{fields: fields, result: "retry"}
}

func (s *payoutService) fail(pay *models.EscrowPayment, reason string) payoutUpdate {
	failed := *pay
	failed.PayoutStatus = ptr(models.PayoutStatusFailed)
	payload := payoutPayload(&failed)
	payload.Reason = reason
	ev := events.New(events.PayoutFailed, events.AggregatePayment, pay.ID, payload)
	return payoutUpdate{
		fields: map[string]interface{}{
			"payout_status":          models.PayoutStatusFailed,
			"payout_error":           reason,
			"next_payout_attempt_at": nil,
		},
		event:  &ev,
		result: "failed",
	}
}

func payoutPayload(pay *models.EscrowPayment) events.Payload {
	payload := paymentPayload(pay)
	if pay.PayoutRef != nil {
		payload.PayoutRef = *pay.PayoutRef
	}
	if pay.PayoutStatus != nil {
		payload.Status = string(*pay.PayoutStatus)
	}
	return payload
}

// apply пишет результат вместе с событием. Проигранная гонка версий
// оставляет строку следующему тику.
func (s *payoutService) apply(ctx context.Context, db *gorm.DB, before models.EscrowPayment, pay *models.EscrowPayment, upd payoutUpdate, report *PayoutReport) {
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := s.escrowRepo.Update(tx, pay, upd.fields); err != nil {
			return err
		}
		if upd.event != nil {
			return s.outbox.Record(tx, *upd.event)
		}
		return nil
	})
	if err != nil {
		logger.WorkerLog("payouts", upd.result, err, "payment_id", pay.ID)
		return
	}

	metrics.RecordPayout(upd.result)
	switch upd.result {
	case "completed":
		report.Completed++
		logger.TransitionLog("payout", pay.ID, string(models.PayoutStatusProcessing), string(models.PayoutStatusCompleted))
	case "failed":
		report.Failed++
		logger.TransitionLog("payout", pay.ID, string(models.PayoutStatusProcessing), string(models.PayoutStatusFailed))
	case "retry":
		report.Retried++
	}

	updated, err := s.escrowRepo.FindByID(db, pay.ID)
	if err != nil {
		logger.WorkerLog("payouts", "reload", err, "payment_id", pay.ID)
		return
	}
	*pay = *updated
	s.post.run(ctx, changeOf(tableEscrowPayments, realtime.EventUpdate, before, updated, pay.PayerID, pay.RecipientID))
}
