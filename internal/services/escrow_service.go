package services

import (
	"context"
	"errors"
	"time"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/config"
	"trustwork_backend/internal/events"
	"trustwork_backend/internal/gateway"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/internal/services/dto"
	"trustwork_backend/pkg/apperrors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const tableEscrowPayments = "escrow_payments"

// sweepBatch - сколько строк обрабатывает один проход чистильщика
const sweepBatch = 100

// AuditRecorder - запись аудита вне транзакции команды
type AuditRecorder interface {
	Record(ctx context.Context, source, eventType, aggregateID, message string, payload []byte)
}

// EscrowSettings - комиссии и сроки эскроу
type EscrowSettings struct {
	Fees              FeeSchedule
	CheckoutTTL       time.Duration
	DisputeEscalation time.Duration
}

func EscrowSettingsFromConfig(cfg *config.Config) EscrowSettings {
	return EscrowSettings{
		Fees:              FeeScheduleFromConfig(cfg),
		CheckoutTTL:       time.Duration(cfg.Checkout.TTLMinutes) * time.Minute,
		DisputeEscalation: time.Duration(cfg.Disputes.EscalateAfterHours) * time.Hour,
	}
}

type EscrowService interface {
	CreateCheckout(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error)
	IngestCallback(ctx context.Context, db *gorm.DB, body []byte) (*models.EscrowPayment, error)
	Release(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string) (*models.EscrowPayment, error)
	ReleaseForMilestone(ctx context.Context, db *gorm.DB, milestoneID string) error
	Refund(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string) (*models.EscrowPayment, error)
	OpenDispute(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string, req *dto.OpenDisputeRequest) (*models.EscrowPayment, error)
	ResolveDispute(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string, req *dto.ResolveDisputeRequest) (*models.EscrowPayment, error)
	RetryPayout(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string) (*models.EscrowPayment, error)
	ListPayments(ctx context.Context, db *gorm.DB, p auth.Principal, q dto.PaymentListQuery) (*dto.Page[models.EscrowPayment], error)
	GetPayment(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string) (*models.EscrowPayment, error)
	ExpireCheckouts(ctx context.Context, db *gorm.DB) (int, error)
	EscalateDisputes(ctx context.Context, db *gorm.DB) (int, error)
}

type escrowService struct {
	escrowRepo    repositories.EscrowRepository
	gigRepo       repositories.GigRepository
	milestoneRepo repositories.MilestoneRepository
	bankRepo      repositories.BankAccountRepository
	processor     gateway.PaymentProcessor
	audit         AuditRecorder
	outbox        EventRecorder
	post          postCommit
	settings      EscrowSettings
}

func NewEscrowService(
	escrowRepo repositories.EscrowRepository,
	gigRepo repositories.GigRepository,
	milestoneRepo repositories.MilestoneRepository,
	bankRepo repositories.BankAccountRepository,
	processor gateway.PaymentProcessor,
	audit AuditRecorder,
	outbox EventRecorder,
	flusher EventFlusher,
	hub ChangePublisher,
	settings EscrowSettings,
) EscrowService {
	return &escrowService{
		escrowRepo:    escrowRepo,
		gigRepo:       gigRepo,
		milestoneRepo: milestoneRepo,
		bankRepo:      bankRepo,
		processor:     processor,
		audit:         audit,
		outbox:        outbox,
		post:          postCommit{flusher: flusher, hub: hub},
		settings:      settings,
	}
}

// RegisterEscrowSubscribers: одобренный этап освобождает удержанный под него платеж
func RegisterEscrowSubscribers(bus *events.Bus, db *gorm.DB, svc EscrowService) {
	bus.Subscribe("escrow.release_on_approval", func(ctx context.Context, e events.Event) error {
		return svc.ReleaseForMilestone(ctx, db, e.Payload.MilestoneID)
	}, events.MilestoneApproved)
}

func paymentPayload(pay *models.EscrowPayment) events.Payload {
	payload := events.Payload{
		PaymentID:   pay.ID,
		GigID:       pay.GigID,
		PayerID:     pay.PayerID,
		RecipientID: pay.RecipientID,
		ClientID:    pay.PayerID,
		Amount:      pay.Amount,
		Net:         pay.FreelancerNet,
		Status:      string(pay.Status),
	}
	if pay.MilestoneID != nil {
		payload.MilestoneID = *pay.MilestoneID
	}
	return payload
}

func gatewayError(err error) error {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return apperrors.GatewayError(err, gwErr.Retryable, gwErr.Detail)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(err)
	}
	return apperrors.GatewayError(err, true, err.Error())
}

// =======================
// Оплата
// =======================

func (s *escrowService) CreateCheckout(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}
	if !req.Agreed {
		return nil, apperrors.FieldError("agreed", "terms must be accepted")
	}
	if !req.Method.Valid() {
		return nil, apperrors.FieldError("method", "must be eft or cc")
	}

	db = db.WithContext(ctx)
	gig, err := s.gigRepo.FindVisible(db, p, req.GigID)
	if err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}
	if err := auth.RequireActor(&p, gig.ClientID); err != nil {
		return nil, err
	}
	if gig.Status != models.GigStatusOpen && gig.Status != models.GigStatusInProgress {
		return nil, apperrors.ErrConflict(nil, "gig", "Gig does not accept payments in its current status").
			WithDetails(map[string]string{"gig_status": string(gig.Status)})
	}
	if req.FreelancerID != gig.FreelancerID {
		return nil, apperrors.FieldError("freelancer_id", "must be the gig freelancer")
	}
	if req.ApplicationID != nil && (gig.ApplicationID == nil || *gig.ApplicationID != *req.ApplicationID) {
		return nil, apperrors.FieldError("application_id", "does not belong to the gig")
	}
	if req.MilestoneID != nil {
		m, err := s.milestoneRepo.FindByID(db, *req.MilestoneID)
		if err != nil || m.GigID != gig.ID {
			return nil, apperrors.FieldError("milestone_id", "does not belong to the gig")
		}
	}

	bank, err := s.bankRepo.FindByOwner(db, gig.FreelancerID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.InternalError(err)
	}
	if bank == nil || !bank.Verified {
		return nil, apperrors.FieldError("freelancer_id", "freelancer has no verified bank account")
	}

	fees := s.settings.Fees.Compute(req.GrossAmount, req.Method)
	paymentID := uuid.NewString()

	session, err := s.processor.CreateCheckout(ctx, gateway.CheckoutRequest{
		Reference:  paymentID,
		Amount:     fees.TotalCharge,
		ItemName:   gig.Title,
		BuyerEmail: req.BuyerEmail,
	})
	if err != nil {
		logger.CtxWithError(ctx, "Checkout creation failed", err, "gig_id", gig.ID)
		return nil, gatewayError(err)
	}

	pay := &models.EscrowPayment{
		BaseModel:     models.BaseModel{ID: paymentID},
		GigID:         gig.ID,
		MilestoneID:   req.MilestoneID,
		ApplicationID: req.ApplicationID,
		PayerID:       gig.ClientID,
		RecipientID:   gig.FreelancerID,
		Amount:        fees.Gross,
		PlatformFee:   fees.PlatformFee,
		PaymentMethod: req.Method,
		PaymentFee:    fees.PaymentFee,
		TotalCharge:   fees.TotalCharge,
		FreelancerNet: fees.FreelancerNet,
		Status:        models.PaymentStatusPending,
		GatewayRef:    &session.GatewayRef,
		CheckoutURL:   &session.RedirectURL,
	}
	if err := s.escrowRepo.Create(db, pay); err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}

	metrics.RecordTransition("payment", string(pay.Status))
	logger.CtxInfo(ctx, "Checkout created", "payment_id", pay.ID, "total_charge", pay.TotalCharge)
	s.post.run(ctx, changeOf(tableEscrowPayments, realtime.EventInsert, nil, pay, pay.PayerID, pay.RecipientID))
	return &dto.CheckoutResponse{Payment: pay, RedirectURL: session.RedirectURL}, nil
}

// IngestCallback применяет проверенный колбэк шлюза. Отказы пишутся в аудит.
func (s *escrowService) IngestCallback(ctx context.Context, db *gorm.DB, body []byte) (*models.EscrowPayment, error) {
	cb, err := s.processor.VerifyCallback(body)
	if err != nil {
		s.audit.Record(ctx, events.AuditSourceCallback, "callback", "", err.Error(), body)
		if errors.Is(err, gateway.ErrInvalidSignature) {
			logger.CtxWarn(ctx, "Callback signature mismatch")
			return nil, apperrors.ErrInvalidSignature
		}
		return nil, apperrors.NewBadRequestError("Malformed callback")
	}

	pay, changed, err := s.applyCallback(ctx, db, cb)
	if err != nil {
		s.audit.Record(ctx, events.AuditSourceCallback, cb.Status, cb.Reference, err.Error(), body)
		logger.CtxWarn(ctx, "Callback rejected", "reference", cb.Reference, "status", cb.Status, "error", err.Error())
		return nil, err
	}
	if changed != nil {
		s.post.run(ctx, *changed)
	}
	return pay, nil
}

func (s *escrowService) applyCallback(ctx context.Context, db *gorm.DB, cb *gateway.Callback) (*models.EscrowPayment, *rowChange, error) {
	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	pay, err := s.escrowRepo.FindByID(repositories.LockForUpdate(tx), cb.Reference)
	if err != nil {
		return nil, nil, repoError(err, "payment", "Payment not found")
	}
	if pay.GatewayRef != nil && cb.GatewayRef != "" && *pay.GatewayRef != cb.GatewayRef {
		return nil, nil, apperrors.FieldError("gatewayRef", "does not match the payment")
	}
	if cb.GrossAmount != pay.TotalCharge {
		return nil, nil, apperrors.FieldError("grossAmount", "does not match the payment total")
	}

	now := models.NowUTC()
	before := *pay
	fields := map[string]interface{}{}
	var ev *events.Event

	switch cb.Status {
	case gateway.CallbackPaid:
		if pay.CallbackOutcome != nil && *pay.CallbackOutcome == models.CallbackOutcomePaid {
			return pay, nil, nil
		}
		if pay.IsDiscarded() || pay.Status != models.PaymentStatusPending {
			from := string(pay.Status)
			if pay.CallbackOutcome != nil {
				from = *pay.CallbackOutcome
			}
			return nil, nil, apperrors.ErrIllegalTransition("payment", from, string(models.PaymentStatusHeld))
		}
		fields["status"] = models.PaymentStatusHeld
		fields["held_at"] = now
		fields["callback_outcome"] = models.CallbackOutcomePaid
		if pay.GatewayRef == nil && cb.GatewayRef != "" {
			fields["gateway_ref"] = cb.GatewayRef
		}
		held := *pay
		held.Status = models.PaymentStatusHeld
		e := events.New(events.PaymentHeld, events.AggregatePayment, pay.ID, paymentPayload(&held))
		ev = &e
	case gateway.CallbackFailed:
		if pay.IsDiscarded() {
			return pay, nil, nil
		}
		if pay.Status != models.PaymentStatusPending {
			return nil, nil, apperrors.ErrIllegalTransition("payment", string(pay.Status), models.CallbackOutcomeFailed)
		}
		fields["discarded_at"] = now
		fields["callback_outcome"] = models.CallbackOutcomeFailed
	default:
		return nil, nil, apperrors.FieldError("status", "must be paid or failed")
	}

	if err := s.escrowRepo.Update(tx, pay, fields); err != nil {
		return nil, nil, repoError(err, "payment", "Payment not found")
	}
	if ev != nil {
		if err := s.outbox.Record(tx, *ev); err != nil {
			return nil, nil, apperrors.InternalError(err)
		}
	}
	updated, err := s.escrowRepo.FindByID(tx, pay.ID)
	if err != nil {
		return nil, nil, repoError(err, "payment", "Payment not found")
	}

	if err := commitTx(tx); err != nil {
		return nil, nil, err
	}

	logger.TransitionLog("payment", pay.ID, string(before.Status), string(updated.Status))
	metrics.RecordTransition("payment", string(updated.Status))
	c := changeOf(tableEscrowPayments, realtime.EventUpdate, before, updated, pay.PayerID, pay.RecipientID)
	return updated, &c, nil
}

// =======================
// Освобождение
// =======================

func (s *escrowService) Release(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string) (*models.EscrowPayment, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pay, err := s.escrowRepo.FindVisible(repositories.LockForUpdate(tx), p, paymentID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}
	if err := auth.RequireActor(&p, pay.PayerID); err != nil {
		return nil, err
	}

	return s.releaseAndCommit(ctx, tx, pay)
}

// ReleaseForMilestone - путь подписчика MilestoneApproved. Без удержанного платежа ничего не делает.
func (s *escrowService) ReleaseForMilestone(ctx context.Context, db *gorm.DB, milestoneID string) error {
	if milestoneID == "" {
		return nil
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pay, err := s.escrowRepo.FindHeldForMilestone(repositories.LockForUpdate(tx), milestoneID)
	if errors.Is(err, repositories.ErrNotFound) {
		logger.CtxDebug(ctx, "No held payment for approved milestone", "milestone_id", milestoneID)
		return nil
	}
	if err != nil {
		return apperrors.InternalError(err)
	}

	_, err = s.releaseAndCommit(ctx, tx, pay)
	return err
}

// releaseAndCommit: held -> released, выплата ставится в очередь, этап помечается оплаченным
func (s *escrowService) releaseAndCommit(ctx context.Context, tx *gorm.DB, pay *models.EscrowPayment) (*models.EscrowPayment, error) {
	if pay.Status == models.PaymentStatusReleased {
		return pay, nil
	}
	if pay.Status != models.PaymentStatusHeld {
		return nil, apperrors.ErrIllegalTransition("payment", string(pay.Status), string(models.PaymentStatusReleased))
	}

	before := *pay
	changes, err := s.release(tx, pay)
	if err != nil {
		return nil, err
	}
	updated, err := s.escrowRepo.FindByID(tx, pay.ID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("payment", pay.ID, string(before.Status), string(updated.Status))
	metrics.RecordTransition("payment", string(updated.Status))
	changes = append(changes, changeOf(tableEscrowPayments, realtime.EventUpdate, before, updated, pay.PayerID, pay.RecipientID))
	s.post.run(ctx, changes...)
	return updated, nil
}

// release пишет переход и событие в транзакции вызывающего
func (s *escrowService) release(tx *gorm.DB, pay *models.EscrowPayment) ([]rowChange, error) {
	if err := s.escrowRepo.Update(tx, pay, map[string]interface{}{
		"status":                 models.PaymentStatusReleased,
		"released_at":            models.NowUTC(),
		"payout_status":          models.PayoutStatusPending,
		"payout_attempts":        0,
		"next_payout_attempt_at": nil,
	}); err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}

	var changes []rowChange
	if pay.MilestoneID != nil {
		m, err := s.milestoneRepo.FindByID(tx, *pay.MilestoneID)
		if err != nil {
			return nil, repoError(err, "milestone", "Milestone not found")
		}
		if !m.PaymentReleased {
			before := *m
			if err := s.milestoneRepo.Update(tx, m, map[string]interface{}{"payment_released": true}); err != nil {
				return nil, repoError(err, "milestone", "Milestone not found")
			}
			after := *m
			after.PaymentReleased = true
			changes = append(changes, changeOf(tableMilestones, realtime.EventUpdate, before, after, pay.PayerID, pay.RecipientID))
		}
	}

	released := *pay
	released.Status = models.PaymentStatusReleased
	if err := s.outbox.Record(tx, events.New(events.PaymentReleased, events.AggregatePayment, pay.ID, paymentPayload(&released))); err != nil {
		return nil, apperrors.InternalError(err)
	}
	return changes, nil
}

// =======================
// Возврат
// =======================

func (s *escrowService) Refund(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string) (*models.EscrowPayment, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pay, err := s.escrowRepo.FindVisible(repositories.LockForUpdate(tx), p, paymentID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}
	if err := auth.RequireActor(&p, pay.PayerID); err != nil {
		return nil, err
	}
	if pay.Status == models.PaymentStatusRefunded {
		return pay, nil
	}
	if pay.Status != models.PaymentStatusHeld {
		return nil, apperrors.ErrIllegalTransition("payment", string(pay.Status), string(models.PaymentStatusRefunded))
	}

	before := *pay
	if err := s.refund(tx, pay); err != nil {
		return nil, err
	}
	updated, err := s.escrowRepo.FindByID(tx, pay.ID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("payment", pay.ID, string(before.Status), string(updated.Status))
	metrics.RecordTransition("payment", string(updated.Status))
	s.post.run(ctx, changeOf(tableEscrowPayments, realtime.EventUpdate, before, updated, pay.PayerID, pay.RecipientID))
	s.refundAtGateway(ctx, updated)
	return updated, nil
}

func (s *escrowService) refund(tx *gorm.DB, pay *models.EscrowPayment) error {
	if err := s.escrowRepo.Update(tx, pay, map[string]interface{}{
		"status":      models.PaymentStatusRefunded,
		"refunded_at": models.NowUTC(),
	}); err != nil {
		return repoError(err, "payment", "Payment not found")
	}
	refunded := *pay
	refunded.Status = models.PaymentStatusRefunded
	if err := s.outbox.Record(tx, events.New(events.PaymentRefunded, events.AggregatePayment, pay.ID, paymentPayload(&refunded))); err != nil {
		return apperrors.InternalError(err)
	}
	return nil
}

// refundAtGateway - после коммита: одна попытка и один повтор на временной ошибке.
// Окончательный сбой пишется в аудит, статус платежа уже refunded.
func (s *escrowService) refundAtGateway(ctx context.Context, pay *models.EscrowPayment) {
	ctx = context.WithoutCancel(ctx)
	if pay.GatewayRef == nil {
		logger.CtxWarn(ctx, "Refund skipped at gateway: no gateway reference", "payment_id", pay.ID)
		return
	}
	req := gateway.RefundRequest{GatewayRef: *pay.GatewayRef, Amount: pay.TotalCharge, Reference: pay.ID}

	err := s.processor.RefundPayment(ctx, req)
	if err != nil && gateway.IsRetryable(err) {
		err = s.processor.RefundPayment(ctx, req)
	}
	if err != nil {
		logger.CtxWithError(ctx, "Gateway refund failed", err, "payment_id", pay.ID)
		s.audit.Record(ctx, events.AuditSourceGateway, string(events.PaymentRefunded), pay.ID, err.Error(), nil)
	}
}

// =======================
// Споры
// =======================

func (s *escrowService) OpenDispute(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string, req *dto.OpenDisputeRequest) (*models.EscrowPayment, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pay, err := s.escrowRepo.FindVisible(repositories.LockForUpdate(tx), p, paymentID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}
	if p.UserID != pay.PayerID && p.UserID != pay.RecipientID {
		return nil, apperrors.ErrNotOwner
	}
	if pay.Status == models.PaymentStatusDisputed {
		return pay, nil
	}
	if pay.Status != models.PaymentStatusHeld {
		return nil, apperrors.ErrIllegalTransition("payment", string(pay.Status), string(models.PaymentStatusDisputed))
	}

	gig, err := s.gigRepo.FindByIDForUpdate(tx, pay.GigID)
	if err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}

	before := *pay
	if err := s.escrowRepo.Update(tx, pay, map[string]interface{}{
		"status":      models.PaymentStatusDisputed,
		"disputed_at": models.NowUTC(),
	}); err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}

	gigBefore := *gig
	var gigChange *rowChange
	if gig.Status != models.GigStatusDisputed {
		if err := s.gigRepo.Update(tx, gig, map[string]interface{}{"status": models.GigStatusDisputed}); err != nil {
			return nil, repoError(err, "gig", "Gig not found")
		}
		gig.Status = models.GigStatusDisputed
		c := changeOf(tableGigs, realtime.EventUpdate, gigBefore, gig, gig.ClientID, gig.FreelancerID)
		gigChange = &c
	}

	disputed := *pay
	disputed.Status = models.PaymentStatusDisputed
	payload := paymentPayload(&disputed)
	payload.Reason = req.Reason
	payload.SubjectID = p.UserID
	if err := s.outbox.Record(tx, events.New(events.DisputeOpened, events.AggregatePayment, pay.ID, payload)); err != nil {
		return nil, apperrors.InternalError(err)
	}
	updated, err := s.escrowRepo.FindByID(tx, pay.ID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("payment", pay.ID, string(before.Status), string(updated.Status))
	metrics.RecordTransition("payment", string(updated.Status))
	changes := []rowChange{changeOf(tableEscrowPayments, realtime.EventUpdate, before, updated, pay.PayerID, pay.RecipientID)}
	if gigChange != nil {
		logger.TransitionLog("gig", gig.ID, string(gigBefore.Status), string(gig.Status))
		changes = append(changes, *gigChange)
	}
	s.post.run(ctx, changes...)
	return updated, nil
}

// ResolveDispute - только админ. После последнего спора гиг возвращается
// в работу (release) или отменяется (refund).
func (s *escrowService) ResolveDispute(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string, req *dto.ResolveDisputeRequest) (*models.EscrowPayment, error) {
	if err := auth.RequireRole(&p, models.RoleAdmin); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pay, err := s.escrowRepo.FindByID(repositories.LockForUpdate(tx), paymentID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}
	target := models.PaymentStatusReleased
	if req.Resolution == dto.ResolutionRefund {
		target = models.PaymentStatusRefunded
	}
	if pay.Status != models.PaymentStatusDisputed {
		return nil, apperrors.ErrIllegalTransition("payment", string(pay.Status), string(target))
	}

	gig, err := s.gigRepo.FindByIDForUpdate(tx, pay.GigID)
	if err != nil {
		return nil, repoError(err, "gig", "Gig not found")
	}

	before := *pay
	var changes []rowChange
	switch req.Resolution {
	case dto.ResolutionRelease:
		if changes, err = s.release(tx, pay); err != nil {
			return nil, err
		}
	case dto.ResolutionRefund:
		if err := s.refund(tx, pay); err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.FieldError("resolution", "must be release or refund")
	}

	payload := paymentPayload(pay)
	payload.Status = string(target)
	payload.Resolution = string(req.Resolution)
	if req.Note != nil {
		payload.Message = *req.Note
	}
	if err := s.outbox.Record(tx, events.New(events.DisputeResolved, events.AggregatePayment, pay.ID, payload)); err != nil {
		return nil, apperrors.InternalError(err)
	}

	if gig.Status == models.GigStatusDisputed {
		status := models.PaymentStatusDisputed
		_, open, err := s.escrowRepo.ListVisible(tx, p, repositories.PaymentFilter{GigID: gig.ID, Status: &status})
		if err != nil {
			return nil, apperrors.InternalError(err)
		}
		if open == 0 {
			next := models.GigStatusInProgress
			if req.Resolution == dto.ResolutionRefund {
				next = models.GigStatusCancelled
			}
			gigBefore := *gig
			if err := s.gigRepo.Update(tx, gig, map[string]interface{}{"status": next}); err != nil {
				return nil, repoError(err, "gig", "Gig not found")
			}
			gig.Status = next
			logger.TransitionLog("gig", gig.ID, string(gigBefore.Status), string(next))
			changes = append(changes, changeOf(tableGigs, realtime.EventUpdate, gigBefore, gig, gig.ClientID, gig.FreelancerID))
		}
	}

	updated, err := s.escrowRepo.FindByID(tx, pay.ID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("payment", pay.ID, string(before.Status), string(updated.Status))
	metrics.RecordTransition("payment", string(updated.Status))
	changes = append(changes, changeOf(tableEscrowPayments, realtime.EventUpdate, before, updated, pay.PayerID, pay.RecipientID))
	s.post.run(ctx, changes...)
	if updated.Status == models.PaymentStatusRefunded {
		s.refundAtGateway(ctx, updated)
	}
	return updated, nil
}

// RetryPayout - админ возвращает неуспешную выплату в очередь
func (s *escrowService) RetryPayout(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string) (*models.EscrowPayment, error) {
	if err := auth.RequireRole(&p, models.RoleAdmin); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pay, err := s.escrowRepo.FindByID(repositories.LockForUpdate(tx), paymentID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}
	if pay.Status != models.PaymentStatusReleased || !pay.PayoutIs(models.PayoutStatusFailed) {
		from := string(pay.Status)
		if pay.PayoutStatus != nil {
			from = string(*pay.PayoutStatus)
		}
		return nil, apperrors.ErrIllegalTransition("payout", from, string(models.PayoutStatusPending))
	}

	before := *pay
	if err := s.escrowRepo.Update(tx, pay, map[string]interface{}{
		"payout_status":          models.PayoutStatusPending,
		"payout_attempts":        0,
		"next_payout_attempt_at": nil,
		"payout_error":           nil,
		"payout_ref":             nil,
	}); err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}
	updated, err := s.escrowRepo.FindByID(tx, pay.ID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("payout", pay.ID, string(models.PayoutStatusFailed), string(models.PayoutStatusPending))
	s.post.run(ctx, changeOf(tableEscrowPayments, realtime.EventUpdate, before, updated, pay.PayerID, pay.RecipientID))
	return updated, nil
}

// =======================
// Чтение
// =======================

func (s *escrowService) ListPayments(ctx context.Context, db *gorm.DB, p auth.Principal, q dto.PaymentListQuery) (*dto.Page[models.EscrowPayment], error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}
	list, total, err := s.escrowRepo.ListVisible(db.WithContext(ctx), p, repositories.PaymentFilter{
		GigID:      q.GigID,
		Status:     q.Status,
		Pagination: repositories.Pagination{Page: q.Page, PageSize: q.PageSize},
	})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	return dto.NewPage(list, total, q.PageQuery), nil
}

func (s *escrowService) GetPayment(ctx context.Context, db *gorm.DB, p auth.Principal, paymentID string) (*models.EscrowPayment, error) {
	pay, err := s.escrowRepo.FindVisible(db.WithContext(ctx), p, paymentID)
	if err != nil {
		return nil, repoError(err, "payment", "Payment not found")
	}
	return pay, nil
}

// =======================
// Чистильщики
// =======================

// ExpireCheckouts отбрасывает платежи без колбэка старше TTL оплаты
func (s *escrowService) ExpireCheckouts(ctx context.Context, db *gorm.DB) (int, error) {
	cutoff := models.NowUTC().Add(-s.settings.CheckoutTTL)
	stale, err := s.escrowRepo.ListStalePending(db.WithContext(ctx), cutoff, sweepBatch)
	if err != nil {
		return 0, apperrors.InternalError(err)
	}

	expired := 0
	for i := range stale {
		pay := &stale[i]
		before := *pay
		err := s.escrowRepo.Update(db.WithContext(ctx), pay, map[string]interface{}{
			"discarded_at":     models.NowUTC(),
			"callback_outcome": models.CallbackOutcomeExpired,
		})
		if errors.Is(err, repositories.ErrVersionConflict) {
			// колбэк успел раньше
			continue
		}
		if err != nil {
			return expired, apperrors.InternalError(err)
		}
		expired++
		after := *pay
		after.CallbackOutcome = ptr(models.CallbackOutcomeExpired)
		s.post.run(ctx, changeOf(tableEscrowPayments, realtime.EventUpdate, before, after, pay.PayerID, pay.RecipientID))
	}
	if expired > 0 {
		logger.CtxInfo(ctx, "Checkouts expired", "count", expired)
	}
	return expired, nil
}

// EscalateDisputes один раз поднимает долгие споры админам
func (s *escrowService) EscalateDisputes(ctx context.Context, db *gorm.DB) (int, error) {
	cutoff := models.NowUTC().Add(-s.settings.DisputeEscalation)
	stale, err := s.escrowRepo.ListStaleDisputes(db.WithContext(ctx), cutoff, sweepBatch)
	if err != nil {
		return 0, apperrors.InternalError(err)
	}

	escalated := 0
	for i := range stale {
		ok, err := s.escalate(ctx, db, &stale[i])
		if err != nil {
			return escalated, err
		}
		if ok {
			escalated++
		}
	}
	if escalated > 0 {
		logger.CtxInfo(ctx, "Disputes escalated", "count", escalated)
		s.post.run(ctx)
	}
	return escalated, nil
}

func (s *escrowService) escalate(ctx context.Context, db *gorm.DB, pay *models.EscrowPayment) (bool, error) {
	tx, err := beginTx(ctx, db)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	err = s.escrowRepo.Update(tx, pay, map[string]interface{}{"escalated_at": models.NowUTC()})
	if errors.Is(err, repositories.ErrVersionConflict) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.InternalError(err)
	}
	if err := s.outbox.Record(tx, events.New(events.DisputeEscalated, events.AggregatePayment, pay.ID, paymentPayload(pay))); err != nil {
		return false, apperrors.InternalError(err)
	}
	if err := commitTx(tx); err != nil {
		return false, err
	}
	return true, nil
}
