package services

import (
	"context"
	"strings"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/email"
	"trustwork_backend/internal/events"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/internal/services/dto"
	"trustwork_backend/pkg/apperrors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const tableNotifications = "notifications"

type NotificationService interface {
	Deliver(ctx context.Context, db *gorm.DB, e events.Event) error
	List(ctx context.Context, db *gorm.DB, p auth.Principal, q dto.NotificationListQuery) (*dto.Page[models.Notification], error)
	UnreadCount(ctx context.Context, db *gorm.DB, p auth.Principal) (int64, error)
	MarkRead(ctx context.Context, db *gorm.DB, p auth.Principal, notificationID string) (*models.Notification, error)
	MarkAllRead(ctx context.Context, db *gorm.DB, p auth.Principal) (int, error)
	Delete(ctx context.Context, db *gorm.DB, p auth.Principal, notificationID string) error
	FlagSafety(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.SafetyFlagRequest) error
}

type notificationService struct {
	notificationRepo repositories.NotificationRepository
	profileRepo      repositories.ProfileRepository
	mailer           email.Provider
	outbox           EventRecorder
	post             postCommit
	publicURL        string
	printer          *message.Printer
}

func NewNotificationService(
	notificationRepo repositories.NotificationRepository,
	profileRepo repositories.ProfileRepository,
	mailer email.Provider,
	outbox EventRecorder,
	flusher EventFlusher,
	hub ChangePublisher,
	publicURL string,
) NotificationService {
	return &notificationService{
		notificationRepo: notificationRepo,
		profileRepo:      profileRepo,
		mailer:           mailer,
		outbox:           outbox,
		post:             postCommit{flusher: flusher, hub: hub},
		publicURL:        strings.TrimRight(publicURL, "/"),
		printer:          message.NewPrinter(language.English),
	}
}

// notificationTypes - события, на которые подписан сервис уведомлений
var notificationTypes = []events.Type{
	events.ApplicationSubmitted,
	events.ApplicationShortlisted,
	events.ApplicationAccepted,
	events.ApplicationRejected,
	events.ApplicationWithdrawn,
	events.MilestoneSubmitted,
	events.MilestoneApproved,
	events.PaymentHeld,
	events.PaymentReleased,
	events.PaymentRefunded,
	events.PayoutCompleted,
	events.PayoutFailed,
	events.DisputeEscalated,
	events.SafetyFlag,
}

// RegisterNotificationSubscribers подписывает сервис на шину
func RegisterNotificationSubscribers(bus *events.Bus, db *gorm.DB, svc NotificationService) {
	bus.Subscribe("notifications", func(ctx context.Context, e events.Event) error {
		return svc.Deliver(ctx, db, e)
	}, notificationTypes...)
}

// draft - уведомление до вставки
type draft struct {
	recipients []string
	typ        models.NotificationType
	priority   models.NotificationPriority
	title      string
	message    string
	actionPath string
}

// rands форматирует центы как ZAR с разделителями разрядов
func (s *notificationService) rands(cents int64) string {
	return s.printer.Sprintf("R %.2f", float64(cents)/100)
}

// compose переводит событие в уведомление. ok=false для событий без получателя.
func (s *notificationService) compose(ctx context.Context, db *gorm.DB, e events.Event) (draft, bool, error) {
	p := e.Payload
	d := draft{typ: models.NotificationTypeApplication, priority: models.PriorityMedium}

	switch e.Type {
	case events.ApplicationSubmitted:
		d.recipients = []string{p.EmployerID}
		d.title = "New application"
		d.message = "A freelancer applied to \"" + p.AssignmentTitle + "\""
		d.actionPath = "/assignments/" + p.AssignmentID + "/applications"
	case events.ApplicationShortlisted:
		d.recipients = []string{p.FreelancerID}
		d.title = "You have been shortlisted"
		d.message = "Your application for \"" + p.AssignmentTitle + "\" was shortlisted"
		d.actionPath = "/applications/" + p.ApplicationID
	case events.ApplicationAccepted:
		d.recipients = []string{p.FreelancerID}
		d.title = "Application accepted"
		d.message = "Your application for \"" + p.AssignmentTitle + "\" was accepted"
		d.actionPath = "/gigs/" + p.GigID
	case events.ApplicationRejected:
		d.recipients = []string{p.FreelancerID}
		d.title = "Application declined"
		d.message = "Your application for \"" + p.AssignmentTitle + "\" was declined"
		if p.Message != "" {
			d.message += ": " + p.Message
		} else if p.Reason != "" {
			d.message += ": " + p.Reason
		}
		d.actionPath = "/applications/" + p.ApplicationID
	case events.ApplicationWithdrawn:
		d.recipients = []string{p.EmployerID}
		d.title = "Application withdrawn"
		d.message = "A freelancer withdrew their application to \"" + p.AssignmentTitle + "\""
		d.actionPath = "/assignments/" + p.AssignmentID + "/applications"

	case events.MilestoneSubmitted:
		d.recipients = []string{p.ClientID}
		d.typ = models.NotificationTypePayment
		d.title = "Milestone submitted"
		d.message = s.printer.Sprintf("Milestone %d of \"%s\" is ready for review", p.Ordinal, p.GigTitle)
		d.actionPath = "/gigs/" + p.GigID
	case events.MilestoneApproved:
		d.recipients = []string{p.FreelancerID}
		d.typ = models.NotificationTypePayment
		d.priority = models.PriorityHigh
		d.title = "Milestone approved"
		d.message = s.printer.Sprintf("Milestone %d of \"%s\" was approved (%s)", p.Ordinal, p.GigTitle, s.rands(p.Amount))
		d.actionPath = "/gigs/" + p.GigID

	case events.PaymentHeld:
		d.recipients = []string{p.RecipientID}
		d.typ = models.NotificationTypePayment
		d.title = "Payment secured in escrow"
		d.message = s.rands(p.Amount) + " is held in escrow for your work"
		d.actionPath = "/payments/" + p.PaymentID
	case events.PaymentReleased:
		d.recipients = []string{p.RecipientID}
		d.typ = models.NotificationTypePayment
		d.priority = models.PriorityHigh
		d.title = "Payment released"
		d.message = s.rands(p.Net) + " was released to you and is on its way to your bank"
		d.actionPath = "/payments/" + p.PaymentID
	case events.PaymentRefunded:
		d.recipients = []string{p.PayerID}
		d.typ = models.NotificationTypePayment
		d.title = "Payment refunded"
		d.message = s.rands(p.Amount) + " was refunded"
		d.actionPath = "/payments/" + p.PaymentID
	case events.PayoutCompleted:
		d.recipients = []string{p.RecipientID}
		d.typ = models.NotificationTypePayment
		d.priority = models.PriorityHigh
		d.title = "Payout completed"
		d.message = s.rands(p.Net) + " was paid out to your bank account"
		d.actionPath = "/payments/" + p.PaymentID
	case events.PayoutFailed:
		d.recipients = []string{p.RecipientID}
		d.typ = models.NotificationTypePayment
		d.priority = models.PriorityHigh
		d.title = "Payout failed"
		d.message = "The payout of " + s.rands(p.Net) + " failed"
		if p.Reason != "" {
			d.message += ": " + p.Reason
		}
		d.actionPath = "/payments/" + p.PaymentID

	case events.DisputeEscalated:
		admins, err := s.profileRepo.ListAdmins(db)
		if err != nil {
			return d, false, err
		}
		for _, a := range admins {
			d.recipients = append(d.recipients, a.ID)
		}
		d.typ = models.NotificationTypeSystem
		d.priority = models.PriorityHigh
		d.title = "Dispute needs attention"
		d.message = "A dispute over " + s.rands(p.Amount) + " is still unresolved"
		d.actionPath = "/admin/payments/" + p.PaymentID
	case events.SafetyFlag:
		d.recipients = []string{p.SubjectID}
		d.typ = models.NotificationTypeSafety
		d.priority = models.PriorityHigh
		d.title = "Safety notice"
		d.message = p.Message
	default:
		return d, false, nil
	}

	recipients := d.recipients[:0]
	for _, r := range d.recipients {
		if r != "" {
			recipients = append(recipients, r)
		}
	}
	d.recipients = recipients
	if len(d.recipients) == 0 {
		logger.CtxWarn(ctx, "Notification without recipient", "event_type", string(e.Type), "event_id", e.ID)
		return d, false, nil
	}
	return d, true, nil
}

// Deliver - подписчик шины: строка во входящих, realtime insert, письмо для high
func (s *notificationService) Deliver(ctx context.Context, db *gorm.DB, e events.Event) error {
	db = db.WithContext(ctx)
	d, ok, err := s.compose(ctx, db, e)
	if err != nil || !ok {
		return err
	}

	var actionURL *string
	if d.actionPath != "" {
		actionURL = ptr(d.actionPath)
	}

	var eventID *string
	if e.ID != "" {
		eventID = ptr(e.ID)
	}

	// повторная доставка того же события не создает дублей
	var created []*models.Notification
	err = db.Transaction(func(tx *gorm.DB) error {
		created = created[:0]
		for _, userID := range d.recipients {
			n := &models.Notification{
				UserID:    userID,
				EventID:   eventID,
				Type:      d.typ,
				Priority:  d.priority,
				Title:     d.title,
				Message:   d.message,
				ActionURL: actionURL,
				Data:      datatypes.JSON(e.Payload.JSON()),
			}
			inserted, err := s.notificationRepo.CreateOnce(tx, n)
			if err != nil {
				return err
			}
			if inserted {
				created = append(created, n)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	changes := make([]rowChange, 0, len(created))
	for _, n := range created {
		changes = append(changes, changeOf(tableNotifications, realtime.EventInsert, nil, n, n.UserID))
	}
	s.post.run(ctx, changes...)

	if d.priority == models.PriorityHigh {
		for _, n := range created {
			s.sendEmail(ctx, db, n)
		}
	}
	return nil
}

// sendEmail - ошибки только логируются
func (s *notificationService) sendEmail(ctx context.Context, db *gorm.DB, n *models.Notification) {
	if s.mailer == nil {
		return
	}
	profile, err := s.profileRepo.FindByID(db, n.UserID)
	if err != nil {
		logger.CtxWarn(ctx, "Notification email skipped: profile lookup failed", "user_id", n.UserID, "error", err.Error())
		return
	}
	if profile.Email == nil || *profile.Email == "" {
		return
	}

	data := email.TemplateData{
		"Name":    profile.DisplayName,
		"Title":   n.Title,
		"Message": n.Message,
	}
	if n.ActionURL != nil {
		data["ActionURL"] = s.publicURL + *n.ActionURL
	}
	if err := s.mailer.SendTemplate([]string{*profile.Email}, n.Title, email.TemplateNotification, data); err != nil {
		logger.CtxWithError(ctx, "Notification email failed", err, "notification_id", n.ID, "user_id", n.UserID)
	}
}

// =======================
// Входящие
// =======================

func (s *notificationService) List(ctx context.Context, db *gorm.DB, p auth.Principal, q dto.NotificationListQuery) (*dto.Page[models.Notification], error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}
	list, total, err := s.notificationRepo.List(db.WithContext(ctx), p.UserID, q.UnreadOnly, repositories.Pagination{Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	return dto.NewPage(list, total, q.PageQuery), nil
}

func (s *notificationService) UnreadCount(ctx context.Context, db *gorm.DB, p auth.Principal) (int64, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return 0, err
	}
	n, err := s.notificationRepo.CountUnread(db.WithContext(ctx), p.UserID)
	if err != nil {
		return 0, apperrors.InternalError(err)
	}
	return n, nil
}

// readFlag - минимальная строка для realtime: счетчику нужен только флаг
type readFlag struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Read   bool   `json:"read"`
}

func (s *notificationService) MarkRead(ctx context.Context, db *gorm.DB, p auth.Principal, notificationID string) (*models.Notification, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return nil, err
	}
	db = db.WithContext(ctx)

	n, err := s.notificationRepo.FindOwned(db, p.UserID, notificationID)
	if err != nil {
		return nil, repoError(err, "notification", "Notification not found")
	}
	changed, err := s.notificationRepo.MarkRead(db, p.UserID, notificationID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	if !changed {
		return n, nil
	}

	updated, err := s.notificationRepo.FindOwned(db, p.UserID, notificationID)
	if err != nil {
		return nil, repoError(err, "notification", "Notification not found")
	}
	s.post.run(ctx, changeOf(tableNotifications, realtime.EventUpdate, n, updated, p.UserID))
	return updated, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, db *gorm.DB, p auth.Principal) (int, error) {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return 0, err
	}
	ids, err := s.notificationRepo.MarkAllRead(db.WithContext(ctx), p.UserID)
	if err != nil {
		return 0, apperrors.InternalError(err)
	}

	changes := make([]rowChange, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, changeOf(tableNotifications, realtime.EventUpdate,
			readFlag{ID: id, UserID: p.UserID, Read: false},
			readFlag{ID: id, UserID: p.UserID, Read: true},
			p.UserID))
	}
	s.post.run(ctx, changes...)
	return len(ids), nil
}

func (s *notificationService) Delete(ctx context.Context, db *gorm.DB, p auth.Principal, notificationID string) error {
	if err := auth.RequireAuthenticated(&p); err != nil {
		return err
	}
	n, err := s.notificationRepo.Delete(db.WithContext(ctx), p.UserID, notificationID)
	if err != nil {
		return repoError(err, "notification", "Notification not found")
	}
	s.post.run(ctx, changeOf(tableNotifications, realtime.EventDelete, n, nil, p.UserID))
	return nil
}

// FlagSafety - админ отправляет пользователю предупреждение безопасности
func (s *notificationService) FlagSafety(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.SafetyFlagRequest) error {
	if err := auth.RequireRole(&p, models.RoleAdmin); err != nil {
		return err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.profileRepo.FindByID(tx, req.SubjectID); err != nil {
		return repoError(err, "profile", "Profile not found")
	}
	if err := s.outbox.Record(tx, events.New(events.SafetyFlag, events.AggregateProfile, req.SubjectID, events.Payload{
		SubjectID: req.SubjectID,
		Message:   req.Message,
	})); err != nil {
		return apperrors.InternalError(err)
	}
	if err := commitTx(tx); err != nil {
		return err
	}

	logger.CtxInfo(ctx, "Safety flag raised", "subject_id", req.SubjectID)
	s.post.run(ctx)
	return nil
}
