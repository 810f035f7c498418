package services

import (
	"time"

	"trustwork_backend/internal/config"
	"trustwork_backend/internal/email"
	"trustwork_backend/internal/events"
	"trustwork_backend/internal/gateway"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/repositories"

	"gorm.io/gorm"
)

// ServiceContainer содержит все сервисы приложения.
type ServiceContainer struct {
	ApplicationService  ApplicationService
	AssignmentService   AssignmentService
	GigService          GigService
	EscrowService       EscrowService
	PayoutService       PayoutService
	BankAccountService  BankAccountService
	NotificationService NotificationService

	ProfileRepo repositories.ProfileRepository
	Processor   gateway.PaymentProcessor
	Hub         *realtime.Hub
	Bus         *events.Bus
	Dispatcher  *events.Dispatcher
	Audit       *events.AuditSink
}

// Infrastructure - внешние зависимости, которые собирает app
type Infrastructure struct {
	DB        *gorm.DB
	Processor gateway.PaymentProcessor
	Mailer    email.Provider
	Hub       *realtime.Hub
}

// NewServiceContainer собирает репозитории, шину, outbox и сервисы
// и подписывает обработчики событий.
func NewServiceContainer(cfg *config.Config, infra Infrastructure) *ServiceContainer {
	profileRepo := repositories.NewProfileRepository()
	bankRepo := repositories.NewBankAccountRepository()
	assignmentRepo := repositories.NewAssignmentRepository()
	appRepo := repositories.NewApplicationRepository()
	gigRepo := repositories.NewGigRepository()
	milestoneRepo := repositories.NewMilestoneRepository()
	escrowRepo := repositories.NewEscrowRepository()
	notificationRepo := repositories.NewNotificationRepository()
	outboxRepo := repositories.NewOutboxRepository()
	auditRepo := repositories.NewAuditRepository()

	audit := events.NewAuditSink(infra.DB, auditRepo)
	bus := events.NewBus(cfg.Outbox.MaxAttempts, audit)
	outbox := events.NewOutbox(outboxRepo)
	dispatcher := events.NewDispatcher(infra.DB, outboxRepo, bus, cfg.Outbox.BatchSize,
		time.Duration(cfg.Outbox.LeaseSeconds)*time.Second)

	applicationService := NewApplicationService(appRepo, assignmentRepo, gigRepo, profileRepo, outbox, dispatcher, infra.Hub, ApplicationRulesFromConfig(cfg))
	assignmentService := NewAssignmentService(assignmentRepo)
	gigService := NewGigService(gigRepo, milestoneRepo, profileRepo, outbox, dispatcher, infra.Hub, cfg)
	escrowService := NewEscrowService(escrowRepo, gigRepo, milestoneRepo, bankRepo, infra.Processor, audit, outbox, dispatcher, infra.Hub, EscrowSettingsFromConfig(cfg))
	payoutService := NewPayoutService(escrowRepo, bankRepo, infra.Processor, outbox, dispatcher, infra.Hub, cfg.PayoutBackoff, cfg.Payouts.BatchSize)
	bankAccountService := NewBankAccountService(bankRepo, profileRepo)
	notificationService := NewNotificationService(notificationRepo, profileRepo, infra.Mailer, outbox, dispatcher, infra.Hub, cfg.Server.PublicURL)

	RegisterEscrowSubscribers(bus, infra.DB, escrowService)
	RegisterNotificationSubscribers(bus, infra.DB, notificationService)

	return &ServiceContainer{
		ApplicationService:  applicationService,
		AssignmentService:   assignmentService,
		GigService:          gigService,
		EscrowService:       escrowService,
		PayoutService:       payoutService,
		BankAccountService:  bankAccountService,
		NotificationService: notificationService,
		ProfileRepo:         profileRepo,
		Processor:           infra.Processor,
		Hub:                 infra.Hub,
		Bus:                 bus,
		Dispatcher:          dispatcher,
		Audit:               audit,
	}
}
