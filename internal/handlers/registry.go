package handlers

import (
	"trustwork_backend/internal/services"
	"trustwork_backend/internal/validator"

	"gorm.io/gorm"
)

// AppHandlers содержит все хэндлеры приложения.
type AppHandlers struct {
	HealthHandler       *HealthHandler
	ApplicationHandler  *ApplicationHandler
	AssignmentHandler   *AssignmentHandler
	GigHandler          *GigHandler
	PaymentHandler      *PaymentHandler
	NotificationHandler *NotificationHandler
	AdminHandler        *AdminHandler
}

// NewAppHandlers собирает хэндлеры поверх контейнера сервисов
func NewAppHandlers(c *services.ServiceContainer, db *gorm.DB) *AppHandlers {
	base := NewBaseHandler(validator.New())
	return &AppHandlers{
		HealthHandler:       NewHealthHandler(db),
		ApplicationHandler:  NewApplicationHandler(base, c.ApplicationService),
		AssignmentHandler:   NewAssignmentHandler(base, c.AssignmentService),
		GigHandler:          NewGigHandler(base, c.GigService),
		PaymentHandler:      NewPaymentHandler(base, c.EscrowService, c.BankAccountService),
		NotificationHandler: NewNotificationHandler(base, c.NotificationService),
		AdminHandler:        NewAdminHandler(base, c.EscrowService, c.BankAccountService, c.NotificationService),
	}
}
