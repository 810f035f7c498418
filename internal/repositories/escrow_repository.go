package repositories

import (
	"time"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/models"

	"gorm.io/gorm"
)

// PaymentFilter - фильтры списка платежей
type PaymentFilter struct {
	GigID      string
	Status     *models.PaymentStatus
	Discarded  bool
	Pagination Pagination
}

type EscrowRepository interface {
	Create(db *gorm.DB, p *models.EscrowPayment) error
	FindByID(db *gorm.DB, id string) (*models.EscrowPayment, error)
	FindVisible(db *gorm.DB, p auth.Principal, id string) (*models.EscrowPayment, error)
	ListVisible(db *gorm.DB, p auth.Principal, filter PaymentFilter) ([]models.EscrowPayment, int64, error)
	FindHeldForMilestone(db *gorm.DB, milestoneID string) (*models.EscrowPayment, error)
	ListByPayoutStatus(db *gorm.DB, status models.PayoutStatus, limit int) ([]models.EscrowPayment, error)
	ListStalePending(db *gorm.DB, createdBefore time.Time, limit int) ([]models.EscrowPayment, error)
	ListStaleDisputes(db *gorm.DB, disputedBefore time.Time, limit int) ([]models.EscrowPayment, error)
	Update(db *gorm.DB, p *models.EscrowPayment, fields map[string]interface{}) error
}

type EscrowRepositoryImpl struct{}

func NewEscrowRepository() EscrowRepository {
	return &EscrowRepositoryImpl{}
}

func (r *EscrowRepositoryImpl) Create(db *gorm.DB, p *models.EscrowPayment) error {
	initVersion(&p.Versioned)
	return translate(db.Create(p).Error)
}

func (r *EscrowRepositoryImpl) FindByID(db *gorm.DB, id string) (*models.EscrowPayment, error) {
	var p models.EscrowPayment
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *EscrowRepositoryImpl) FindVisible(db *gorm.DB, pr auth.Principal, id string) (*models.EscrowPayment, error) {
	var p models.EscrowPayment
	if err := db.Scopes(VisiblePayments(pr)).First(&p, "escrow_payments.id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *EscrowRepositoryImpl) ListVisible(db *gorm.DB, pr auth.Principal, filter PaymentFilter) ([]models.EscrowPayment, int64, error) {
	q := db.Model(&models.EscrowPayment{}).Scopes(VisiblePayments(pr))
	if filter.GigID != "" {
		q = q.Where("gig_id = ?", filter.GigID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if !filter.Discarded {
		q = q.Where("discarded_at IS NULL")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.EscrowPayment
	err := q.Scopes(filter.Pagination.Scope).Order("created_at DESC").Find(&list).Error
	return list, total, err
}

// FindHeldForMilestone - удержанный платеж, привязанный к этапу
func (r *EscrowRepositoryImpl) FindHeldForMilestone(db *gorm.DB, milestoneID string) (*models.EscrowPayment, error) {
	var p models.EscrowPayment
	err := db.Where("milestone_id = ? AND status = ?", milestoneID, models.PaymentStatusHeld).
		Order("held_at").
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// ListByPayoutStatus - кандидаты воркера выплат. Срок следующей попытки
// проверяется в коде, чтобы не зависеть от диалекта при сравнении времени.
func (r *EscrowRepositoryImpl) ListByPayoutStatus(db *gorm.DB, status models.PayoutStatus, limit int) ([]models.EscrowPayment, error) {
	var list []models.EscrowPayment
	err := db.Where("status = ? AND payout_status = ?", models.PaymentStatusReleased, status).
		Order("released_at").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *EscrowRepositoryImpl) ListStalePending(db *gorm.DB, createdBefore time.Time, limit int) ([]models.EscrowPayment, error) {
	var list []models.EscrowPayment
	err := db.Where("status = ? AND discarded_at IS NULL AND created_at < ?", models.PaymentStatusPending, createdBefore).
		Order("created_at").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *EscrowRepositoryImpl) ListStaleDisputes(db *gorm.DB, disputedBefore time.Time, limit int) ([]models.EscrowPayment, error) {
	var list []models.EscrowPayment
	err := db.Where("status = ? AND escalated_at IS NULL AND disputed_at < ?", models.PaymentStatusDisputed, disputedBefore).
		Order("disputed_at").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *EscrowRepositoryImpl) Update(db *gorm.DB, p *models.EscrowPayment, fields map[string]interface{}) error {
	if err := updateVersioned(db, &models.EscrowPayment{}, p.ID, p.Version, fields); err != nil {
		return err
	}
	p.Version++
	return nil
}
