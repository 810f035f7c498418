package repositories

import (
	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/models"

	"gorm.io/gorm"
)

type GigRepository interface {
	Create(db *gorm.DB, gig *models.Gig) error
	FindByID(db *gorm.DB, id string) (*models.Gig, error)
	FindByIDForUpdate(db *gorm.DB, id string) (*models.Gig, error)
	FindVisible(db *gorm.DB, p auth.Principal, id string) (*models.Gig, error)
	ListVisible(db *gorm.DB, p auth.Principal, status *models.GigStatus, page Pagination) ([]models.Gig, int64, error)
	Update(db *gorm.DB, gig *models.Gig, fields map[string]interface{}) error
}

type GigRepositoryImpl struct{}

func NewGigRepository() GigRepository {
	return &GigRepositoryImpl{}
}

func (r *GigRepositoryImpl) Create(db *gorm.DB, gig *models.Gig) error {
	initVersion(&gig.Versioned)
	return translate(db.Create(gig).Error)
}

func (r *GigRepositoryImpl) FindByID(db *gorm.DB, id string) (*models.Gig, error) {
	var gig models.Gig
	if err := db.First(&gig, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &gig, nil
}

func (r *GigRepositoryImpl) FindByIDForUpdate(db *gorm.DB, id string) (*models.Gig, error) {
	return r.FindByID(LockForUpdate(db), id)
}

func (r *GigRepositoryImpl) FindVisible(db *gorm.DB, p auth.Principal, id string) (*models.Gig, error) {
	var gig models.Gig
	if err := db.Scopes(VisibleGigs(p)).First(&gig, "gigs.id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &gig, nil
}

func (r *GigRepositoryImpl) ListVisible(db *gorm.DB, p auth.Principal, status *models.GigStatus, page Pagination) ([]models.Gig, int64, error) {
	q := db.Model(&models.Gig{}).Scopes(VisibleGigs(p))
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var gigs []models.Gig
	err := q.Scopes(page.Scope).Order("created_at DESC").Find(&gigs).Error
	return gigs, total, err
}

func (r *GigRepositoryImpl) Update(db *gorm.DB, gig *models.Gig, fields map[string]interface{}) error {
	if err := updateVersioned(db, &models.Gig{}, gig.ID, gig.Version, fields); err != nil {
		return err
	}
	gig.Version++
	return nil
}

// ============================================================================

type MilestoneRepository interface {
	ListByGig(db *gorm.DB, gigID string) ([]models.Milestone, error)
	FindByID(db *gorm.DB, id string) (*models.Milestone, error)
	FindVisible(db *gorm.DB, p auth.Principal, id string) (*models.Milestone, error)
	ReplaceForGig(db *gorm.DB, gigID string, milestones []*models.Milestone) error
	Update(db *gorm.DB, m *models.Milestone, fields map[string]interface{}) error
}

type MilestoneRepositoryImpl struct{}

func NewMilestoneRepository() MilestoneRepository {
	return &MilestoneRepositoryImpl{}
}

func (r *MilestoneRepositoryImpl) ListByGig(db *gorm.DB, gigID string) ([]models.Milestone, error) {
	var ms []models.Milestone
	err := db.Where("gig_id = ?", gigID).Order("ordinal").Find(&ms).Error
	return ms, err
}

func (r *MilestoneRepositoryImpl) FindByID(db *gorm.DB, id string) (*models.Milestone, error) {
	var m models.Milestone
	if err := db.First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *MilestoneRepositoryImpl) FindVisible(db *gorm.DB, p auth.Principal, id string) (*models.Milestone, error) {
	var m models.Milestone
	if err := db.Scopes(VisibleMilestones(p)).First(&m, "milestones.id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// ReplaceForGig удаляет прежние этапы и вставляет новые (только для открытого гига)
func (r *MilestoneRepositoryImpl) ReplaceForGig(db *gorm.DB, gigID string, milestones []*models.Milestone) error {
	if err := db.Where("gig_id = ?", gigID).Delete(&models.Milestone{}).Error; err != nil {
		return err
	}
	if len(milestones) == 0 {
		return nil
	}
	for _, m := range milestones {
		initVersion(&m.Versioned)
	}
	return translate(db.Create(&milestones).Error)
}

func (r *MilestoneRepositoryImpl) Update(db *gorm.DB, m *models.Milestone, fields map[string]interface{}) error {
	if err := updateVersioned(db, &models.Milestone{}, m.ID, m.Version, fields); err != nil {
		return err
	}
	m.Version++
	return nil
}
