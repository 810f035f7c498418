package repositories

import (
	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/models"

	"gorm.io/gorm"
)

// ApplicationFilter - фильтры списка заявок
type ApplicationFilter struct {
	AssignmentID string
	FreelancerID string
	Status       *models.ApplicationStatus
	Pagination   Pagination
}

type ApplicationRepository interface {
	Create(db *gorm.DB, app *models.Application) error
	FindByID(db *gorm.DB, id string) (*models.Application, error)
	FindVisible(db *gorm.DB, p auth.Principal, id string) (*models.Application, error)
	CountActive(db *gorm.DB, assignmentID, freelancerID string) (int64, error)
	List(db *gorm.DB, filter ApplicationFilter) ([]models.Application, int64, error)
	ListActiveSiblings(db *gorm.DB, assignmentID, excludeID string) ([]models.Application, error)
	Update(db *gorm.DB, app *models.Application, fields map[string]interface{}) error
}

type ApplicationRepositoryImpl struct{}

func NewApplicationRepository() ApplicationRepository {
	return &ApplicationRepositoryImpl{}
}

func (r *ApplicationRepositoryImpl) Create(db *gorm.DB, app *models.Application) error {
	initVersion(&app.Versioned)
	return translate(db.Create(app).Error)
}

func (r *ApplicationRepositoryImpl) FindByID(db *gorm.DB, id string) (*models.Application, error) {
	var app models.Application
	if err := db.First(&app, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &app, nil
}

func (r *ApplicationRepositoryImpl) FindVisible(db *gorm.DB, p auth.Principal, id string) (*models.Application, error) {
	var app models.Application
	if err := db.Scopes(VisibleApplications(p)).First(&app, "applications.id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &app, nil
}

// CountActive - незавершенные заявки фрилансера на задание
func (r *ApplicationRepositoryImpl) CountActive(db *gorm.DB, assignmentID, freelancerID string) (int64, error) {
	var n int64
	err := db.Model(&models.Application{}).
		Where("assignment_id = ? AND freelancer_id = ? AND status IN ?",
			assignmentID, freelancerID, models.NonTerminalApplicationStatuses).
		Count(&n).Error
	return n, err
}

func (r *ApplicationRepositoryImpl) List(db *gorm.DB, filter ApplicationFilter) ([]models.Application, int64, error) {
	q := db.Model(&models.Application{})
	if filter.AssignmentID != "" {
		q = q.Where("assignment_id = ?", filter.AssignmentID)
	}
	if filter.FreelancerID != "" {
		q = q.Where("freelancer_id = ?", filter.FreelancerID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var apps []models.Application
	err := q.Scopes(filter.Pagination.Scope).Order("created_at DESC").Order("id").Find(&apps).Error
	return apps, total, err
}

// ListActiveSiblings - незавершенные заявки на то же задание, кроме excludeID
func (r *ApplicationRepositoryImpl) ListActiveSiblings(db *gorm.DB, assignmentID, excludeID string) ([]models.Application, error) {
	var apps []models.Application
	err := db.Where("assignment_id = ? AND id <> ? AND status IN ?",
		assignmentID, excludeID, models.NonTerminalApplicationStatuses).
		Order("created_at").
		Find(&apps).Error
	return apps, err
}

func (r *ApplicationRepositoryImpl) Update(db *gorm.DB, app *models.Application, fields map[string]interface{}) error {
	if err := updateVersioned(db, &models.Application{}, app.ID, app.Version, fields); err != nil {
		return err
	}
	app.Version++
	return nil
}
