package repositories

import (
	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/models"

	"gorm.io/gorm"
)

type AssignmentRepository interface {
	Create(db *gorm.DB, assignment *models.Assignment) error
	FindByID(db *gorm.DB, id string) (*models.Assignment, error)
	FindByIDForUpdate(db *gorm.DB, id string) (*models.Assignment, error)
	FindVisible(db *gorm.DB, p auth.Principal, id string) (*models.Assignment, error)
	FindByIDs(db *gorm.DB, ids []string) (map[string]*models.Assignment, error)
	Update(db *gorm.DB, assignment *models.Assignment, fields map[string]interface{}) error
}

type AssignmentRepositoryImpl struct{}

func NewAssignmentRepository() AssignmentRepository {
	return &AssignmentRepositoryImpl{}
}

func (r *AssignmentRepositoryImpl) Create(db *gorm.DB, assignment *models.Assignment) error {
	initVersion(&assignment.Versioned)
	return translate(db.Create(assignment).Error)
}

func (r *AssignmentRepositoryImpl) FindByID(db *gorm.DB, id string) (*models.Assignment, error) {
	var a models.Assignment
	if err := db.First(&a, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// FindByIDForUpdate блокирует строку задания до конца транзакции
func (r *AssignmentRepositoryImpl) FindByIDForUpdate(db *gorm.DB, id string) (*models.Assignment, error) {
	return r.FindByID(LockForUpdate(db), id)
}

func (r *AssignmentRepositoryImpl) FindVisible(db *gorm.DB, p auth.Principal, id string) (*models.Assignment, error) {
	var a models.Assignment
	if err := db.Scopes(VisibleAssignments(p)).First(&a, "assignments.id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (r *AssignmentRepositoryImpl) FindByIDs(db *gorm.DB, ids []string) (map[string]*models.Assignment, error) {
	out := make(map[string]*models.Assignment, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []models.Assignment
	if err := db.Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for i := range list {
		out[list[i].ID] = &list[i]
	}
	return out, nil
}

func (r *AssignmentRepositoryImpl) Update(db *gorm.DB, assignment *models.Assignment, fields map[string]interface{}) error {
	if err := updateVersioned(db, &models.Assignment{}, assignment.ID, assignment.Version, fields); err != nil {
		return err
	}
	assignment.Version++
	return nil
}
