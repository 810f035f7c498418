package services

import (
	"context"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/internal/services/dto"
	"trustwork_backend/pkg/apperrors"

	"gorm.io/gorm"
)

type AssignmentService interface {
	Create(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.CreateAssignmentRequest) (*models.Assignment, error)
	Get(ctx context.Context, db *gorm.DB, p auth.Principal, assignmentID string) (*models.Assignment, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, p auth.Principal, assignmentID string, req *dto.UpdateAssignmentStatusRequest) (*models.Assignment, error)
}

type assignmentService struct {
	assignmentRepo repositories.AssignmentRepository
}

func NewAssignmentService(assignmentRepo repositories.AssignmentRepository) AssignmentService {
	return &assignmentService{assignmentRepo: assignmentRepo}
}

// publish/close; filled ставит только каскад принятия заявки
var assignmentTransitions = map[models.AssignmentStatus]models.AssignmentStatus{
	models.AssignmentStatusDraft: models.AssignmentStatusOpen,
	models.AssignmentStatusOpen:  models.AssignmentStatusClosed,
}

func (s *assignmentService) Create(ctx context.Context, db *gorm.DB, p auth.Principal, req *dto.CreateAssignmentRequest) (*models.Assignment, error) {
	if err := auth.RequireRole(&p, models.RoleEmployer); err != nil {
		return nil, err
	}
	if req.BudgetMin != nil && req.BudgetMax != nil && *req.BudgetMin > *req.BudgetMax {
		return nil, apperrors.FieldError("budget_min", "must not exceed budget_max")
	}

	budgetType := req.BudgetType
	if budgetType == "" {
		budgetType = models.BudgetTypeFixed
	}
	status := models.AssignmentStatusDraft
	if req.Publish {
		status = models.AssignmentStatusOpen
	}

	a := &models.Assignment{
		EmployerID:      p.UserID,
		Title:           req.Title,
		Description:     req.Description,
		Category:        req.Category,
		BudgetMin:       req.BudgetMin,
		BudgetMax:       req.BudgetMax,
		BudgetType:      budgetType,
		RequiredSkills:  req.RequiredSkills,
		Location:        req.Location,
		RemoteAllowed:   req.RemoteAllowed,
		JobType:         req.JobType,
		ExperienceLevel: req.ExperienceLevel,
		Status:          status,
		Urgent:          req.Urgent,
		Deadline:        req.Deadline,
	}
	if err := s.assignmentRepo.Create(db.WithContext(ctx), a); err != nil {
		return nil, repoError(err, "assignment", "Assignment not found")
	}

	metrics.RecordTransition("assignment", string(a.Status))
	logger.CtxInfo(ctx, "Assignment created", "assignment_id", a.ID, "status", string(a.Status))
	return a, nil
}

func (s *assignmentService) Get(ctx context.Context, db *gorm.DB, p auth.Principal, assignmentID string) (*models.Assignment, error) {
	a, err := s.assignmentRepo.FindVisible(db.WithContext(ctx), p, assignmentID)
	if err != nil {
		return nil, repoError(err, "assignment", "Assignment not found")
	}
	return a, nil
}

func (s *assignmentService) UpdateStatus(ctx context.Context, db *gorm.DB, p auth.Principal, assignmentID string, req *dto.UpdateAssignmentStatusRequest) (*models.Assignment, error) {
	if err := auth.RequireRole(&p, models.RoleEmployer, models.RoleAdmin); err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	a, err := s.assignmentRepo.FindVisible(repositories.LockForUpdate(tx), p, assignmentID)
	if err != nil {
		return nil, repoError(err, "assignment", "Assignment not found")
	}
	if err := auth.RequireSelfOrAdmin(&p, a.EmployerID); err != nil {
		return nil, err
	}

	from := a.Status
	if from == req.Status {
		return a, nil
	}
	if next, ok := assignmentTransitions[from]; !ok || next != req.Status {
		return nil, apperrors.ErrIllegalTransition("assignment", string(from), string(req.Status))
	}

	if err := s.assignmentRepo.Update(tx, a, map[string]interface{}{"status": req.Status}); err != nil {
		return nil, repoError(err, "assignment", "Assignment not found")
	}
	a.Status = req.Status

	if err := commitTx(tx); err != nil {
		return nil, err
	}

	logger.TransitionLog("assignment", a.ID, string(from), string(a.Status))
	metrics.RecordTransition("assignment", string(a.Status))
	return a, nil
}
