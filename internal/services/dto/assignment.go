package dto

import (
	"time"

	"trustwork_backend/internal/models"
)

type CreateAssignmentRequest struct {
	Title           string            `json:"title" validate:"required,min=5,max=200"`
	Description     string            `json:"description" validate:"required,min=20,max=10000"`
	Category        string            `json:"category" validate:"omitempty,max=100"`
	BudgetMin       *int64            `json:"budget_min" validate:"omitempty,gte=0"`
	BudgetMax       *int64            `json:"budget_max" validate:"omitempty,gte=0"`
	BudgetType      models.BudgetType `json:"budget_type" validate:"omitempty,is-budget-type"`
	RequiredSkills  []string          `json:"required_skills" validate:"omitempty,max=30,dive,min=1,max=50"`
	Location        *string           `json:"location" validate:"omitempty,max=200"`
	RemoteAllowed   bool              `json:"remote_allowed"`
	JobType         string            `json:"job_type" validate:"omitempty,max=50"`
	ExperienceLevel string            `json:"experience_level" validate:"omitempty,max=50"`
	Urgent          bool              `json:"urgent"`
	Deadline        *time.Time        `json:"deadline"`
	Publish         bool              `json:"publish"`
}

type UpdateAssignmentStatusRequest struct {
	Status models.AssignmentStatus `json:"status" validate:"required,oneof=open closed"`
}
