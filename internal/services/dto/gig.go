package dto

import (
	"time"

	"trustwork_backend/internal/models"
)

type CreateGigRequest struct {
	FreelancerID string     `json:"freelancer_id" validate:"required,uuid"`
	Title        string     `json:"title" validate:"required,min=3,max=200"`
	Category     string     `json:"category" validate:"omitempty,max=100"`
	Budget       int64      `json:"budget" validate:"required,gt=0"`
	Deadline     *time.Time `json:"deadline"`
}

type MilestoneDraft struct {
	Title        string     `json:"title" validate:"required,max=200"`
	Description  string     `json:"description" validate:"omitempty,max=5000"`
	Amount       int64      `json:"amount" validate:"gte=0"`
	Percentage   float64    `json:"percentage" validate:"gt=0,lte=100"`
	DueDate      *time.Time `json:"due_date"`
	MaxRevisions *int       `json:"max_revisions" validate:"omitempty,gte=0,lte=10"`
}

type DefineMilestonesRequest struct {
	Milestones []MilestoneDraft `json:"milestones" validate:"required,min=1,max=50,dive"`
}

type TransitionMilestoneRequest struct {
	Action         models.MilestoneAction  `json:"action" validate:"required,is-milestone-action"`
	ExpectedStatus *models.MilestoneStatus `json:"expected_status"`
	Notes          *string                 `json:"notes" validate:"omitempty,max=2000"`
}

type GigListQuery struct {
	PageQuery
	Status *models.GigStatus `form:"status"`
}

// GigDetail - гиг с этапами и прогрессом
type GigDetail struct {
	models.Gig
	Milestones []models.Milestone `json:"milestones"`
	Progress   int                `json:"progress"`
}
