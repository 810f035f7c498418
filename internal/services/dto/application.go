package dto

import (
	"time"

	"trustwork_backend/internal/models"
)

// ---------------- Requests ----------------

type SubmitApplicationRequest struct {
	AssignmentID      string     `json:"assignment_id" validate:"required,uuid"`
	CoverLetter       string     `json:"cover_letter" validate:"required"`
	ProposedRate      *float64   `json:"proposed_rate" validate:"omitempty,gte=0,lte=1000000"`
	ProposedTimeline  *string    `json:"proposed_timeline" validate:"omitempty,max=200"`
	AvailabilityStart *time.Time `json:"availability_start"`
	PortfolioLinks    []string   `json:"portfolio_links" validate:"omitempty,max=20,dive,http-url"`
}

type UpdateApplicationStatusRequest struct {
	Status          models.ApplicationStatus `json:"status" validate:"required,is-application-status"`
	EmployerMessage *string                  `json:"employer_message" validate:"omitempty,max=2000"`
	RejectionReason *string                  `json:"rejection_reason" validate:"omitempty,max=1000"`
}

type WithdrawApplicationRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=1000"`
}

type ApplicationListQuery struct {
	PageQuery
	Status *models.ApplicationStatus `form:"status"`
}

// ---------------- Responses ----------------

// FreelancerSummary - что работодатель видит о кандидате
type FreelancerSummary struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Skills      []string `json:"skills"`
	Location    *string  `json:"location,omitempty"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"review_count"`
}

// AssignmentSummary - что фрилансер видит о задании
type AssignmentSummary struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	BudgetMin   *int64                  `json:"budget_min,omitempty"`
	BudgetMax   *int64                  `json:"budget_max,omitempty"`
	BudgetType  models.BudgetType       `json:"budget_type"`
	Status      models.AssignmentStatus `json:"status"`
}

// EmployerApplicationView - заявка глазами работодателя
type EmployerApplicationView struct {
	models.Application
	Freelancer *FreelancerSummary `json:"freelancer"`
}

// FreelancerApplicationView - заявка глазами фрилансера
type FreelancerApplicationView struct {
	models.Application
	Assignment *AssignmentSummary `json:"assignment"`
}

func NewFreelancerSummary(p *models.Profile) *FreelancerSummary {
	if p == nil {
		return nil
	}
	skills := []string(p.Skills)
	if skills == nil {
		skills = []string{}
	}
	return &FreelancerSummary{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Skills:      skills,
		Location:    p.Location,
		Rating:      p.Rating,
		ReviewCount: p.ReviewCount,
	}
}

func NewAssignmentSummary(a *models.Assignment) *AssignmentSummary {
	if a == nil {
		return nil
	}
	return &AssignmentSummary{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		BudgetMin:   a.BudgetMin,
		BudgetMax:   a.BudgetMax,
		BudgetType:  a.BudgetType,
		Status:      a.Status,
	}
}
