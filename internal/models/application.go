package models

import (
	"time"

	"gorm.io/datatypes"
)

// Application - отклик фрилансера на задание
type Application struct {
	BaseModel
	Versioned
	AssignmentID      string                      `gorm:"type:uuid;not null;index:idx_applications_assignment_status,priority:1" json:"assignment_id"`
	FreelancerID      string                      `gorm:"type:uuid;not null;index:idx_applications_freelancer_status,priority:1" json:"freelancer_id"`
	CoverLetter       string                      `gorm:"type:text;not null" json:"cover_letter"`
	ProposedRate      *float64                    `json:"proposed_rate,omitempty"`
	ProposedTimeline  *string                     `json:"proposed_timeline,omitempty"`
	AvailabilityStart *time.Time                  `json:"availability_start,omitempty"`
	PortfolioLinks    datatypes.JSONSlice[string] `json:"portfolio_links"`
	Status            ApplicationStatus           `gorm:"type:varchar(20);not null;default:pending;index:idx_applications_assignment_status,priority:2;index:idx_applications_freelancer_status,priority:2" json:"status"`
	EmployerMessage   *string                     `json:"employer_message,omitempty"`
	RejectionReason   *string                     `json:"rejection_reason,omitempty"`
	WithdrawalReason  *string                     `json:"withdrawal_reason,omitempty"`
	ReviewedAt        *time.Time                  `json:"reviewed_at,omitempty"`
	ReviewedBy        *string                     `gorm:"type:uuid" json:"reviewed_by,omitempty"`
}

func (Application) TableName() string { return "applications" }
