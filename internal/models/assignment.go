package models

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

// Assignment - размещенная работа или гиг
type Assignment struct {
	BaseModel
	Versioned
	EmployerID      string                      `gorm:"type:uuid;not null;index" json:"employer_id"`
	Title           string                      `gorm:"not null" json:"title"`
	Description     string                      `gorm:"not null" json:"description"`
	Category        string                      `json:"category"`
	BudgetMin       *int64                      `json:"budget_min,omitempty"`
	BudgetMax       *int64                      `json:"budget_max,omitempty"`
	BudgetType      BudgetType                  `gorm:"type:varchar(10);not null;default:fixed" json:"budget_type"`
	RequiredSkills  datatypes.JSONSlice[string] `json:"required_skills"`
	Location        *string                     `json:"location,omitempty"`
	RemoteAllowed   bool                        `gorm:"not null;default:false" json:"remote_allowed"`
	JobType         string                      `json:"job_type"`
	ExperienceLevel string                      `json:"experience_level"`
	Status          AssignmentStatus            `gorm:"type:varchar(20);not null;default:draft;index" json:"status"`
	Urgent          bool                        `gorm:"not null;default:false" json:"urgent"`
	Deadline        *time.Time                  `json:"deadline,omitempty"`
}

func (Assignment) TableName() string { return "assignments" }

// ResolveBudget - бюджет гига при принятии заявки: max, затем min, затем ставка фрилансера
func (a *Assignment) ResolveBudget(proposedRate *float64) int64 {
	switch {
	case a.BudgetMax != nil:
		return *a.BudgetMax
	case a.BudgetMin != nil:
		return *a.BudgetMin
	case proposedRate != nil:
		return int64(math.Round(*proposedRate))
	}
	return 0
}
