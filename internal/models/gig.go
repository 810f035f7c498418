package models

import "time"

// Gig - исполняемая договоренность между клиентом и фрилансером
type Gig struct {
	BaseModel
	Versioned
	AssignmentID  *string    `gorm:"type:uuid;index" json:"assignment_id,omitempty"`
	ApplicationID *string    `gorm:"type:uuid" json:"application_id,omitempty"`
	ClientID      string     `gorm:"type:uuid;not null;index" json:"client_id"`
	FreelancerID  string     `gorm:"type:uuid;not null;index" json:"freelancer_id"`
	Title         string     `gorm:"not null" json:"title"`
	Category      string     `json:"category"`
	Budget        int64      `gorm:"not null" json:"budget"`
	Status        GigStatus  `gorm:"type:varchar(20);not null;default:open" json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func (Gig) TableName() string { return "gigs" }

// IsParty - клиент или фрилансер гига
func (g *Gig) IsParty(userID string) bool {
	return g.ClientID == userID || g.FreelancerID == userID
}

// Milestone - этап работы, единица освобождения эскроу
type Milestone struct {
	BaseModel
	Versioned
	GigID           string          `gorm:"type:uuid;not null;uniqueIndex:idx_milestones_gig_ordinal,priority:1" json:"gig_id"`
	Ordinal         int             `gorm:"not null;uniqueIndex:idx_milestones_gig_ordinal,priority:2" json:"ordinal"`
	Title           string          `gorm:"not null" json:"title"`
	Description     string          `json:"description"`
	Amount          int64           `gorm:"not null" json:"amount"`
	Percentage      float64         `gorm:"not null" json:"percentage"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	Status          MilestoneStatus `gorm:"type:varchar(20);not null;default:pending" json:"status"`
	RevisionCount   int             `gorm:"not null;default:0" json:"revision_count"`
	MaxRevisions    int             `gorm:"not null;default:2" json:"max_revisions"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	ClientNotes     *string         `json:"client_notes,omitempty"`
	PaymentReleased bool            `gorm:"not null;default:false" json:"payment_released"`
}

func (Milestone) TableName() string { return "milestones" }
