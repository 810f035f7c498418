package events

import (
	"encoding/json"
	"time"
)

// Type - имя доменного события
type Type string

const (
	ApplicationSubmitted   Type = "ApplicationSubmitted"
	ApplicationShortlisted Type = "ApplicationShortlisted"
	ApplicationAccepted    Type = "ApplicationAccepted"
	ApplicationRejected    Type = "ApplicationRejected"
	ApplicationWithdrawn   Type = "ApplicationWithdrawn"

	GigCreated   Type = "GigCreated"
	GigCompleted Type = "GigCompleted"
	GigCancelled Type = "GigCancelled"

	MilestoneStarted           Type = "MilestoneStarted"
	MilestoneSubmitted         Type = "MilestoneSubmitted"
	MilestoneApproved          Type = "MilestoneApproved"
	MilestoneRevisionRequested Type = "MilestoneRevisionRequested"
	MilestoneRejected          Type = "MilestoneRejected"

	PaymentHeld      Type = "PaymentHeld"
	PaymentReleased  Type = "PaymentReleased"
	PaymentRefunded  Type = "PaymentRefunded"
	DisputeOpened    Type = "DisputeOpened"
	DisputeResolved  Type = "DisputeResolved"
	DisputeEscalated Type = "DisputeEscalated"
	PayoutCompleted  Type = "PayoutCompleted"
	PayoutFailed     Type = "PayoutFailed"

	SafetyFlag Type = "SafetyFlag"
)

// Типы агрегатов
const (
	AggregateApplication = "application"
	AggregateGig         = "gig"
	AggregateMilestone   = "milestone"
	AggregatePayment     = "payment"
	AggregateProfile     = "profile"
)

// Payload - плоский набор полей события. Заполняются только нужные типу поля.
type Payload struct {
	ApplicationID   string `json:"application_id,omitempty"`
	AssignmentID    string `json:"assignment_id,omitempty"`
	AssignmentTitle string `json:"assignment_title,omitempty"`
	EmployerID      string `json:"employer_id,omitempty"`
	FreelancerID    string `json:"freelancer_id,omitempty"`

	GigID       string `json:"gig_id,omitempty"`
	GigTitle    string `json:"gig_title,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	MilestoneID string `json:"milestone_id,omitempty"`
	Ordinal     int    `json:"ordinal,omitempty"`

	PaymentID   string `json:"payment_id,omitempty"`
	PayerID     string `json:"payer_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Net         int64  `json:"net,omitempty"`
	PayoutRef   string `json:"payout_ref,omitempty"`

	SubjectID  string `json:"subject_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Event - событие в том виде, в каком его получают подписчики
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	Position      int64     `json:"position"`
	OccurredAt    time.Time `json:"occurred_at"`
	Payload       Payload   `json:"payload"`
}

// New собирает событие для записи в outbox
func New(t Type, aggregateType, aggregateID string, p Payload) Event {
	return Event{
		Type:          t,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       p,
	}
}

func (p Payload) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
