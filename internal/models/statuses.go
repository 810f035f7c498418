package models

type UserRole string
type AssignmentStatus string
type BudgetType string
type ApplicationStatus string
type GigStatus string
type MilestoneStatus string
type MilestoneAction string
type PaymentStatus string
type PayoutStatus string
type PaymentMethod string
type NotificationType string
type NotificationPriority string

const (
	RoleFreelancer UserRole = "freelancer"
	RoleEmployer   UserRole = "employer"
	RoleAdmin      UserRole = "admin"

	AssignmentStatusDraft  AssignmentStatus = "draft"
	AssignmentStatusOpen   AssignmentStatus = "open"
	AssignmentStatusClosed AssignmentStatus = "closed"
	AssignmentStatusFilled AssignmentStatus = "filled"

	BudgetTypeFixed  BudgetType = "fixed"
	BudgetTypeHourly BudgetType = "hourly"

	ApplicationStatusPending     ApplicationStatus = "pending"
	ApplicationStatusReviewing   ApplicationStatus = "reviewing"
	ApplicationStatusShortlisted ApplicationStatus = "shortlisted"
	ApplicationStatusAccepted    ApplicationStatus = "accepted"
	ApplicationStatusRejected    ApplicationStatus = "rejected"
	ApplicationStatusWithdrawn   ApplicationStatus = "withdrawn"

	GigStatusDraft      GigStatus = "draft"
	GigStatusOpen       GigStatus = "open"
	GigStatusInProgress GigStatus = "in_progress"
	GigStatusCompleted  GigStatus = "completed"
	GigStatusCancelled  GigStatus = "cancelled"
	GigStatusDisputed   GigStatus = "disputed"

	MilestoneStatusPending           MilestoneStatus = "pending"
	MilestoneStatusInProgress        MilestoneStatus = "in_progress"
	MilestoneStatusSubmitted         MilestoneStatus = "submitted"
	MilestoneStatusApproved          MilestoneStatus = "approved"
	MilestoneStatusRejected          MilestoneStatus = "rejected"
	MilestoneStatusRevisionRequested MilestoneStatus = "revision_requested"

	MilestoneActionStart           MilestoneAction = "start"
	MilestoneActionSubmit          MilestoneAction = "submit"
	MilestoneActionApprove         MilestoneAction = "approve"
	MilestoneActionRequestRevision MilestoneAction = "request_revision"
	MilestoneActionReject          MilestoneAction = "reject"
	MilestoneActionResubmit        MilestoneAction = "resubmit"

	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusHeld     PaymentStatus = "held"
	PaymentStatusReleased PaymentStatus = "released"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusDisputed PaymentStatus = "disputed"

	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"

	PaymentMethodEFT  PaymentMethod = "eft"
	PaymentMethodCard PaymentMethod = "cc"

	NotificationTypeJobMatch    NotificationType = "job_match"
	NotificationTypeApplication NotificationType = "application"
	NotificationTypeMessage     NotificationType = "message"
	NotificationTypePayment     NotificationType = "payment"
	NotificationTypeSafety      NotificationType = "safety"
	NotificationTypeSystem      NotificationType = "system"

	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
)

// IsTerminal - из этих статусов заявка уже не выходит
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case ApplicationStatusAccepted, ApplicationStatusRejected, ApplicationStatusWithdrawn:
		return true
	}
	return false
}

// NonTerminalApplicationStatuses - "активные" заявки
var NonTerminalApplicationStatuses = []ApplicationStatus{
	ApplicationStatusPending,
	ApplicationStatusReviewing,
	ApplicationStatusShortlisted,
}

func (r UserRole) Valid() bool {
	switch r {
	case RoleFreelancer, RoleEmployer, RoleAdmin:
		return true
	}
	return false
}

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodEFT || m == PaymentMethodCard
}

func (a MilestoneAction) Valid() bool {
	switch a {
	case MilestoneActionStart, MilestoneActionSubmit, MilestoneActionApprove,
		MilestoneActionRequestRevision, MilestoneActionReject, MilestoneActionResubmit:
		return true
	}
	return false
}
