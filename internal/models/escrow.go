package models

import "time"

// Исход колбэка шлюза, сохраненный на строке платежа
const (
	CallbackOutcomePaid    = "paid"
	CallbackOutcomeFailed  = "failed"
	CallbackOutcomeExpired = "expired"
)

// EscrowPayment - удержание средств клиента до приемки работы
type EscrowPayment struct {
	BaseModel
	Versioned
	GigID         string        `gorm:"type:uuid;not null;index:idx_escrow_payments_gig_status,priority:1" json:"gig_id"`
	MilestoneID   *string       `gorm:"type:uuid;index" json:"milestone_id,omitempty"`
	ApplicationID *string       `gorm:"type:uuid" json:"application_id,omitempty"`
	PayerID       string        `gorm:"type:uuid;not null;index" json:"payer_id"`
	RecipientID   string        `gorm:"type:uuid;not null;index" json:"recipient_id"`
	Amount        int64         `gorm:"not null" json:"amount"`
	PlatformFee   int64         `gorm:"not null" json:"platform_fee"`
	PaymentMethod PaymentMethod `gorm:"type:varchar(4);not null" json:"payment_method"`
	PaymentFee    int64         `gorm:"not null" json:"payment_fee"`
	TotalCharge   int64         `gorm:"not null" json:"total_charge"`
	FreelancerNet int64         `gorm:"not null" json:"freelancer_net"`
	Status        PaymentStatus `gorm:"type:varchar(20);not null;default:pending;index:idx_escrow_payments_gig_status,priority:2" json:"status"`

	PayoutStatus        *PayoutStatus `gorm:"type:varchar(20);index" json:"payout_status,omitempty"`
	PayoutRef           *string       `json:"payout_ref,omitempty"`
	PayoutAttempts      int           `gorm:"not null;default:0" json:"payout_attempts"`
	NextPayoutAttemptAt *time.Time    `json:"next_payout_attempt_at,omitempty"`
	PayoutError         *string       `json:"payout_error,omitempty"`

	GatewayRef      *string    `gorm:"index" json:"gateway_ref,omitempty"`
	CheckoutURL     *string    `json:"checkout_url,omitempty"`
	CallbackOutcome *string    `json:"callback_outcome,omitempty"`
	DiscardedAt     *time.Time `json:"discarded_at,omitempty"`
	EscalatedAt     *time.Time `json:"escalated_at,omitempty"`

	HeldAt            *time.Time `json:"held_at,omitempty"`
	ReleasedAt        *time.Time `json:"released_at,omitempty"`
	RefundedAt        *time.Time `json:"refunded_at,omitempty"`
	DisputedAt        *time.Time `json:"disputed_at,omitempty"`
	PayoutStartedAt   *time.Time `json:"payout_started_at,omitempty"`
	PayoutCompletedAt *time.Time `json:"payout_completed_at,omitempty"`
}

func (EscrowPayment) TableName() string { return "escrow_payments" }

// IsDiscarded - платеж отброшен после неуспешного или просроченного колбэка
func (p *EscrowPayment) IsDiscarded() bool {
	return p.DiscardedAt != nil
}

// PayoutIs сравнивает статус выплаты (nil значит выплаты еще нет)
func (p *EscrowPayment) PayoutIs(s PayoutStatus) bool {
	return p.PayoutStatus != nil && *p.PayoutStatus == s
}

// PayoutDue - выплату можно обрабатывать в момент now
func (p *EscrowPayment) PayoutDue(now time.Time) bool {
	return p.NextPayoutAttemptAt == nil || !p.NextPayoutAttemptAt.After(now)
}
