package dto

import (
	"time"

	"trustwork_backend/internal/models"
)

type CheckoutRequest struct {
	GigID         string               `json:"gig_id" validate:"required,uuid"`
	MilestoneID   *string              `json:"milestone_id" validate:"omitempty,uuid"`
	FreelancerID  string               `json:"freelancer_id" validate:"required,uuid"`
	ApplicationID *string              `json:"application_id" validate:"omitempty,uuid"`
	GrossAmount   int64                `json:"gross_amount" validate:"required,gt=0"`
	BuyerEmail    string               `json:"buyer_email" validate:"required,email"`
	Method        models.PaymentMethod `json:"method" validate:"required,is-payment-method"`
	Agreed        bool                 `json:"agreed"`
}

type CheckoutResponse struct {
	Payment     *models.EscrowPayment `json:"payment"`
	RedirectURL string                `json:"redirect_url"`
}

type PaymentListQuery struct {
	PageQuery
	GigID  string                `form:"gig_id" validate:"omitempty,uuid"`
	Status *models.PaymentStatus `form:"status"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason" validate:"required,min=10,max=2000"`
}

// Resolution - исход спора
type Resolution string

const (
	ResolutionRelease Resolution = "release"
	ResolutionRefund  Resolution = "refund"
)

type ResolveDisputeRequest struct {
	Resolution Resolution `json:"resolution" validate:"required,oneof=release refund"`
	Note       *string    `json:"note" validate:"omitempty,max=2000"`
}

type BankAccountRequest struct {
	BankName      string `json:"bank_name" validate:"required,max=100"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	AccountHolder string `json:"account_holder" validate:"required,max=200"`
}

type BankAccountResponse struct {
	OwnerID       string    `json:"owner_id"`
	BankName      string    `json:"bank_name"`
	AccountNumber string    `json:"account_number"`
	AccountHolder string    `json:"account_holder"`
	Verified      bool      `json:"verified"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewBankAccountResponse(b *models.BankAccount) *BankAccountResponse {
	return &BankAccountResponse{
		OwnerID:       b.OwnerID,
		BankName:      b.BankName,
		AccountNumber: b.MaskedNumber(),
		AccountHolder: b.AccountHolder,
		Verified:      b.Verified,
		UpdatedAt:     b.UpdatedAt,
	}
}
