package services

import (
	"testing"

	"trustwork_backend/internal/models"
	"trustwork_backend/internal/services/dto"
	"trustwork_backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignment_CreateAndPublish(t *testing.T) {
	h := newHarness(t)
	_, ep := h.fx.Employer()
	_, fp := h.fx.Freelancer("alice")
	lo, hi := int64(20_000), int64(50_000)

	req := &dto.CreateAssignmentRequest{
		Title:       "Mobile app prototype",
		Description: "Clickable prototype for an iOS booking app",
		BudgetMin:   &lo,
		BudgetMax:   &hi,
	}

	_, err := h.svc.AssignmentService.Create(h.ctx, h.db, fp, req)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

	draft, err := h.svc.AssignmentService.Create(h.ctx, h.db, ep, req)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusDraft, draft.Status)

	open, err := h.svc.AssignmentService.UpdateStatus(h.ctx, h.db, ep, draft.ID, &dto.UpdateAssignmentStatusRequest{Status: models.AssignmentStatusOpen})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusOpen, open.Status)

	// повтор того же статуса ничего не меняет
	again, err := h.svc.AssignmentService.UpdateStatus(h.ctx, h.db, ep, draft.ID, &dto.UpdateAssignmentStatusRequest{Status: models.AssignmentStatusOpen})
	require.NoError(t, err)
	assert.Equal(t, open.Version, again.Version)

	closed, err := h.svc.AssignmentService.UpdateStatus(h.ctx, h.db, ep, draft.ID, &dto.UpdateAssignmentStatusRequest{Status: models.AssignmentStatusClosed})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusClosed, closed.Status)

	_, err = h.svc.AssignmentService.UpdateStatus(h.ctx, h.db, ep, draft.ID, &dto.UpdateAssignmentStatusRequest{Status: models.AssignmentStatusOpen})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeIllegalTransition))
}

func TestAssignment_BudgetRangeValidated(t *testing.T) {
	h := newHarness(t)
	_, ep := h.fx.Employer()
	lo, hi := int64(60_000), int64(50_000)

	_, err := h.svc.AssignmentService.Create(h.ctx, h.db, ep, &dto.CreateAssignmentRequest{
		Title:       "Mobile app prototype",
		Description: "Clickable prototype for an iOS booking app",
		BudgetMin:   &lo,
		BudgetMax:   &hi,
		Publish:     true,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
}

func TestResolveBudget(t *testing.T) {
	lo, hi := int64(20_000), int64(50_000)
	rate := 123.456

	assert.Equal(t, hi, (&models.Assignment{BudgetMin: &lo, BudgetMax: &hi}).ResolveBudget(&rate))
	assert.Equal(t, lo, (&models.Assignment{BudgetMin: &lo}).ResolveBudget(&rate))
	assert.Equal(t, int64(123), (&models.Assignment{}).ResolveBudget(&rate))
	assert.Zero(t, (&models.Assignment{}).ResolveBudget(nil))
}

func TestBankAccount_UpsertResetsVerification(t *testing.T) {
	h := newHarness(t)
	freelancer, fp := h.fx.Freelancer("alice")
	_, admin := h.fx.Admin()
	req := &dto.BankAccountRequest{BankName: "Capitec", AccountNumber: "1234567890", AccountHolder: "Alice A"}

	saved, err := h.svc.BankAccountService.Upsert(h.ctx, h.db, fp, req)
	require.NoError(t, err)
	assert.False(t, saved.Verified)
	assert.Equal(t, "******7890", saved.AccountNumber)

	_, err = h.svc.BankAccountService.Verify(h.ctx, h.db, fp, freelancer.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

	verified, err := h.svc.BankAccountService.Verify(h.ctx, h.db, admin, freelancer.ID)
	require.NoError(t, err)
	assert.True(t, verified.Verified)

	req.AccountNumber = "9876543210"
	saved, err = h.svc.BankAccountService.Upsert(h.ctx, h.db, fp, req)
	require.NoError(t, err)
	assert.False(t, saved.Verified)

	got, err := h.svc.BankAccountService.Get(h.ctx, h.db, fp)
	require.NoError(t, err)
	assert.Equal(t, "******3210", got.AccountNumber)
}

func TestFeeSchedule_Compute(t *testing.T) {
	fees := FeeSchedule{PlatformPercent: 10, CardPercent: 3.5, EftPercent: 0.85}

	card := fees.Compute(12_345, models.PaymentMethodCard)
	assert.Equal(t, FeeBreakdown{
		Gross:         12_345,
		PlatformFee:   1_235, // 1234.5 от нуля
		PaymentFee:    432,
		TotalCharge:   12_777,
		FreelancerNet: 11_110,
	}, card)

	eft := fees.Compute(100, models.PaymentMethodEFT)
	assert.Equal(t, int64(1), eft.PaymentFee)
	assert.Equal(t, eft.Gross-eft.PlatformFee, eft.FreelancerNet)
}
