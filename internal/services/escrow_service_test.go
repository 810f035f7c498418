package services

import (
	"sync"
	"testing"
	"time"

	"trustwork_backend/internal/events"
	"trustwork_backend/internal/gateway"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/services/dto"
	"trustwork_backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) checkout(g gigParties, gross int64, method models.PaymentMethod) *models.EscrowPayment {
	h.t.Helper()
	res, err := h.svc.EscrowService.CreateCheckout(h.ctx, h.db, g.client, &dto.CheckoutRequest{
		GigID:        g.gig.ID,
		FreelancerID: g.gig.FreelancerID,
		GrossAmount:  gross,
		BuyerEmail:   "client@example.com",
		Method:       method,
		Agreed:       true,
	})
	require.NoError(h.t, err)
	return res.Payment
}

func (h *harness) countAudit(source string) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&models.AuditEntry{}).Where("source = ?", source).Count(&n).Error)
	return n
}

func TestEscrow_CheckoutComputesFees(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 100_000, 1)
	h.fx.BankAccount(g.gig.FreelancerID, true)

	card := h.checkout(g, 100_000, models.PaymentMethodCard)
	assert.Equal(t, int64(10_000), card.PlatformFee)
	assert.Equal(t, int64(3_500), card.PaymentFee)
	assert.Equal(t, int64(103_500), card.TotalCharge)
	assert.Equal(t, int64(90_000), card.FreelancerNet)
	assert.Equal(t, models.PaymentStatusPending, card.Status)
	require.NotNil(t, card.GatewayRef)
	assert.Equal(t, "sbx_"+card.ID, *card.GatewayRef)

	eft := h.checkout(g, 100_000, models.PaymentMethodEFT)
	assert.Equal(t, int64(850), eft.PaymentFee)
	assert.Equal(t, int64(100_850), eft.TotalCharge)
}

func TestEscrow_CheckoutValidation(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 100_000, 1)
	base := dto.CheckoutRequest{
		GigID:        g.gig.ID,
		FreelancerID: g.gig.FreelancerID,
		GrossAmount:  100_000,
		BuyerEmail:   "client@example.com",
		Method:       models.PaymentMethodEFT,
		Agreed:       true,
	}

	t.Run("no verified bank account", func(t *testing.T) {
		req := base
		_, err := h.svc.EscrowService.CreateCheckout(h.ctx, h.db, g.client, &req)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
	})

	h.fx.BankAccount(g.gig.FreelancerID, true)

	t.Run("terms not accepted", func(t *testing.T) {
		req := base
		req.Agreed = false
		_, err := h.svc.EscrowService.CreateCheckout(h.ctx, h.db, g.client, &req)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
	})

	t.Run("freelancer must match", func(t *testing.T) {
		other, _ := h.fx.Freelancer("bob")
		req := base
		req.FreelancerID = other.ID
		_, err := h.svc.EscrowService.CreateCheckout(h.ctx, h.db, g.client, &req)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
	})

	t.Run("only the client pays", func(t *testing.T) {
		req := base
		_, err := h.svc.EscrowService.CreateCheckout(h.ctx, h.db, g.freelancer, &req)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
	})
}

func TestEscrow_CallbackReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 100_000, 1)
	h.fx.BankAccount(g.gig.FreelancerID, true)
	pay := h.checkout(g, 100_000, models.PaymentMethodEFT)

	body := h.sandbox.Callback(pay.ID, gateway.CallbackPaid, pay.TotalCharge)

	first, err := h.svc.EscrowService.IngestCallback(h.ctx, h.db, body)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusHeld, first.Status)
	assert.NotNil(t, first.HeldAt)

	second, err := h.svc.EscrowService.IngestCallback(h.ctx, h.db, body)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Len(t, h.events.ofType(events.PaymentHeld), 1)
}

func TestEscrow_CallbackRejections(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 100_000, 1)
	h.fx.BankAccount(g.gig.FreelancerID, true)

	t.Run("bad signature", func(t *testing.T) {
		pay := h.checkout(g, 10_000, models.PaymentMethodEFT)
		body := gateway.SignedCallback("wrong-secret", pay.ID, *pay.GatewayRef, gateway.CallbackPaid, pay.TotalCharge)
		_, err := h.svc.EscrowService.IngestCallback(h.ctx, h.db, body)
		require.Error(t, err)
		assert.Equal(t, models.PaymentStatusPending, h.reloadPayment(pay.ID).Status)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		pay := h.checkout(g, 10_000, models.PaymentMethodEFT)
		_, err := h.svc.EscrowService.IngestCallback(h.ctx, h.db, h.sandbox.Callback(pay.ID, gateway.CallbackPaid, pay.TotalCharge-1))
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
	})

	t.Run("paid after failed", func(t *testing.T) {
		pay := h.checkout(g, 10_000, models.PaymentMethodEFT)
		failed, err := h.svc.EscrowService.IngestCallback(h.ctx, h.db, h.sandbox.Callback(pay.ID, gateway.CallbackFailed, pay.TotalCharge))
		require.NoError(t, err)
		assert.True(t, failed.IsDiscarded())
		require.NotNil(t, failed.CallbackOutcome)
		assert.Equal(t, models.CallbackOutcomeFailed, *failed.CallbackOutcome)

		_, err = h.svc.EscrowService.IngestCallback(h.ctx, h.db, h.sandbox.Callback(pay.ID, gateway.CallbackPaid, pay.TotalCharge))
		assert.True(t, apperrors.HasCode(err, apperrors.CodeIllegalTransition))
		assert.Equal(t, models.PaymentStatusPending, h.reloadPayment(pay.ID).Status)
	})

	assert.Equal(t, int64(3), h.countAudit(events.AuditSourceCallback))
	assert.Empty(t, h.events.ofType(events.PaymentHeld))
}

func TestEscrow_ParallelReleaseEmitsOnce(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	pay := h.fx.HeldPayment(g.gig, nil, 10_000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.EscrowService.Release(h.ctx, h.db, g.client, pay.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict), "unexpected error: %v", err)
		}
	}
	assert.GreaterOrEqual(t, succeeded, 1)

	reloaded := h.reloadPayment(pay.ID)
	assert.Equal(t, models.PaymentStatusReleased, reloaded.Status)
	assert.True(t, reloaded.PayoutIs(models.PayoutStatusPending))
	assert.Len(t, h.events.ofType(events.PaymentReleased), 1)
}

func TestEscrow_ReleaseOnlyByPayer(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	pay := h.fx.HeldPayment(g.gig, nil, 10_000)

	_, err := h.svc.EscrowService.Release(h.ctx, h.db, g.freelancer, pay.ID)
	require.Error(t, err)
	assert.Equal(t, models.PaymentStatusHeld, h.reloadPayment(pay.ID).Status)
}

func TestEscrow_RefundCallsGateway(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	h.fx.BankAccount(g.gig.FreelancerID, true)
	pay := h.checkout(g, 10_000, models.PaymentMethodEFT)
	_, err := h.svc.EscrowService.IngestCallback(h.ctx, h.db, h.sandbox.Callback(pay.ID, gateway.CallbackPaid, pay.TotalCharge))
	require.NoError(t, err)

	refunded, err := h.svc.EscrowService.Refund(h.ctx, h.db, g.client, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)
	assert.NotNil(t, refunded.RefundedAt)

	require.Len(t, h.sandbox.Refunds(), 1)
	assert.Equal(t, pay.TotalCharge, h.sandbox.Refunds()[0].Amount)
	assert.Len(t, h.events.ofType(events.PaymentRefunded), 1)

	_, err = h.svc.EscrowService.Release(h.ctx, h.db, g.client, pay.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeIllegalTransition))
}

func TestEscrow_RefundGatewayFailureIsAudited(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	pay := h.fx.HeldPayment(g.gig, nil, 10_000)
	ref := "sbx_" + pay.ID
	require.NoError(t, h.db.Model(pay).UpdateColumn("gateway_ref", ref).Error)

	transient := &gateway.Error{Op: "refund", StatusCode: 503, Retryable: true, Detail: "unavailable"}
	h.sandbox.FailRefunds(transient, transient)

	refunded, err := h.svc.EscrowService.Refund(h.ctx, h.db, g.client, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)
	assert.Empty(t, h.sandbox.Refunds())
	assert.Equal(t, int64(1), h.countAudit(events.AuditSourceGateway))
}

func TestEscrow_DisputeLifecycle(t *testing.T) {
	for _, tc := range []struct {
		resolution dto.Resolution
		payment    models.PaymentStatus
		gig        models.GigStatus
	}{
		{dto.ResolutionRelease, models.PaymentStatusReleased, models.GigStatusInProgress},
		{dto.ResolutionRefund, models.PaymentStatusRefunded, models.GigStatusCancelled},
	} {
		t.Run(string(tc.resolution), func(t *testing.T) {
			h := newHarness(t)
			g := newGigParties(h, 10_000, 1)
			h.mustAct(g.freelancer, g.milestones[0], models.MilestoneActionStart)
			pay := h.fx.HeldPayment(h.reloadGig(g.gig.ID), nil, 10_000)
			_, admin := h.fx.Admin()

			disputed, err := h.svc.EscrowService.OpenDispute(h.ctx, h.db, g.freelancer, pay.ID, &dto.OpenDisputeRequest{Reason: "Client stopped responding"})
			require.NoError(t, err)
			assert.Equal(t, models.PaymentStatusDisputed, disputed.Status)
			assert.Equal(t, models.GigStatusDisputed, h.reloadGig(g.gig.ID).Status)

			opened := h.events.ofType(events.DisputeOpened)
			require.Len(t, opened, 1)
			assert.Equal(t, "Client stopped responding", opened[0].Payload.Reason)

			_, err = h.svc.EscrowService.ResolveDispute(h.ctx, h.db, g.client, pay.ID, &dto.ResolveDisputeRequest{Resolution: tc.resolution})
			assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

			resolved, err := h.svc.EscrowService.ResolveDispute(h.ctx, h.db, admin, pay.ID, &dto.ResolveDisputeRequest{Resolution: tc.resolution})
			require.NoError(t, err)
			assert.Equal(t, tc.payment, resolved.Status)
			assert.Equal(t, tc.gig, h.reloadGig(g.gig.ID).Status)

			done := h.events.ofType(events.DisputeResolved)
			require.Len(t, done, 1)
			assert.Equal(t, string(tc.resolution), done[0].Payload.Resolution)
		})
	}
}

func TestEscrow_ExpireCheckouts(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	h.fx.BankAccount(g.gig.FreelancerID, true)
	stale := h.checkout(g, 10_000, models.PaymentMethodEFT)
	fresh := h.checkout(g, 10_000, models.PaymentMethodEFT)

	old := models.NowUTC().Add(-2 * time.Hour)
	require.NoError(t, h.db.Model(&models.EscrowPayment{}).Where("id = ?", stale.ID).UpdateColumn("created_at", old).Error)

	n, err := h.svc.EscrowService.ExpireCheckouts(h.ctx, h.db)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired := h.reloadPayment(stale.ID)
	assert.True(t, expired.IsDiscarded())
	require.NotNil(t, expired.CallbackOutcome)
	assert.Equal(t, models.CallbackOutcomeExpired, *expired.CallbackOutcome)
	assert.False(t, h.reloadPayment(fresh.ID).IsDiscarded())

	// отброшенный платеж не принимает оплату
	_, err = h.svc.EscrowService.IngestCallback(h.ctx, h.db, h.sandbox.Callback(stale.ID, gateway.CallbackPaid, stale.TotalCharge))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeIllegalTransition))
}

func TestEscrow_EscalateDisputes(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	h.fx.Admin()
	pay := h.fx.HeldPayment(g.gig, nil, 10_000)
	_, err := h.svc.EscrowService.OpenDispute(h.ctx, h.db, g.client, pay.ID, &dto.OpenDisputeRequest{Reason: "Work was never delivered"})
	require.NoError(t, err)

	n, err := h.svc.EscrowService.EscalateDisputes(h.ctx, h.db)
	require.NoError(t, err)
	assert.Zero(t, n, "dispute is still fresh")

	old := models.NowUTC().Add(-73 * time.Hour)
	require.NoError(t, h.db.Model(&models.EscrowPayment{}).Where("id = ?", pay.ID).UpdateColumn("disputed_at", old).Error)

	n, err = h.svc.EscrowService.EscalateDisputes(h.ctx, h.db)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotNil(t, h.reloadPayment(pay.ID).EscalatedAt)
	assert.Len(t, h.events.ofType(events.DisputeEscalated), 1)

	n, err = h.svc.EscrowService.EscalateDisputes(h.ctx, h.db)
	require.NoError(t, err)
	assert.Zero(t, n)
}
