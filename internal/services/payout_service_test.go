package services

import (
	"testing"
	"time"

	"trustwork_backend/internal/events"
	"trustwork_backend/internal/gateway"
	"trustwork_backend/internal/models"
	"trustwork_backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) releasedPayment(g gigParties, amount int64) *models.EscrowPayment {
	h.t.Helper()
	held := h.fx.HeldPayment(g.gig, nil, amount)
	pay, err := h.svc.EscrowService.Release(h.ctx, h.db, g.client, held.ID)
	require.NoError(h.t, err)
	return pay
}

func (h *harness) tick() PayoutReport {
	h.t.Helper()
	report, err := h.svc.PayoutService.ProcessPayouts(h.ctx, h.db)
	require.NoError(h.t, err)
	return report
}

func TestPayout_WaitsForVerifiedBankAccount(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	pay := h.releasedPayment(g, 10_000)

	report := h.tick()
	assert.Equal(t, 1, report.Waiting)
	assert.Zero(t, report.Started)
	assert.Empty(t, h.sandbox.Payouts())

	reloaded := h.reloadPayment(pay.ID)
	assert.True(t, reloaded.PayoutIs(models.PayoutStatusPending))
	assert.Equal(t, pay.Version, reloaded.Version)

	// неверифицированные реквизиты тоже не годятся
	bank := h.fx.BankAccount(g.gig.FreelancerID, false)
	assert.Equal(t, 1, h.tick().Waiting)

	require.NoError(t, h.db.Model(bank).Update("verified", true).Error)
	report = h.tick()
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, 1, report.Completed)
}

func TestPayout_CompletesInOneTick(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	h.fx.BankAccount(g.gig.FreelancerID, true)
	pay := h.releasedPayment(g, 10_000)

	report := h.tick()
	assert.Equal(t, PayoutReport{Started: 1, Completed: 1}, report)

	require.Len(t, h.sandbox.Payouts(), 1)
	sent := h.sandbox.Payouts()[0]
	assert.Equal(t, pay.FreelancerNet, sent.Amount)
	assert.Equal(t, pay.ID, sent.Reference)
	assert.Equal(t, "FNB", sent.Bank.BankName)

	done := h.reloadPayment(pay.ID)
	assert.True(t, done.PayoutIs(models.PayoutStatusCompleted))
	assert.NotNil(t, done.PayoutRef)
	assert.NotNil(t, done.PayoutStartedAt)
	assert.NotNil(t, done.PayoutCompletedAt)

	completed := h.events.ofType(events.PayoutCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, *done.PayoutRef, completed[0].Payload.PayoutRef)

	// следующий тик ничего не трогает
	assert.Equal(t, PayoutReport{}, h.tick())
}

func TestPayout_RetryableErrorBacksOff(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	h.fx.BankAccount(g.gig.FreelancerID, true)
	pay := h.releasedPayment(g, 10_000)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.svc.PayoutService.(*payoutService).now = func() time.Time { return now }
	h.sandbox.FailPayouts(&gateway.Error{Op: "payout", StatusCode: 503, Retryable: true, Detail: "unavailable"})

	report := h.tick()
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, 1, report.Retried)

	waiting := h.reloadPayment(pay.ID)
	assert.True(t, waiting.PayoutIs(models.PayoutStatusProcessing))
	assert.Equal(t, 1, waiting.PayoutAttempts)
	require.NotNil(t, waiting.NextPayoutAttemptAt)
	assert.WithinDuration(t, now.Add(30*time.Second), *waiting.NextPayoutAttemptAt, time.Second)
	require.NotNil(t, waiting.PayoutError)

	// до срока строка не трогается
	now = now.Add(10 * time.Second)
	assert.Equal(t, PayoutReport{}, h.tick())

	// после срока выплата уходит, опрос завершает ее на следующем тике
	now = now.Add(time.Minute)
	h.tick()
	h.tick()
	assert.True(t, h.reloadPayment(pay.ID).PayoutIs(models.PayoutStatusCompleted))
	assert.Len(t, h.events.ofType(events.PayoutCompleted), 1)
}

func TestPayout_RejectedFailsAndAdminRetries(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	h.fx.BankAccount(g.gig.FreelancerID, true)
	pay := h.releasedPayment(g, 10_000)
	_, admin := h.fx.Admin()

	h.sandbox.QueuePayoutResult(gateway.PayoutResult{State: gateway.PayoutRejected, Error: "account closed"})

	report := h.tick()
	assert.Equal(t, 1, report.Failed)

	failed := h.reloadPayment(pay.ID)
	assert.True(t, failed.PayoutIs(models.PayoutStatusFailed))
	require.NotNil(t, failed.PayoutError)
	assert.Equal(t, "account closed", *failed.PayoutError)

	evs := h.events.ofType(events.PayoutFailed)
	require.Len(t, evs, 1)
	assert.Equal(t, "account closed", evs[0].Payload.Reason)

	// failed терминален для воркера
	assert.Equal(t, PayoutReport{}, h.tick())

	_, err := h.svc.EscrowService.RetryPayout(h.ctx, h.db, g.client, pay.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

	retried, err := h.svc.EscrowService.RetryPayout(h.ctx, h.db, admin, pay.ID)
	require.NoError(t, err)
	assert.True(t, retried.PayoutIs(models.PayoutStatusPending))
	assert.Zero(t, retried.PayoutAttempts)
	assert.Nil(t, retried.PayoutError)

	assert.Equal(t, 1, h.tick().Completed)
}

func TestPayout_QueryFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	g := newGigParties(h, 10_000, 1)
	h.fx.BankAccount(g.gig.FreelancerID, true)
	pay := h.releasedPayment(g, 10_000)

	h.sandbox.QueuePayoutResult(gateway.PayoutResult{PayoutRef: "ref-1", State: gateway.PayoutAccepted})
	h.sandbox.SetPayoutStatus("ref-1", gateway.PayoutStatus{State: gateway.PayoutProcessing})

	report := h.tick()
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, 1, report.Retried, "still processing at the gateway")

	h.sandbox.SetPayoutStatus("ref-1", gateway.PayoutStatus{State: gateway.PayoutFailed, Error: "beneficiary bank declined"})
	require.NoError(t, h.db.Model(&models.EscrowPayment{}).Where("id = ?", pay.ID).
		UpdateColumn("next_payout_attempt_at", models.NowUTC().Add(-time.Second)).Error)

	assert.Equal(t, 1, h.tick().Failed)
	assert.True(t, h.reloadPayment(pay.ID).PayoutIs(models.PayoutStatusFailed))
}
