package workers

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"trustwork_backend/internal/config"
	"trustwork_backend/internal/email"
	"trustwork_backend/internal/gateway"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/services"
	"trustwork_backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain настраивает глобальный логгер один раз: горутины cron пишут в него
// и после возврата Scheduler.Run.
func TestMain(m *testing.M) {
	logger.Init("test")
	os.Exit(m.Run())
}

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

type panickingJob struct{}

func (panickingJob) Name() string                  { return "panicking" }
func (panickingJob) Run(ctx context.Context) error { panic("boom") }

func TestScheduler_RunsAndStops(t *testing.T) {
	s := NewScheduler(time.Second)
	job := &countingJob{err: errors.New("transient")}
	require.NoError(t, s.Add("@every 1s", job))
	require.NoError(t, s.Add("@every 1s", panickingJob{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(0)
	err := s.Add("every now and then", &countingJob{})
	assert.Error(t, err)
}

func TestRegister_AllJobsRunAgainstServices(t *testing.T) {
	db := testutil.NewTestDB(t)
	cfg := config.Default()
	c := services.NewServiceContainer(cfg, services.Infrastructure{
		DB:        db,
		Processor: gateway.NewSandbox("secret", "http://sandbox.local"),
		Mailer:    email.NewRecordingProvider(),
		Hub:       realtime.NewHub(16),
	})

	s := NewScheduler(DefaultTimeout)
	require.NoError(t, Register(s, cfg, db, c))
	assert.Len(t, s.cron.Entries(), 4)

	fx := testutil.NewFixtures(t, db)
	client, cp := fx.Employer()
	freelancer, _ := fx.Freelancer("alice")
	fx.BankAccount(freelancer.ID, true)
	gig := fx.Gig(client.ID, freelancer.ID, 10_000, models.GigStatusInProgress)
	held := fx.HeldPayment(gig, nil, 10_000)
	_, err := c.EscrowService.Release(context.Background(), db, cp, held.ID)
	require.NoError(t, err)

	ctx := context.Background()
	for _, job := range []Job{
		NewPayoutJob(db, c.PayoutService),
		NewOutboxJob(c.Dispatcher),
		NewCheckoutExpiryJob(db, c.EscrowService),
		NewDisputeEscalationJob(db, c.EscrowService),
	} {
		assert.NoError(t, job.Run(ctx), job.Name())
	}

	var pay models.EscrowPayment
	require.NoError(t, db.First(&pay, "id = ?", held.ID).Error)
	assert.True(t, pay.PayoutIs(models.PayoutStatusCompleted))
}
