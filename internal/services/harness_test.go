package services

import (
	"context"
	"sync"
	"testing"

	"trustwork_backend/internal/config"
	"trustwork_backend/internal/email"
	"trustwork_backend/internal/events"
	"trustwork_backend/internal/gateway"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testGatewaySecret = "test-secret"

// harness - полный набор сервисов поверх in-memory базы
type harness struct {
	t       *testing.T
	ctx     context.Context
	db      *gorm.DB
	cfg     *config.Config
	fx      *testutil.Fixtures
	sandbox *gateway.Sandbox
	mailer  *email.RecordingProvider
	hub     *realtime.Hub
	svc     *ServiceContainer
	events  *eventLog
}

// eventLog - все события, прошедшие через шину
type eventLog struct {
	mu  sync.Mutex
	all []events.Event
}

func (l *eventLog) record(_ context.Context, e events.Event) error {
	l.mu.Lock()
	l.all = append(l.all, e)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) ofType(t events.Type) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.all {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger.Init("test")

	db := testutil.NewTestDB(t)
	cfg := config.Default()
	cfg.Outbox.MaxAttempts = 1

	sandbox := gateway.NewSandbox(testGatewaySecret, "http://sandbox.local")
	mailer := email.NewRecordingProvider()
	hub := realtime.NewHub(64)

	svc := NewServiceContainer(cfg, Infrastructure{
		DB:        db,
		Processor: sandbox,
		Mailer:    mailer,
		Hub:       hub,
	})
	log := &eventLog{}
	svc.Bus.Subscribe("test.log", log.record)

	return &harness{
		t:       t,
		ctx:     context.Background(),
		db:      db,
		cfg:     cfg,
		fx:      testutil.NewFixtures(t, db),
		sandbox: sandbox,
		mailer:  mailer,
		hub:     hub,
		svc:     svc,
		events:  log,
	}
}

func (h *harness) reloadPayment(id string) *models.EscrowPayment {
	h.t.Helper()
	var p models.EscrowPayment
	require.NoError(h.t, h.db.First(&p, "id = ?", id).Error)
	return &p
}

func (h *harness) reloadMilestone(id string) *models.Milestone {
	h.t.Helper()
	var m models.Milestone
	require.NoError(h.t, h.db.First(&m, "id = ?", id).Error)
	return &m
}

func (h *harness) reloadGig(id string) *models.Gig {
	h.t.Helper()
	var g models.Gig
	require.NoError(h.t, h.db.First(&g, "id = ?", id).Error)
	return &g
}

func (h *harness) reloadApplication(id string) *models.Application {
	h.t.Helper()
	var a models.Application
	require.NoError(h.t, h.db.First(&a, "id = ?", id).Error)
	return &a
}

func (h *harness) notificationsFor(userID string) []models.Notification {
	h.t.Helper()
	var list []models.Notification
	require.NoError(h.t, h.db.Where("user_id = ?", userID).Order("created_at").Find(&list).Error)
	return list
}
