package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustwork_backend/internal/models"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingAuditor struct {
	failures []string
}

func (a *recordingAuditor) SubscriberFailed(_ context.Context, subscriber string, e Event, err error) {
	a.failures = append(a.failures, subscriber+":"+string(e.Type))
}

func TestBus_RetriesThenAudits(t *testing.T) {
	auditor := &recordingAuditor{}
	bus := NewBus(3, auditor)

	calls := 0
	bus.Subscribe("flaky", func(ctx context.Context, e Event) error {
		calls++
		return errors.New("boom")
	}, PaymentReleased)

	delivered := 0
	bus.Subscribe("healthy", func(ctx context.Context, e Event) error {
		delivered++
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), Event{Type: PaymentReleased}))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, delivered, "failing subscriber must not block the others")
	assert.Equal(t, []string{"flaky:PaymentReleased"}, auditor.failures)
}

func TestBus_RecoversPanic(t *testing.T) {
	auditor := &recordingAuditor{}
	bus := NewBus(2, auditor)

	attempts := 0
	bus.Subscribe("panicky", func(ctx context.Context, e Event) error {
		attempts++
		if attempts == 1 {
			panic("nil map")
		}
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), Event{Type: GigCreated}))
	assert.Equal(t, 2, attempts)
	assert.Empty(t, auditor.failures)
}

func TestBus_FiltersByType(t *testing.T) {
	bus := NewBus(1, nil)
	var got []Type
	bus.Subscribe("milestones", func(ctx context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	}, MilestoneApproved)

	_ = bus.Publish(context.Background(), Event{Type: MilestoneSubmitted})
	_ = bus.Publish(context.Background(), Event{Type: MilestoneApproved})
	assert.Equal(t, []Type{MilestoneApproved}, got)
}

func TestAuditSink_WritesSubscriberFailure(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repositories.NewAuditRepository()
	sink := NewAuditSink(db, repo)

	sink.SubscriberFailed(context.Background(), "notifications",
		Event{Type: PayoutFailed, AggregateID: "p-1"}, errors.New("smtp down"))

	entries, err := repo.List(db, AuditSourceSubscriber, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PayoutFailed", entries[0].EventType)
	assert.Equal(t, "notifications", *entries[0].Subscriber)
	assert.Equal(t, "smtp down", entries[0].Message)
}

func newPipeline(t *testing.T) (*gorm.DB, *Outbox, *Bus, *Dispatcher) {
	db := testutil.NewTestDB(t)
	repo := repositories.NewOutboxRepository()
	bus := NewBus(1, NewAuditSink(db, repositories.NewAuditRepository()))
	return db, NewOutbox(repo), bus, NewDispatcher(db, repo, bus, 2, time.Minute)
}

func TestOutbox_RollbackDiscardsEvents(t *testing.T) {
	db, outbox, _, _ := newPipeline(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, outbox.Record(tx, New(GigCreated, AggregateGig, "g-1", Payload{GigID: "g-1"})))
		return errors.New("abort")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDispatcher_DeliversInPositionOrder(t *testing.T) {
	db, outbox, bus, dispatcher := newPipeline(t)

	var seen []string
	bus.Subscribe("recorder", func(ctx context.Context, e Event) error {
		seen = append(seen, e.Payload.MilestoneID)
		return nil
	})

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
			if err := outbox.Record(tx, New(MilestoneApproved, AggregateMilestone, id, Payload{MilestoneID: id})); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, dispatcher.Flush(context.Background()))
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, seen)

	// повторный Flush ничего не доставляет
	require.NoError(t, dispatcher.Flush(context.Background()))
	assert.Len(t, seen, 5)
}

func TestDispatcher_ReentrantFlushCoalesces(t *testing.T) {
	db, outbox, bus, dispatcher := newPipeline(t)

	var seen []Type
	bus.Subscribe("chain", func(ctx context.Context, e Event) error {
		seen = append(seen, e.Type)
		if e.Type != MilestoneApproved {
			return nil
		}
		// подписчик выполняет свою команду и сам вызывает Flush
		if err := db.Transaction(func(tx *gorm.DB) error {
			return outbox.Record(tx, New(PaymentReleased, AggregatePayment, "p-1", Payload{PaymentID: "p-1"}))
		}); err != nil {
			return err
		}
		return dispatcher.Flush(ctx)
	})

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return outbox.Record(tx, New(MilestoneApproved, AggregateMilestone, "m-1", Payload{MilestoneID: "m-1"}))
	}))

	require.NoError(t, dispatcher.Flush(context.Background()))
	assert.Equal(t, []Type{MilestoneApproved, PaymentReleased}, seen)
}

func TestDispatcher_ReclaimsAbandonedLease(t *testing.T) {
	db, outbox, bus, dispatcher := newPipeline(t)
	repo := repositories.NewOutboxRepository()

	delivered := 0
	bus.Subscribe("counter", func(ctx context.Context, e Event) error {
		delivered++
		return nil
	})

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if err := outbox.Record(tx, New(PaymentReleased, AggregatePayment, "p-old", Payload{PaymentID: "p-old"})); err != nil {
			return err
		}
		return outbox.Record(tx, New(PaymentReleased, AggregatePayment, "p-new", Payload{PaymentID: "p-new"}))
	}))

	var rows []models.OutboxEvent
	require.NoError(t, db.Order("position").Find(&rows).Error)
	require.Len(t, rows, 2)

	// процесс упал после захвата, но до публикации: один захват давний, другой свежий
	now := models.NowUTC()
	ok, err := repo.Claim(db, rows[0].ID, now.Add(-2*time.Minute), now.Add(-3*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.Claim(db, rows[1].ID, now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, dispatcher.Flush(context.Background()))
	assert.Equal(t, 1, delivered, "only the abandoned lease is redelivered")

	var reclaimed, held models.OutboxEvent
	require.NoError(t, db.First(&reclaimed, "id = ?", rows[0].ID).Error)
	assert.NotNil(t, reclaimed.DispatchedAt)
	assert.Nil(t, reclaimed.ClaimedAt)
	assert.Equal(t, 2, reclaimed.Attempts)

	require.NoError(t, db.First(&held, "id = ?", rows[1].ID).Error)
	assert.Nil(t, held.DispatchedAt)
	assert.NotNil(t, held.ClaimedAt)
}

func TestOutbox_ClaimedRowPendingOnlyAfterRelease(t *testing.T) {
	db, outbox, _, dispatcher := newPipeline(t)
	repo := repositories.NewOutboxRepository()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return outbox.Record(tx, New(GigCreated, AggregateGig, "g-1", Payload{GigID: "g-1"}))
	}))
	// строка захвачена, но не закрыта: событие еще не отправлено
	var row models.OutboxEvent
	require.NoError(t, db.First(&row).Error)
	ok, err := repo.Claim(db, row.ID, models.NowUTC(), models.NowUTC().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	pending, err := repo.ListPending(db, models.NowUTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, repo.RecordFailure(db, row.ID, "boom"))
	pending, err = repo.ListPending(db, models.NowUTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "boom", *pending[0].LastError)

	require.NoError(t, dispatcher.Flush(context.Background()))
	pending, err = repo.ListPending(db, models.NowUTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFromRow_RestoresPayload(t *testing.T) {
	row := models.OutboxEvent{
		ID:          "e-1",
		Position:    7,
		EventType:   string(PaymentHeld),
		AggregateID: "p-9",
		Payload:     Payload{PaymentID: "p-9", Amount: 150000}.JSON(),
	}
	e, err := FromRow(row)
	require.NoError(t, err)
	assert.Equal(t, PaymentHeld, e.Type)
	assert.Equal(t, int64(7), e.Position)
	assert.Equal(t, int64(150000), e.Payload.Amount)
}
