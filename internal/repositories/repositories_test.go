package repositories

import (
	"errors"
	"testing"

	"trustwork_backend/internal/models"
	"trustwork_backend/internal/testutil"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestVisibleApplications_ApplicantAndOwnerOnly(t *testing.T) {
	db := testutil.NewTestDB(t)
	fx := testutil.NewFixtures(t, db)
	repo := NewApplicationRepository()

	_, employer := fx.Employer()
	_, applicant := fx.Freelancer("f1")
	_, stranger := fx.Freelancer("f2")
	_, admin := fx.Admin()

	a := fx.OpenAssignment(employer.UserID, 10000)
	app := fx.Application(a.ID, applicant.UserID, models.ApplicationStatusPending)

	got, err := repo.FindVisible(db, employer, app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)

	_, err = repo.FindVisible(db, applicant, app.ID)
	require.NoError(t, err)

	_, err = repo.FindVisible(db, admin, app.ID)
	require.NoError(t, err)

	_, err = repo.FindVisible(db, stranger, app.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVisibleAssignments_OpenArePublic(t *testing.T) {
	db := testutil.NewTestDB(t)
	fx := testutil.NewFixtures(t, db)
	repo := NewAssignmentRepository()

	_, employer := fx.Employer()
	_, freelancer := fx.Freelancer("f1")

	open := fx.OpenAssignment(employer.UserID, 5000)
	draft := fx.OpenAssignment(employer.UserID, 5000)
	require.NoError(t, repo.Update(db, draft, map[string]interface{}{"status": models.AssignmentStatusDraft}))

	_, err := repo.FindVisible(db, freelancer, open.ID)
	require.NoError(t, err)

	_, err = repo.FindVisible(db, freelancer, draft.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindVisible(db, employer, draft.ID)
	require.NoError(t, err)
}

func TestVisiblePaymentsAndMilestones_PartiesOnly(t *testing.T) {
	db := testutil.NewTestDB(t)
	fx := testutil.NewFixtures(t, db)

	_, client := fx.Employer()
	_, freelancer := fx.Freelancer("f1")
	_, stranger := fx.Freelancer("f2")

	gig := fx.Gig(client.UserID, freelancer.UserID, 1000, models.GigStatusOpen)
	ms := fx.Milestones(gig, 2)
	payment := fx.HeldPayment(gig, ms[0], 500)

	payments := NewEscrowRepository()
	_, err := payments.FindVisible(db, freelancer, payment.ID)
	require.NoError(t, err)
	_, err = payments.FindVisible(db, stranger, payment.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, total, err := payments.ListVisible(db, client, PaymentFilter{GigID: gig.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)

	milestones := NewMilestoneRepository()
	_, err = milestones.FindVisible(db, client, ms[1].ID)
	require.NoError(t, err)
	_, err = milestones.FindVisible(db, stranger, ms[1].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateVersioned_DetectsStaleVersion(t *testing.T) {
	db := testutil.NewTestDB(t)
	fx := testutil.NewFixtures(t, db)
	repo := NewGigRepository()

	_, client := fx.Employer()
	_, freelancer := fx.Freelancer("f1")
	gig := fx.Gig(client.UserID, freelancer.UserID, 1000, models.GigStatusOpen)

	stale := *gig
	require.NoError(t, repo.Update(db, gig, map[string]interface{}{"status": models.GigStatusInProgress}))
	assert.EqualValues(t, 2, gig.Version)

	err := repo.Update(db, &stale, map[string]interface{}{"status": models.GigStatusCancelled})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.EqualValues(t, 1, stale.Version)

	fresh, err := repo.FindByID(db, gig.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GigStatusInProgress, fresh.Status)
	assert.EqualValues(t, 2, fresh.Version)
}

func TestReplaceForGig_DuplicateOrdinalIsConflict(t *testing.T) {
	db := testutil.NewTestDB(t)
	fx := testutil.NewFixtures(t, db)
	repo := NewMilestoneRepository()

	_, client := fx.Employer()
	_, freelancer := fx.Freelancer("f1")
	gig := fx.Gig(client.UserID, freelancer.UserID, 1000, models.GigStatusOpen)

	err := repo.ReplaceForGig(db, gig.ID, []*models.Milestone{
		{GigID: gig.ID, Ordinal: 1, Title: "a", Amount: 500, Percentage: 50, MaxRevisions: 2},
		{GigID: gig.ID, Ordinal: 1, Title: "b", Amount: 500, Percentage: 50, MaxRevisions: 2},
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	err = repo.ReplaceForGig(db, gig.ID, []*models.Milestone{
		{GigID: gig.ID, Ordinal: 2, Title: "second", Amount: 400, Percentage: 40, MaxRevisions: 2},
		{GigID: gig.ID, Ordinal: 1, Title: "first", Amount: 600, Percentage: 60, MaxRevisions: 2},
	})
	require.NoError(t, err)

	ms, err := repo.ListByGig(db, gig.ID)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "first", ms[0].Title)
	assert.EqualValues(t, 1, ms[0].Version)
}

func TestNotifications_MarkAllReadReturnsChangedOnly(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewNotificationRepository()

	for i := 0; i < 3; i++ {
		_, err := repo.CreateOnce(db, &models.Notification{
			UserID:   "00000000-0000-0000-0000-000000000001",
			Type:     models.NotificationTypeSystem,
			Priority: models.PriorityLow,
			Title:    "hello",
		})
		require.NoError(t, err)
	}
	list, _, err := repo.List(db, "00000000-0000-0000-0000-000000000001", false, Pagination{})
	require.NoError(t, err)
	require.Len(t, list, 3)

	changed, err := repo.MarkRead(db, "00000000-0000-0000-0000-000000000001", list[0].ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.MarkRead(db, "00000000-0000-0000-0000-000000000001", list[0].ID)
	require.NoError(t, err)
	assert.False(t, changed)

	ids, err := repo.MarkAllRead(db, "00000000-0000-0000-0000-000000000001")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.NotContains(t, ids, list[0].ID)

	ids, err = repo.MarkAllRead(db, "00000000-0000-0000-0000-000000000001")
	require.NoError(t, err)
	assert.Empty(t, ids)

	n, err := repo.CountUnread(db, "00000000-0000-0000-0000-000000000001")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = repo.Delete(db, "00000000-0000-0000-0000-000000000002", list[1].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotifications_CreateOncePerEventAndUser(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewNotificationRepository()
	eventID := "6f1c1a52-3b8e-4d47-9a0b-2f1e5c7d9a11"

	newRow := func(userID string) *models.Notification {
		return &models.Notification{
			UserID:   userID,
			EventID:  &eventID,
			Type:     models.NotificationTypePayment,
			Priority: models.PriorityHigh,
			Title:    "Payment released",
		}
	}

	inserted, err := repo.CreateOnce(db, newRow("00000000-0000-0000-0000-000000000001"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.CreateOnce(db, newRow("00000000-0000-0000-0000-000000000001"))
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = repo.CreateOnce(db, newRow("00000000-0000-0000-0000-000000000002"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// уведомления без события не дедуплицируются
	for i := 0; i < 2; i++ {
		inserted, err = repo.CreateOnce(db, &models.Notification{
			UserID:   "00000000-0000-0000-0000-000000000001",
			Type:     models.NotificationTypeSystem,
			Priority: models.PriorityLow,
			Title:    "hello",
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	n, err := repo.CountUnread(db, "00000000-0000-0000-0000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTranslate(t *testing.T) {
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound), ErrNotFound)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "23505"}), ErrDuplicate)
	assert.ErrorIs(t, translate(gorm.ErrDuplicatedKey), ErrDuplicate)

	other := errors.New("boom")
	assert.Equal(t, other, translate(other))
	assert.NoError(t, translate(nil))
}

func TestPaginationNormalized(t *testing.T) {
	assert.Equal(t, Pagination{Page: 1, PageSize: 20}, Pagination{}.normalized())
	assert.Equal(t, Pagination{Page: 3, PageSize: 100}, Pagination{Page: 3, PageSize: 500}.normalized())
}
