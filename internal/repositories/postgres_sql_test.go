package repositories

import (
	"testing"

	"trustwork_backend/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newMockPostgres - gorm с диалектом Postgres поверх sqlmock
func newMockPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestFindByIDForUpdate_LocksRowOnPostgres(t *testing.T) {
	db, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"id", "employer_id", "title", "status", "version"}).
		AddRow("a-1", "e-1", "Landing page", "open", 4)
	mock.ExpectQuery(`SELECT \* FROM "assignments" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(rows)

	a, err := NewAssignmentRepository().FindByIDForUpdate(db, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusOpen, a.Status)
	assert.EqualValues(t, 4, a.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_GuardsOnVersionOnPostgres(t *testing.T) {
	db, mock := newMockPostgres(t)
	repo := NewEscrowRepository()
	p := &models.EscrowPayment{}
	p.ID = "p-1"
	p.Version = 3

	mock.ExpectExec(`UPDATE "escrow_payments" SET .*"version"=version \+ 1 WHERE id = \$\d+ AND version = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(db, p, map[string]interface{}{"status": models.PaymentStatusReleased})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.EqualValues(t, 3, p.Version)

	mock.ExpectExec(`UPDATE "escrow_payments" SET .*"version"=version \+ 1 WHERE id = \$\d+ AND version = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(db, p, map[string]interface{}{"status": models.PaymentStatusReleased}))
	assert.EqualValues(t, 4, p.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAllRead_SingleStatementOnPostgres(t *testing.T) {
	db, mock := newMockPostgres(t)

	mock.ExpectQuery(`UPDATE notifications SET is_read = \$1, read_at = \$2 WHERE user_id = \$3 AND is_read = \$4 RETURNING id`).
		WithArgs(true, sqlmock.AnyArg(), "u-1", false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("n-1").AddRow("n-2"))

	ids, err := NewNotificationRepository().MarkAllRead(db, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n-1", "n-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOnce_SkipsConflictOnPostgres(t *testing.T) {
	db, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO "notifications" .*ON CONFLICT \("event_id","user_id"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	eventID := "e-1"
	inserted, err := NewNotificationRepository().CreateOnce(db, &models.Notification{
		UserID:   "u-1",
		EventID:  &eventID,
		Type:     models.NotificationTypeSystem,
		Priority: models.PriorityLow,
		Title:    "hello",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}
