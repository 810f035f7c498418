package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersions_AreSequential(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3, 4}, versions)
}

func TestUpMigrations_CreateRequiredIndexes(t *testing.T) {
	var all strings.Builder
	versions, err := Versions()
	require.NoError(t, err)
	for _, v := range versions {
		body, err := ReadUp(v)
		require.NoError(t, err)
		all.WriteString(body)
	}
	sql := all.String()

	for _, idx := range []string{
		"ON applications (assignment_id, status)",
		"ON applications (freelancer_id, status)",
		"ON milestones (gig_id, ordinal)",
		"ON escrow_payments (gig_id, status)",
		"ON notifications (user_id, is_read, created_at DESC)",
	} {
		assert.Contains(t, sql, idx)
	}
	for _, table := range []string{"profiles", "bank_accounts", "assignments", "applications", "gigs",
		"milestones", "escrow_payments", "notifications", "outbox_events", "audit_entries"} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
