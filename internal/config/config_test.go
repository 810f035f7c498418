package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesDocumentedValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10.0, cfg.Fees.PlatformFeePercent)
	assert.Equal(t, 3.5, cfg.Fees.PaymentFeeCard)
	assert.Equal(t, 0.85, cfg.Fees.PaymentFeeEft)
	assert.Equal(t, 2, cfg.Milestones.MaxRevisionsDefault)
	assert.Equal(t, []int{30, 120, 600}, cfg.Payouts.BackoffSeconds)
	assert.Equal(t, 50, cfg.Applications.CoverLetterMin)
	assert.Equal(t, 5000, cfg.Applications.CoverLetterMax)
	assert.Equal(t, 1, cfg.Applications.ActiveLimit)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
fees:
  platform_fee_percent: 12.5
payouts:
  backoff_seconds: [5, 10]
`), 0o600))

	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("DATABASE_URL", "postgres://env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, 12.5, cfg.Fees.PlatformFeePercent)
	assert.Equal(t, []int{5, 10}, cfg.Payouts.BackoffSeconds)
	// не указанное в файле остается по умолчанию
	assert.Equal(t, 0.85, cfg.Fees.PaymentFeeEft)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_BackoffFromEnv(t *testing.T) {
	t.Setenv("PAYOUT_BACKOFF_SECONDS", "1, 2,x,3")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, cfg.Payouts.BackoffSeconds)
}

func TestValidate_RejectsLiveGatewayWithoutSecret(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Mode = "live"
	assert.Error(t, cfg.Validate())
}

func TestPayoutBackoff_ClampsToLastStep(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.PayoutBackoff(1))
	assert.Equal(t, 120*time.Second, cfg.PayoutBackoff(2))
	assert.Equal(t, 600*time.Second, cfg.PayoutBackoff(3))
	assert.Equal(t, 600*time.Second, cfg.PayoutBackoff(10))
	assert.Equal(t, 30*time.Second, cfg.PayoutBackoff(0))
}
