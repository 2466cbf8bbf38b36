package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverride(t *testing.T) {
	t.Setenv("APP_DATABASE_DSN", "user:pw@tcp(db:3306)/ledger")
	t.Setenv("APP_LEDGER_MINIMUM_PAYOUT", "50.00")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "commission-ledger", cfg.ServiceName)
	assert.Equal(t, "user:pw@tcp(db:3306)/ledger", cfg.Database.DSN)
	assert.Equal(t, 14*24*time.Hour, cfg.Ledger.HoldWindow)
	assert.Equal(t, 24*time.Hour, cfg.Ledger.BatchWindow)
	assert.Equal(t, "50", cfg.Ledger.MinimumPayoutAmount().String())
	assert.Equal(t, "600", cfg.Ledger.TaxReportThresholdAmount().String())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
service_name = "ledger-test"

[database]
driver = "postgres"
dsn = "postgres://localhost/ledger"

[ledger]
hold_window = "72h"
platform_fee_percent = "0.10"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ledger-test", cfg.ServiceName)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 72*time.Hour, cfg.Ledger.HoldWindow)
	assert.Equal(t, "0.10", cfg.Ledger.PlatformFeePercent)
	assert.Equal(t, "0.20", cfg.Ledger.ReferralOfPlatformRate)
}

func TestValidateRejectsBadLedgerSettings(t *testing.T) {
	t.Setenv("APP_DATABASE_DSN", "dsn")

	cases := map[string]string{
		"APP_LEDGER_MINIMUM_PAYOUT":        "abc",
		"APP_LEDGER_PLATFORM_FEE_PERCENT":  "-0.1",
		"APP_LEDGER_MAX_TRANSFER_ATTEMPTS": "0",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
