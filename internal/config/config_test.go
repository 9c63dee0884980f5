package config

import (
	"os"
	"testing"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/earnings"
	"github.com/citypulse/earnings-service/internal/progression"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadClean(t *testing.T) Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"ENVIRONMENT", "QUALITY_TIERS", "LEVEL_THRESHOLDS", "MIN_WITHDRAWAL", "PORT", "SERVER_PORT", "WITHDRAWAL_FEE_PERCENT", "STREAK_BONUS_CAP"} {
		unsetEnvWithCleanup(t, key)
	}
	cfg := loadClean(t)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "withdrawal", cfg.WithdrawalQueue)
	assert.Equal(t, "notification", cfg.NotificationQueue)
	assert.Equal(t, int64(5000), cfg.MinWithdrawal)
	assert.True(t, cfg.WithdrawalFeePercent.IsZero())
	assert.Equal(t, progression.DefaultThresholds, cfg.LevelThresholds)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, 15*time.Minute, cfg.StuckAfter())
	assert.Zero(t, cfg.StreakBonusCap)

	calc, err := earnings.NewCalculator(cfg.EarningsRates())
	require.NoError(t, err)
	b, err := calc.Calculate(earnings.Input{Mode: domain.ModeExplore, DistanceMeters: 20000, QualityScore: 95})
	require.NoError(t, err)
	assert.Equal(t, domain.Breakdown{Cash: 750, Credits: 7500, XP: 157}, b)
}

func TestLoadConfig_PortOverride(t *testing.T) {
	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")
	cfg := loadClean(t)
	assert.Equal(t, "7000", cfg.ServerPort)
}

func TestLoadConfig_ParsesTiersAndCurve(t *testing.T) {
	setEnvWithCleanup(t, "QUALITY_TIERS", "80:2.0,0:1.0")
	setEnvWithCleanup(t, "LEVEL_THRESHOLDS", "0,50,150")
	setEnvWithCleanup(t, "STREAK_TIMEZONE", "Asia/Manila")
	setEnvWithCleanup(t, "WITHDRAWAL_FEE_PERCENT", "1.5")
	cfg := loadClean(t)

	require.Len(t, cfg.QualityTiers, 2)
	assert.Equal(t, []int64{0, 50, 150}, cfg.LevelThresholds)
	assert.Equal(t, "Asia/Manila", cfg.Location.String())
	assert.Equal(t, "1.5", cfg.WithdrawalFeePercent.String())
}

func TestLoadConfig_CoercesInvalidValues(t *testing.T) {
	setEnvWithCleanup(t, "ENVIRONMENT", "prod-ish")
	setEnvWithCleanup(t, "QUALITY_TIERS", "ninety:lots")
	setEnvWithCleanup(t, "LEVEL_THRESHOLDS", "0,300,100")
	setEnvWithCleanup(t, "STREAK_TIMEZONE", "Mars/Olympus")
	setEnvWithCleanup(t, "WITHDRAWAL_FEE_PERCENT", "-2")
	setEnvWithCleanup(t, "WORKER_CONCURRENCY", "0")
	setEnvWithCleanup(t, "MIN_WITHDRAWAL", "10000")
	setEnvWithCleanup(t, "MAX_WITHDRAWAL", "2000")
	cfg := loadClean(t)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, earnings.DefaultTiers(), cfg.QualityTiers)
	assert.Equal(t, progression.DefaultThresholds, cfg.LevelThresholds)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.True(t, cfg.WithdrawalFeePercent.IsZero())
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, int64(10000), cfg.MaxWithdrawal)
}

func TestConfig_AllowedOrigins(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: " https://app.citypulse.ph, ,https://admin.citypulse.ph"}
	assert.Equal(t, []string{"https://app.citypulse.ph", "https://admin.citypulse.ph"}, cfg.AllowedOrigins())
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
