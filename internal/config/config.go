/**
 * @description
 * This package handles the configuration management for the earnings-service.
 * It uses Viper to read environment variables (and an optional .env file),
 * then coerces invalid values back to safe defaults with a warning so a typo
 * never takes the service down.
 *
 * @dependencies
 * - github.com/spf13/viper: Environment binding and unmarshalling.
 * - github.com/shopspring/decimal: Exact fee and multiplier values.
 * - internal/earnings, internal/progression: Parsers for the rate card and level curve.
 */

package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/earnings"
	"github.com/citypulse/earnings-service/internal/progression"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config holds all the configuration variables for the earnings-service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	Environment          string `mapstructure:"ENVIRONMENT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	CORSAllowedOrigins   string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	SessionProcessingQueue   string `mapstructure:"SESSION_PROCESSING_QUEUE"`
	EarningsCalculationQueue string `mapstructure:"EARNINGS_CALCULATION_QUEUE"`
	WithdrawalQueue          string `mapstructure:"WITHDRAWAL_QUEUE"`
	NotificationQueue        string `mapstructure:"NOTIFICATION_QUEUE"`

	WorkerConcurrency       int `mapstructure:"WORKER_CONCURRENCY"`
	WorkerMaxAttempts       int `mapstructure:"WORKER_MAX_ATTEMPTS"`
	WorkerRetryBaseDelayMs  int `mapstructure:"WORKER_RETRY_BASE_DELAY_MS"`
	WorkerHandlerTimeoutSec int `mapstructure:"WORKER_HANDLER_TIMEOUT_SECONDS"`

	JWTSecret                  string `mapstructure:"JWT_SECRET"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	CredentialEncryptionSecret string `mapstructure:"CREDENTIAL_ENCRYPTION_SECRET"`

	GCashAPIURL            string `mapstructure:"GCASH_API_URL"`
	GCashAPIKey            string `mapstructure:"GCASH_API_KEY"`
	GCashMerchantID        string `mapstructure:"GCASH_MERCHANT_ID"`
	GrabPayAPIURL          string `mapstructure:"GRABPAY_API_URL"`
	GrabPayAPIKey          string `mapstructure:"GRABPAY_API_KEY"`
	GrabPayMerchantID      string `mapstructure:"GRABPAY_MERCHANT_ID"`
	BankTransferAPIURL     string `mapstructure:"BANK_TRANSFER_API_URL"`
	BankTransferAPIKey     string `mapstructure:"BANK_TRANSFER_API_KEY"`
	BankTransferMerchantID string `mapstructure:"BANK_TRANSFER_MERCHANT_ID"`

	ScoringServiceURL   string `mapstructure:"SCORING_SERVICE_URL"`
	ScoringServiceToken string `mapstructure:"SCORING_SERVICE_TOKEN"`

	MinWithdrawal                int64  `mapstructure:"MIN_WITHDRAWAL"`
	MaxWithdrawal                int64  `mapstructure:"MAX_WITHDRAWAL"`
	DailyWithdrawalLimit         int64  `mapstructure:"DAILY_WITHDRAWAL_LIMIT"`
	WithdrawalFeePercentRaw      string `mapstructure:"WITHDRAWAL_FEE_PERCENT"`
	WithdrawalRateLimitPerMinute int    `mapstructure:"WITHDRAWAL_RATE_LIMIT_PER_MINUTE"`

	RatePerKmPassive       int64  `mapstructure:"RATE_PER_KM_PASSIVE"`
	RatePerKmDashcam       int64  `mapstructure:"RATE_PER_KM_DASHCAM"`
	RatePerKmExplore       int64  `mapstructure:"RATE_PER_KM_EXPLORE"`
	CreditsPerCashUnit     int64  `mapstructure:"CREDITS_PER_CASH_UNIT"`
	QualityTiersRaw        string `mapstructure:"QUALITY_TIERS"`
	SessionBaseXP          int64  `mapstructure:"SESSION_BASE_XP"`
	XPPerKm                int64  `mapstructure:"XP_PER_KM"`
	QualityXPMultiplierRaw string `mapstructure:"QUALITY_XP_MULTIPLIER"`
	LevelThresholdsRaw     string `mapstructure:"LEVEL_THRESHOLDS"`

	LevelUpBonusPerLevel int64  `mapstructure:"LEVEL_UP_BONUS_PER_LEVEL"`
	StreakBonusPerDay    int64  `mapstructure:"STREAK_BONUS_PER_DAY"`
	StreakBonusCap       int64  `mapstructure:"STREAK_BONUS_CAP"`
	StreakTimezone       string `mapstructure:"STREAK_TIMEZONE"`

	StuckThresholdMinutes    int    `mapstructure:"STUCK_THRESHOLD_MINUTES"`
	DailyChallengeCron       string `mapstructure:"DAILY_CHALLENGE_CRON"`
	WithdrawalRedispatchCron string `mapstructure:"WITHDRAWAL_REDISPATCH_CRON"`
	StuckReportCron          string `mapstructure:"STUCK_REPORT_CRON"`

	// Parsed forms of the raw values above.
	WithdrawalFeePercent decimal.Decimal `mapstructure:"-"`
	QualityTiers         []earnings.Tier `mapstructure:"-"`
	QualityXPMultiplier  decimal.Decimal `mapstructure:"-"`
	LevelThresholds      []int64         `mapstructure:"-"`
	Location             *time.Location  `mapstructure:"-"`
}

// IsProduction reports whether real payout and scoring providers are used.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// EarningsRates builds the rate card for the earnings calculator.
func (c Config) EarningsRates() earnings.Rates {
	return earnings.Rates{
		RatePerKm: map[domain.SessionMode]int64{
			domain.ModePassive: c.RatePerKmPassive,
			domain.ModeDashcam: c.RatePerKmDashcam,
			domain.ModeExplore: c.RatePerKmExplore,
		},
		Tiers:               c.QualityTiers,
		CreditsPerCashUnit:  c.CreditsPerCashUnit,
		SessionBaseXP:       c.SessionBaseXP,
		XPPerKm:             c.XPPerKm,
		QualityXPMultiplier: c.QualityXPMultiplier,
	}
}

// StuckAfter is how long a session or withdrawal may sit in processing
// before it is reported.
func (c Config) StuckAfter() time.Duration {
	return time.Duration(c.StuckThresholdMinutes) * time.Minute
}

var defaults = map[string]interface{}{
	"SERVER_PORT":             "8080",
	"ENVIRONMENT":             EnvDevelopment,
	"REDIS_RATE_LIMIT_PREFIX": "citypulse:rate_limit",
	"CORS_ALLOWED_ORIGINS":    "*",

	"SESSION_PROCESSING_QUEUE":   "session-processing",
	"EARNINGS_CALCULATION_QUEUE": "earnings-calculation",
	"WITHDRAWAL_QUEUE":           "withdrawal",
	"NOTIFICATION_QUEUE":         "notification",

	"WORKER_CONCURRENCY":             4,
	"WORKER_MAX_ATTEMPTS":            3,
	"WORKER_RETRY_BASE_DELAY_MS":     2000,
	"WORKER_HANDLER_TIMEOUT_SECONDS": 60,

	"MIN_WITHDRAWAL":                   5000,
	"MAX_WITHDRAWAL":                   500000,
	"DAILY_WITHDRAWAL_LIMIT":           500000,
	"WITHDRAWAL_FEE_PERCENT":           "0",
	"WITHDRAWAL_RATE_LIMIT_PER_MINUTE": 5,

	"RATE_PER_KM_PASSIVE":   1,
	"RATE_PER_KM_DASHCAM":   10,
	"RATE_PER_KM_EXPLORE":   25,
	"CREDITS_PER_CASH_UNIT": 10,
	"QUALITY_TIERS":         "90:1.5,70:1.2,50:1.0,0:0.7",
	"SESSION_BASE_XP":       10,
	"XP_PER_KM":             5,
	"QUALITY_XP_MULTIPLIER": "0.5",
	"LEVEL_THRESHOLDS":      "",

	"LEVEL_UP_BONUS_PER_LEVEL": 10,
	"STREAK_BONUS_PER_DAY":     5,
	"STREAK_BONUS_CAP":         0,
	"STREAK_TIMEZONE":          "UTC",

	"STUCK_THRESHOLD_MINUTES":    15,
	"DAILY_CHALLENGE_CRON":       "5 0 * * *",
	"WITHDRAWAL_REDISPATCH_CRON": "@every 1m",
	"STUCK_REPORT_CRON":          "@every 5m",
}

var boundOnly = []string{
	"DATABASE_URL", "REDIS_URL", "RABBITMQ_URL",
	"JWT_SECRET", "INTERNAL_API_KEY", "CREDENTIAL_ENCRYPTION_SECRET",
	"GCASH_API_URL", "GCASH_API_KEY", "GCASH_MERCHANT_ID",
	"GRABPAY_API_URL", "GRABPAY_API_KEY", "GRABPAY_MERCHANT_ID",
	"BANK_TRANSFER_API_URL", "BANK_TRANSFER_API_KEY", "BANK_TRANSFER_MERCHANT_ID",
	"SCORING_SERVICE_URL", "SCORING_SERVICE_TOKEN",
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	logger := slog.Default().With("component", "config")

	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		viper.SetDefault(key, value)
		_ = viper.BindEnv(key)
	}
	for _, key := range boundOnly {
		_ = viper.BindEnv(key)
	}

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logger.Warn("failed to read config file; using environment values", "err", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	coerce(&config, logger)
	return
}

func coerce(c *Config, logger *slog.Logger) {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		logger.Warn("unknown environment; using development", "environment", c.Environment)
		c.Environment = EnvDevelopment
	}
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RedisRateLimitPrefix = strings.TrimSpace(c.RedisRateLimitPrefix)
	if c.RedisRateLimitPrefix == "" {
		c.RedisRateLimitPrefix = "citypulse:rate_limit"
	}
	c.InternalAPIKey = strings.TrimSpace(c.InternalAPIKey)

	positiveInt(&c.WorkerConcurrency, 4, "WORKER_CONCURRENCY", logger)
	positiveInt(&c.WorkerMaxAttempts, 3, "WORKER_MAX_ATTEMPTS", logger)
	positiveInt(&c.WorkerRetryBaseDelayMs, 2000, "WORKER_RETRY_BASE_DELAY_MS", logger)
	positiveInt(&c.WorkerHandlerTimeoutSec, 60, "WORKER_HANDLER_TIMEOUT_SECONDS", logger)
	positiveInt(&c.WithdrawalRateLimitPerMinute, 5, "WITHDRAWAL_RATE_LIMIT_PER_MINUTE", logger)
	positiveInt(&c.StuckThresholdMinutes, 15, "STUCK_THRESHOLD_MINUTES", logger)

	positiveInt64(&c.MinWithdrawal, 5000, "MIN_WITHDRAWAL", logger)
	positiveInt64(&c.MaxWithdrawal, 500000, "MAX_WITHDRAWAL", logger)
	positiveInt64(&c.DailyWithdrawalLimit, 500000, "DAILY_WITHDRAWAL_LIMIT", logger)
	if c.MaxWithdrawal < c.MinWithdrawal {
		logger.Warn("max withdrawal below minimum; raising to minimum", "min", c.MinWithdrawal, "max", c.MaxWithdrawal)
		c.MaxWithdrawal = c.MinWithdrawal
	}
	positiveInt64(&c.CreditsPerCashUnit, 10, "CREDITS_PER_CASH_UNIT", logger)
	nonNegativeInt64(&c.RatePerKmPassive, 1, "RATE_PER_KM_PASSIVE", logger)
	nonNegativeInt64(&c.RatePerKmDashcam, 10, "RATE_PER_KM_DASHCAM", logger)
	nonNegativeInt64(&c.RatePerKmExplore, 25, "RATE_PER_KM_EXPLORE", logger)
	nonNegativeInt64(&c.SessionBaseXP, 10, "SESSION_BASE_XP", logger)
	nonNegativeInt64(&c.XPPerKm, 5, "XP_PER_KM", logger)
	nonNegativeInt64(&c.LevelUpBonusPerLevel, 10, "LEVEL_UP_BONUS_PER_LEVEL", logger)
	nonNegativeInt64(&c.StreakBonusPerDay, 5, "STREAK_BONUS_PER_DAY", logger)
	nonNegativeInt64(&c.StreakBonusCap, 0, "STREAK_BONUS_CAP", logger)

	c.WithdrawalFeePercent = decimal.Zero
	if fee, err := decimal.NewFromString(strings.TrimSpace(c.WithdrawalFeePercentRaw)); err != nil {
		logger.Warn("invalid WITHDRAWAL_FEE_PERCENT; using 0", "value", c.WithdrawalFeePercentRaw, "err", err)
	} else if fee.IsNegative() {
		logger.Warn("negative withdrawal fee percent configured; coercing to zero", "fee_percent", fee.String())
	} else if fee.GreaterThan(decimal.NewFromInt(100)) {
		logger.Warn("withdrawal fee percent too high; capping at 100", "fee_percent", fee.String())
		c.WithdrawalFeePercent = decimal.NewFromInt(100)
	} else {
		c.WithdrawalFeePercent = fee
	}

	c.QualityXPMultiplier = decimal.RequireFromString("0.5")
	if m, err := decimal.NewFromString(strings.TrimSpace(c.QualityXPMultiplierRaw)); err != nil || m.IsNegative() {
		logger.Warn("invalid QUALITY_XP_MULTIPLIER; using 0.5", "value", c.QualityXPMultiplierRaw)
	} else {
		c.QualityXPMultiplier = m
	}

	c.QualityTiers = earnings.DefaultTiers()
	if tiers, err := earnings.ParseTiers(c.QualityTiersRaw); err != nil || len(tiers) == 0 {
		logger.Warn("invalid QUALITY_TIERS; using defaults", "value", c.QualityTiersRaw, "err", err)
	} else {
		c.QualityTiers = tiers
	}

	c.LevelThresholds = progression.DefaultThresholds
	if raw := strings.TrimSpace(c.LevelThresholdsRaw); raw != "" {
		thresholds, err := progression.ParseThresholds(raw)
		if err == nil {
			_, err = progression.NewCurve(thresholds, progression.DefaultTitles)
		}
		if err != nil {
			logger.Warn("invalid LEVEL_THRESHOLDS; using defaults", "err", err)
		} else {
			c.LevelThresholds = thresholds
		}
	}

	c.Location = time.UTC
	if tz := strings.TrimSpace(c.StreakTimezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logger.Warn("invalid STREAK_TIMEZONE; using UTC", "value", tz, "err", err)
		} else {
			c.Location = loc
		}
	}
}

func positiveInt(v *int, fallback int, key string, logger *slog.Logger) {
	if *v <= 0 {
		logger.Warn("non-positive value configured; using default", "key", key, "value", *v, "default", fallback)
		*v = fallback
	}
}

func positiveInt64(v *int64, fallback int64, key string, logger *slog.Logger) {
	if *v <= 0 {
		logger.Warn("non-positive value configured; using default", "key", key, "value", *v, "default", fallback)
		*v = fallback
	}
}

func nonNegativeInt64(v *int64, fallback int64, key string, logger *slog.Logger) {
	if *v < 0 {
		logger.Warn("negative value configured; using default", "key", key, "value", *v, "default", fallback)
		*v = fallback
	}
}
