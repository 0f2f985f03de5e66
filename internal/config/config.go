// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and MINDSHARE_* environment variables on top.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
	"time"
)

// Storage and cache driver names.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Settlement judge names.
const (
	JudgeExact = "exact"
	JudgeTopN  = "topn"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFile optionally mirrors logs into a rotated file.
	LogFile string `koanf:"log_file"`
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// EventQueueSize bounds the in-memory chain event queue.
	EventQueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of chain event workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize sets the size of the chain event deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`
	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// StoreDriver selects the persistence port: memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	// StoreDSN is the gorm DSN for sqlite/postgres.
	StoreDSN string `koanf:"store_dsn"`

	// CacheDriver selects the reputation cache: memory or redis.
	CacheDriver string `koanf:"cache_driver"`
	// RedisAddr is used when CacheDriver is redis.
	RedisAddr string `koanf:"redis_addr"`
	// ReputationCacheTTL is how long a reputation record is served from cache.
	ReputationCacheTTL time.Duration `koanf:"reputation_cache_ttl"`

	// VerificationURL is the base URL of the verification signal provider.
	// Empty disables the lookup and the neutral signal is used.
	VerificationURL string `koanf:"verification_url"`
	// VerificationTimeout bounds a single provider call.
	VerificationTimeout time.Duration `koanf:"verification_timeout"`

	// RoundAnchor is the RFC3339 start of the first weekly round.
	RoundAnchor string `koanf:"round_anchor"`
	// RoundLength is the duration of each prediction round.
	RoundLength time.Duration `koanf:"round_length"`
	// SchedulerInterval is how often the scheduler checks round deadlines.
	SchedulerInterval time.Duration `koanf:"scheduler_interval"`

	// EarlyBirdWindow marks predictions submitted within it as early-bird.
	EarlyBirdWindow time.Duration `koanf:"early_bird_window"`
	// EarlyBirdShare is the fraction of the reward pool reserved for early birds.
	EarlyBirdShare float64 `koanf:"early_bird_share"`
	// PlatformFeeRate is the fraction of forfeited stake retained by the treasury.
	PlatformFeeRate float64 `koanf:"platform_fee_rate"`
	// TreasuryAddress receives retained platform fees.
	TreasuryAddress string `koanf:"treasury_address"`
	// Judge selects how correctness is decided: exact or topn.
	Judge string `koanf:"judge"`
	// JudgeTopN is the cut-off used by the topn judge.
	JudgeTopN int `koanf:"judge_top_n"`

	// RateLimitRPS and RateLimitBurst bound prediction submissions per client.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		EventQueueSize:      100_000,
		WorkerCount:         runtime.NumCPU() * 4,
		DedupeSize:          500_000,
		MaxLeaderboardLimit: 100,
		StoreDriver:         DriverMemory,
		CacheDriver:         DriverMemory,
		ReputationCacheTTL:  5 * time.Minute,
		VerificationTimeout: 2 * time.Second,
		RoundAnchor:         "2024-01-01T00:00:00Z",
		RoundLength:         7 * 24 * time.Hour,
		SchedulerInterval:   time.Minute,
		EarlyBirdWindow:     24 * time.Hour,
		EarlyBirdShare:      0.10,
		PlatformFeeRate:     0,
		TreasuryAddress:     "0x000000000000000000000000000000000000fEe5",
		Judge:               JudgeExact,
		JudgeTopN:           10,
		RateLimitRPS:        5,
		RateLimitBurst:      10,
	}
}

// Anchor parses RoundAnchor.
func (c *Config) Anchor() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.RoundAnchor)
	if err != nil {
		return time.Time{}, wrapInvalid("round_anchor", err)
	}
	return t.UTC(), nil
}
