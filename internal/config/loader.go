package config

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MINDSHARE_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if MINDSHARE_CONFIG is set
//  3. env (prefix MINDSHARE_)
func Load(_ context.Context) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, wrapLoad(err)
		}
	}

	// Map env keys like MINDSHARE_QUEUE_SIZE -> queue_size (flat keys).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, wrapLoad(err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, wrapLoad(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return wrapInvalid("addr", errors.New("addr must not be empty"))
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.StoreDSN == "" {
			return wrapInvalid("store_dsn", errors.New("store_dsn is required for "+c.StoreDriver))
		}
	default:
		return wrapInvalid("store_driver", errors.New("unknown driver "+c.StoreDriver))
	}
	switch c.CacheDriver {
	case DriverMemory:
	case DriverRedis:
		if c.RedisAddr == "" {
			return wrapInvalid("redis_addr", errors.New("redis_addr is required for redis cache"))
		}
	default:
		return wrapInvalid("cache_driver", errors.New("unknown driver "+c.CacheDriver))
	}
	if c.RoundLength <= 0 {
		return wrapInvalid("round_length", errors.New("must be positive"))
	}
	if c.EarlyBirdWindow < 0 || c.EarlyBirdWindow > c.RoundLength {
		return wrapInvalid("early_bird_window", errors.New("must be within the round length"))
	}
	if c.EarlyBirdShare < 0 || c.EarlyBirdShare > 1 {
		return wrapInvalid("early_bird_share", errors.New("must be in [0,1]"))
	}
	if c.PlatformFeeRate < 0 || c.PlatformFeeRate > 1 {
		return wrapInvalid("platform_fee_rate", errors.New("must be in [0,1]"))
	}
	switch c.Judge {
	case JudgeExact:
	case JudgeTopN:
		if c.JudgeTopN < 1 {
			return wrapInvalid("judge_top_n", errors.New("must be at least 1"))
		}
	default:
		return wrapInvalid("judge", errors.New("unknown judge "+c.Judge))
	}
	if _, err := c.Anchor(); err != nil {
		return err
	}
	return nil
}
