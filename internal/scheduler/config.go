package scheduler

import (
	"time"

	"github.com/smallbiznis/allocsync/internal/config"
)

// Config controls the run loop and the optional pass lock.
type Config struct {
	Interval time.Duration
	LockKey  string
	LockTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		LockKey:  "allocsync:pass",
		LockTTL:  30 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{Interval: cfg.Sync.Interval}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
