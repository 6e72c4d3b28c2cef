package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rubhub/payouts/internal/config"
)

const (
	JobWeeklySettlement = "weekly_settlement"

	defaultLockKey = "rubhub:payouts:settlement:lock"
)

// Config controls when the settlement job fires and how long a run may hold the lock.
type Config struct {
	Schedule   string
	Timezone   string
	RunTimeout time.Duration
	LockTTL    time.Duration
	LockKey    string
}

func FromPayoutConfig(cfg config.PayoutConfig) Config {
	return Config{
		Schedule:   cfg.Schedule,
		Timezone:   cfg.Timezone,
		RunTimeout: cfg.RunTimeout,
		LockTTL:    cfg.LockTTL,
		LockKey:    cfg.LockKey,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := config.DefaultPayoutConfig()
	if c.Schedule == "" {
		c.Schedule = defaults.Schedule
	}
	if c.Timezone == "" {
		c.Timezone = defaults.Timezone
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	// The lock must outlive the run it protects.
	if c.LockTTL < c.RunTimeout {
		c.LockTTL = c.RunTimeout + time.Minute
	}
	if c.LockKey == "" {
		c.LockKey = defaultLockKey
	}
	return c
}

// NextRun returns the first fire time strictly after the given instant.
func (c Config) NextRun(after time.Time) (time.Time, error) {
	c = c.withDefaults()
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	schedule, err := cron.ParseStandard(c.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after.In(loc)), nil
}
