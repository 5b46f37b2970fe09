package recovery

import (
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

// Config controls both recovery jobs.
type Config struct {
	RecoveryInterval time.Duration
	CleanupInterval  time.Duration
	// Grace is how old an open payment must be before the sweep polls it.
	Grace time.Duration
	// AbandonAfter is the age at which an open payment is abandoned.
	AbandonAfter time.Duration
	BatchSize    int
	Workers      int
	CallTimeout  time.Duration
	RunBudget    time.Duration
}

func DefaultConfig() Config {
	return Config{
		RecoveryInterval: 2 * time.Hour,
		CleanupInterval:  24 * time.Hour,
		Grace:            10 * time.Minute,
		AbandonAfter:     24 * time.Hour,
		BatchSize:        200,
		Workers:          4,
		CallTimeout:      10 * time.Second,
		RunBudget:        10 * time.Minute,
	}
}

// ConfigFromEnv reads PAYMENT_* overrides on top of DefaultConfig.
func ConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		RecoveryInterval: env.GetEnvDuration("PAYMENT_RECOVERY_INTERVAL", d.RecoveryInterval),
		CleanupInterval:  env.GetEnvDuration("PAYMENT_CLEANUP_INTERVAL", d.CleanupInterval),
		Grace:            env.GetEnvDuration("PAYMENT_RECOVERY_GRACE", d.Grace),
		AbandonAfter:     env.GetEnvDuration("PAYMENT_ABANDON_AFTER", d.AbandonAfter),
		BatchSize:        env.GetEnvInt("PAYMENT_RECOVERY_BATCH", d.BatchSize),
		Workers:          env.GetEnvInt("PAYMENT_RECOVERY_WORKERS", d.Workers),
		CallTimeout:      env.GetEnvDuration("PAYMENT_PROVIDER_TIMEOUT", d.CallTimeout),
		RunBudget:        env.GetEnvDuration("PAYMENT_RECOVERY_BUDGET", d.RunBudget),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = d.RecoveryInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.Grace < 0 {
		c.Grace = d.Grace
	}
	if c.AbandonAfter <= 0 {
		c.AbandonAfter = d.AbandonAfter
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.RunBudget <= 0 {
		c.RunBudget = d.RunBudget
	}
	return c
}
