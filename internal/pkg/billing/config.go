package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

// Config holds provider credentials and tunables.
type Config struct {
	AppEnv string

	EpaycoCustID    string
	EpaycoPKey      string
	EpaycoPublicKey string
	EpaycoAPIURL    string

	DaimoWebhookSecret string
	DaimoAPIKey        string
	DaimoAPIURL        string
	DaimoCurrency      string

	IdempotencyTTL  time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
	ProviderTimeout time.Duration
}

// LoadConfig reads the billing configuration from the environment.
func LoadConfig() Config {
	return Config{
		AppEnv: env.GetEnv("APP_ENV", "prod"),

		EpaycoCustID:    strings.TrimSpace(env.GetEnv("EPAYCO_P_CUST_ID", "")),
		EpaycoPKey:      strings.TrimSpace(env.GetEnv("EPAYCO_P_KEY", "")),
		EpaycoPublicKey: strings.TrimSpace(env.GetEnv("EPAYCO_PUBLIC_KEY", "")),
		EpaycoAPIURL:    env.GetEnv("EPAYCO_API_URL", "https://secure.epayco.co"),

		DaimoWebhookSecret: strings.TrimSpace(env.GetEnv("DAIMO_WEBHOOK_SECRET", "")),
		DaimoAPIKey:        strings.TrimSpace(env.GetEnv("DAIMO_API_KEY", "")),
		DaimoAPIURL:        env.GetEnv("DAIMO_API_URL", "https://pay.daimo.com"),
		DaimoCurrency:      env.GetEnv("DAIMO_TOKEN_SYMBOL", "USDC"),

		IdempotencyTTL:  time.Duration(env.GetEnvInt("IDEMPOTENCY_TTL_SECONDS", 30)) * time.Second,
		LockTTL:         env.GetEnvDuration("PAYMENT_LOCK_TTL", 30*time.Second),
		LockWait:        env.GetEnvDuration("PAYMENT_LOCK_WAIT", 5*time.Second),
		ProviderTimeout: env.GetEnvDuration("PAYMENT_PROVIDER_TIMEOUT", 10*time.Second),
	}
}

// IsProduction reports whether unsafe fallbacks must be refused.
func (c Config) IsProduction() bool {
	return env.IsProductionEnv(c.AppEnv)
}

// Validate refuses a configuration that would let forged webhooks through.
// The card gateway credentials are required everywhere; the Daimo secret is
// required in production and only warned about elsewhere.
func (c Config) Validate() error {
	var errs []error
	if c.EpaycoCustID == "" || c.EpaycoPKey == "" {
		errs = append(errs, errors.New("EPAYCO_P_CUST_ID and EPAYCO_P_KEY must be set"))
	}
	if c.DaimoWebhookSecret == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DAIMO_WEBHOOK_SECRET must be set in production"))
		} else {
			log.Warnf("[Billing] DAIMO_WEBHOOK_SECRET not set, Daimo signatures are NOT verified (APP_ENV=%s)", c.AppEnv)
		}
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_TTL_SECONDS must be positive, got %s", c.IdempotencyTTL))
	}
	return errors.Join(errs...)
}
