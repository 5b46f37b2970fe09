package billing

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayFox/internal/pkg/idempotency"
	"github.com/ManuelReschke/PayFox/internal/pkg/locker"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/testutil"
)

func testConfig() Config {
	return Config{
		AppEnv:             "test",
		EpaycoCustID:       "1000",
		EpaycoPKey:         "p-key-secret",
		EpaycoPublicKey:    "pub",
		DaimoWebhookSecret: "daimo-secret",
		DaimoCurrency:      "USDC",
		IdempotencyTTL:     30 * time.Second,
		LockTTL:            30 * time.Second,
		LockWait:           2 * time.Second,
		ProviderTimeout:    time.Second,
	}
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	cfg       Config
	db        *gorm.DB
	repos     *repository.Repositories
	mr        *miniredis.Miniredis
	publisher *notify.RedisPublisher
	service   *Service
	clock     *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := testConfig()
	db := testutil.NewTestDB(t)
	mr, rdb := testutil.NewTestRedis(t)
	repos := repository.NewRepositories(db)
	publisher := notify.NewRedisPublisher(rdb, "")
	clk := &clock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}

	svc := NewService(cfg, repos,
		idempotency.NewGuard(rdb, cfg.IdempotencyTTL),
		locker.New(rdb),
		entitlements.NewApplier(),
		publisher,
	).WithClock(clk.Now)

	testutil.SeedPlan(t, db, "week_pass", 7)
	return &harness{cfg: cfg, db: db, repos: repos, mr: mr, publisher: publisher, service: svc, clock: clk}
}

func (h *harness) seedPayment(t *testing.T, provider, userID, amount, currency string) *models.Payment {
	return testutil.SeedPayment(t, h.db, provider, userID, "week_pass", amount, currency, h.clock.Now().Add(-time.Minute))
}

// epaycoRequest builds a signed ePayco confirmation for payment p.
func (h *harness) epaycoRequest(p *models.Payment, txID, state, amount string) *WebhookRequest {
	fields := map[string]string{
		"x_ref_payco":         "REF-" + txID,
		"x_transaction_id":    txID,
		"x_amount":            amount,
		"x_currency_code":     p.Currency,
		"x_transaction_state": state,
		"x_extra1":            p.UserID,
		"x_extra2":            p.PlanID,
		"x_extra3":            p.ID,
	}
	fields["x_signature"] = EpaycoSignature(h.cfg.EpaycoCustID, h.cfg.EpaycoPKey, fields)
	return &WebhookRequest{Provider: models.ProviderEpayco, Fields: fields, RemoteIP: "10.0.0.1"}
}

func daimoHeaders(secret string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+secret)
	h.Set("Content-Type", "application/json")
	return h
}

func (h *harness) reload(t *testing.T, id string) *models.Payment {
	t.Helper()
	var p models.Payment
	if err := h.db.Where("id = ?", id).First(&p).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	return &p
}
