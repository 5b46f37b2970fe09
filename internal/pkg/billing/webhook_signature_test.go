package billing

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/PayFox/app/models"
)

func epaycoFields() map[string]string {
	return map[string]string{
		"x_ref_payco":         "88123",
		"x_transaction_id":    "TX-991",
		"x_amount":            "14.99",
		"x_currency_code":     "USD",
		"x_id_invoice":        "INV-1",
		"x_transaction_state": "Aceptada",
	}
}

func TestVerifyEpaycoSignature(t *testing.T) {
	cfg := testConfig()
	v := NewVerifier(cfg)

	fields := epaycoFields()
	fields["x_signature"] = EpaycoSignature(cfg.EpaycoCustID, cfg.EpaycoPKey, fields)
	assert.True(t, v.Verify(&WebhookRequest{Provider: models.ProviderEpayco, Fields: fields}).Valid)

	for _, field := range []string{"x_ref_payco", "x_transaction_id", "x_amount", "x_currency_code"} {
		tampered := epaycoFields()
		tampered["x_signature"] = fields["x_signature"]
		tampered[field] = tampered[field] + "0"
		res := v.Verify(&WebhookRequest{Provider: models.ProviderEpayco, Fields: tampered})
		assert.False(t, res.Valid, field)
		assert.Equal(t, ReasonMismatch, res.Reason, field)
	}
}

func TestVerifyEpaycoLegacySignature(t *testing.T) {
	cfg := testConfig()
	fields := epaycoFields()
	fields["x_signature"] = EpaycoLegacySignature(cfg.EpaycoCustID, cfg.EpaycoPKey, fields)

	res := NewVerifier(cfg).Verify(&WebhookRequest{Provider: models.ProviderEpayco, Fields: fields})
	assert.True(t, res.Valid)
}

func TestVerifyEpaycoMissingInputs(t *testing.T) {
	cfg := testConfig()
	res := NewVerifier(cfg).Verify(&WebhookRequest{Provider: models.ProviderEpayco, Fields: epaycoFields()})
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonMissingSignature, res.Reason)

	cfg.EpaycoPKey = ""
	fields := epaycoFields()
	fields["x_signature"] = "abc"
	res = NewVerifier(cfg).Verify(&WebhookRequest{Provider: models.ProviderEpayco, Fields: fields})
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonSecretNotConfigured, res.Reason)
}

func TestVerifyDaimoAuthorization(t *testing.T) {
	v := NewVerifier(testConfig())

	for _, header := range []string{"Bearer daimo-secret", "Basic daimo-secret", "bearer daimo-secret"} {
		h := http.Header{}
		h.Set("Authorization", header)
		assert.True(t, v.Verify(&WebhookRequest{Provider: models.ProviderDaimo, Headers: h}).Valid, header)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer guess")
	assert.Equal(t, ReasonMismatch, v.Verify(&WebhookRequest{Provider: models.ProviderDaimo, Headers: h}).Reason)

	res := v.Verify(&WebhookRequest{Provider: models.ProviderDaimo, Headers: http.Header{}})
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonMissingSignature, res.Reason)
}

func TestVerifyDaimoWithoutSecret(t *testing.T) {
	cfg := testConfig()
	cfg.DaimoWebhookSecret = ""

	cfg.AppEnv = "dev"
	res := NewVerifier(cfg).Verify(&WebhookRequest{Provider: models.ProviderDaimo})
	assert.True(t, res.Valid)
	assert.Equal(t, ReasonSecretBypass, res.Reason)

	cfg.AppEnv = "prod"
	res = NewVerifier(cfg).Verify(&WebhookRequest{Provider: models.ProviderDaimo})
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonSecretNotConfigured, res.Reason)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	assert.NoError(t, cfg.Validate())

	noCard := testConfig()
	noCard.EpaycoPKey = ""
	noCard.AppEnv = "dev"
	assert.Error(t, noCard.Validate())

	prodNoDaimo := testConfig()
	prodNoDaimo.AppEnv = "prod"
	prodNoDaimo.DaimoWebhookSecret = ""
	assert.Error(t, prodNoDaimo.Validate())

	devNoDaimo := testConfig()
	devNoDaimo.AppEnv = "dev"
	devNoDaimo.DaimoWebhookSecret = ""
	assert.NoError(t, devNoDaimo.Validate())
}
