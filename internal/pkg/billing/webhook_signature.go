package billing

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
)

// Verification reasons stored with failed attempts.
const (
	ReasonMissingSignature    = "missing_signature"
	ReasonSecretNotConfigured = "secret_not_configured"
	ReasonSecretBypass        = "secret_not_configured_bypass"
	ReasonMismatch            = "signature_mismatch"
	ReasonUnknownProvider     = "unknown_provider"
)

// Verifier checks that a delivery was sent by the provider.
type Verifier struct {
	cfg Config
}

func NewVerifier(cfg Config) *Verifier {
	return &Verifier{cfg: cfg}
}

// Verify checks the delivery of the given provider.
func (v *Verifier) Verify(req *WebhookRequest) VerifyResult {
	switch req.Provider {
	case models.ProviderEpayco:
		return v.verifyEpayco(req.Fields)
	case models.ProviderDaimo:
		return v.verifyDaimo(req.Headers.Get("Authorization"))
	default:
		return VerifyResult{Valid: false, Reason: ReasonUnknownProvider}
	}
}

// EpaycoSignature computes the confirmation signature
// sha256(cust_id^p_key^x_ref_payco^x_transaction_id^x_amount^x_currency_code).
func EpaycoSignature(custID, pKey string, fields map[string]string) string {
	return digestHex(sha256.New, custID, pKey,
		fields["x_ref_payco"], fields["x_transaction_id"], fields["x_amount"], fields["x_currency_code"])
}

// EpaycoLegacySignature is the Checkout 2.0 variant keyed on the invoice.
func EpaycoLegacySignature(custID, pKey string, fields map[string]string) string {
	return digestHex(md5.New, custID, pKey,
		fields["x_id_invoice"], fields["x_amount"], fields["x_currency_code"])
}

func (v *Verifier) verifyEpayco(fields map[string]string) VerifyResult {
	if v.cfg.EpaycoCustID == "" || v.cfg.EpaycoPKey == "" {
		return VerifyResult{Valid: false, Reason: ReasonSecretNotConfigured}
	}
	sig := strings.ToLower(strings.TrimSpace(fields["x_signature"]))
	if sig == "" {
		return VerifyResult{Valid: false, Reason: ReasonMissingSignature}
	}

	if constantTimeEqual(sig, EpaycoSignature(v.cfg.EpaycoCustID, v.cfg.EpaycoPKey, fields)) {
		return VerifyResult{Valid: true}
	}
	if fields["x_id_invoice"] != "" &&
		constantTimeEqual(sig, EpaycoLegacySignature(v.cfg.EpaycoCustID, v.cfg.EpaycoPKey, fields)) {
		return VerifyResult{Valid: true, Reason: "legacy_md5"}
	}
	return VerifyResult{Valid: false, Reason: ReasonMismatch}
}

func (v *Verifier) verifyDaimo(authorization string) VerifyResult {
	secret := v.cfg.DaimoWebhookSecret
	if secret == "" {
		if v.cfg.IsProduction() {
			return VerifyResult{Valid: false, Reason: ReasonSecretNotConfigured}
		}
		log.Warnf("[Webhook] daimo signature bypassed: secret not configured (APP_ENV=%s)", v.cfg.AppEnv)
		return VerifyResult{Valid: true, Reason: ReasonSecretBypass}
	}

	token := strings.TrimSpace(authorization)
	for _, scheme := range []string{"Basic ", "Bearer "} {
		if len(token) >= len(scheme) && strings.EqualFold(token[:len(scheme)], scheme) {
			token = strings.TrimSpace(token[len(scheme):])
			break
		}
	}
	if token == "" {
		return VerifyResult{Valid: false, Reason: ReasonMissingSignature}
	}
	if !constantTimeEqual(token, secret) {
		return VerifyResult{Valid: false, Reason: ReasonMismatch}
	}
	return VerifyResult{Valid: true}
}

func digestHex(hashFunc func() hash.Hash, parts ...string) string {
	h := hashFunc()
	h.Write([]byte(strings.Join(parts, "^")))
	return hex.EncodeToString(h.Sum(nil))
}

func constantTimeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
