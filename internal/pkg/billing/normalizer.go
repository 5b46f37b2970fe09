package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
)

// Normalizer turns raw provider deliveries into PaymentOutcome values and
// resolves which payment they belong to.
type Normalizer struct {
	payments      repository.PaymentRepository
	subscribers   repository.SubscriberRepository
	daimoCurrency string
}

func NewNormalizer(repos *repository.Repositories, cfg Config) *Normalizer {
	currency := cfg.DaimoCurrency
	if currency == "" {
		currency = "USDC"
	}
	return &Normalizer{payments: repos.Payment, subscribers: repos.Subscriber, daimoCurrency: currency}
}

// delivery is a parsed provider request awaiting payment resolution.
type delivery struct {
	outcome    PaymentOutcome
	alternates []string
}

// Normalize parses req and resolves the payment id. Parse failures return a
// ValidationError, unknown states and unresolvable payments a
// NormalizationError; the partially filled outcome is returned either way
// for audit logging.
func (n *Normalizer) Normalize(ctx context.Context, req *WebhookRequest) (PaymentOutcome, error) {
	d, err := n.parse(req)
	if err != nil {
		return d.outcome, err
	}
	if err := n.resolvePaymentID(ctx, &d.outcome, d.alternates); err != nil {
		return d.outcome, err
	}
	return d.outcome, nil
}

// parse translates the provider payload without touching the store.
func (n *Normalizer) parse(req *WebhookRequest) (delivery, error) {
	var (
		d   delivery
		err error
	)
	switch req.Provider {
	case models.ProviderEpayco:
		d.outcome, d.alternates, err = normalizeEpayco(req.Fields)
	case models.ProviderDaimo:
		d.outcome, d.alternates, err = normalizeDaimo(req.Body, req.Headers, n.daimoCurrency)
	default:
		return d, newError(KindValidation, CodeValidation, "unknown provider "+req.Provider, nil)
	}
	if d.outcome.PaymentID == "" && req.PaymentID != "" {
		d.outcome.PaymentID = req.PaymentID
	}
	return d, err
}

// correlatedPaymentID returns the payment id the payload names explicitly,
// without falling back to the payer email.
func (d delivery) correlatedPaymentID() string {
	if d.outcome.PaymentID != "" {
		return d.outcome.PaymentID
	}
	for _, alt := range d.alternates {
		if isUUID(alt) {
			return alt
		}
	}
	return ""
}

// resolvePaymentID applies, in order: the correlation field carried since
// checkout, a UUID-shaped alternate field, the stored provider reference,
// then the payer email.
func (n *Normalizer) resolvePaymentID(ctx context.Context, out *PaymentOutcome, alternates []string) error {
	if out.PaymentID != "" {
		return nil
	}

	for _, alt := range alternates {
		if isUUID(alt) {
			out.PaymentID = alt
			return nil
		}
	}

	if out.ProviderReference != "" {
		p, err := n.payments.GetByProviderReference(ctx, out.Provider, out.ProviderReference)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("resolve provider reference: %w", err)
		}
		if p != nil {
			out.PaymentID = p.ID
			return nil
		}
	}

	if out.PayerEmail != "" {
		sub, err := n.subscribers.GetByEmail(ctx, out.PayerEmail)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("resolve payer email: %w", err)
		}
		if sub != nil {
			p, err := n.payments.FindLatestOpenByUser(ctx, out.Provider, sub.UserID, out.ProviderReference)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("resolve open payment: %w", err)
			}
			if p != nil {
				out.PaymentID = p.ID
				out.Degraded = true
				log.Warnf("[Normalizer] payment resolved by payer email provider=%s reference=%s payment=%s degraded=true",
					out.Provider, out.ProviderReference, p.ID)
				return nil
			}
		}
	}

	return newError(KindNormalization, CodeUnresolved,
		fmt.Sprintf("no payment for %s reference %s", out.Provider, out.ProviderReference), nil)
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
