package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayFox/internal/pkg/idempotency"
	"github.com/ManuelReschke/PayFox/internal/pkg/locker"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
)

// AbandonReason3DSTimeout is recorded on payments the cleanup job abandons.
const AbandonReason3DSTimeout = "3DS_TIMEOUT"

// Generic reason sent to the chat layer on failed payments.
const failureReasonDeclined = "payment_declined"

// Service runs provider deliveries and recovery polls through the
// verify, dedupe, normalize, transition, entitle pipeline.
type Service struct {
	cfg        Config
	repos      *repository.Repositories
	verifier   *Verifier
	normalizer *Normalizer
	guard      *idempotency.Guard
	locks      *locker.Locker
	applier    *entitlements.Applier
	publisher  notify.Publisher
	now        func() time.Time
}

// NewService wires the pipeline from its collaborators.
func NewService(
	cfg Config,
	repos *repository.Repositories,
	guard *idempotency.Guard,
	locks *locker.Locker,
	applier *entitlements.Applier,
	publisher notify.Publisher,
) *Service {
	return &Service{
		cfg:        cfg,
		repos:      repos,
		verifier:   NewVerifier(cfg),
		normalizer: NewNormalizer(repos, cfg),
		guard:      guard,
		locks:      locks,
		applier:    applier,
		publisher:  publisher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.applier.WithClock(now)
	return s
}

// Repositories exposes the store the service writes to.
func (s *Service) Repositories() *repository.Repositories {
	return s.repos
}

// HandleWebhook processes one inbound delivery. Duplicates return a Result
// with Duplicate set and a nil error. Authentication and validation errors
// are returned before any payment is touched; normalization and terminal
// state errors mean the delivery was accepted but ignored. Any other error
// is internal, and the dedupe claim is released so the provider retry runs.
func (s *Service) HandleWebhook(ctx context.Context, req *WebhookRequest) (Result, error) {
	verdict := s.verifier.Verify(req)
	d, parseErr := s.normalizer.parse(req)

	if err := s.recordEvent(ctx, req, d, verdict.Valid, SourceWebhook); err != nil {
		return Result{}, fmt.Errorf("record webhook event: %w", err)
	}

	if !verdict.Valid {
		log.Warnf("[Webhook] rejected provider=%s reason=%s remote_ip=%s", req.Provider, verdict.Reason, req.RemoteIP)
		return Result{}, newError(KindAuthentication, CodeAuthentication, "invalid_signature: "+verdict.Reason, nil)
	}
	if parseErr != nil && IsKind(parseErr, KindValidation) {
		log.Warnf("[Webhook] invalid payload provider=%s: %v", req.Provider, parseErr)
		return Result{}, parseErr
	}

	out := d.outcome
	key := idempotency.DedupeKey(req.Provider, out.EventID, out.TransactionID)
	acquired, err := s.guard.Claim(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		log.Infof("[Webhook] provider=%s event=%s reference=%s duplicate=true", req.Provider, out.EventID, out.ProviderReference)
		return Result{PaymentID: d.correlatedPaymentID(), Duplicate: true, Code: CodeDuplicate}, nil
	}

	res, err := s.process(ctx, d, parseErr)
	if err != nil && !isAcceptedError(err) {
		if relErr := s.guard.Release(ctx, key); relErr != nil {
			log.Errorf("[Webhook] release dedupe key %s: %v", key, relErr)
		}
	}
	return res, err
}

// ReconcileRaw feeds a provider status response through the same pipeline
// as a webhook. The response is recorded in the ledger as a recovery event.
func (s *Service) ReconcileRaw(ctx context.Context, req *WebhookRequest) (Result, error) {
	d, parseErr := s.normalizer.parse(req)
	if err := s.recordEvent(ctx, req, d, true, SourceRecovery); err != nil {
		return Result{}, fmt.Errorf("record recovery event: %w", err)
	}
	if parseErr != nil && IsKind(parseErr, KindValidation) {
		return Result{}, parseErr
	}

	// Shares the webhook key space so a poll and a live delivery of the
	// same state do not both run.
	key := idempotency.DedupeKey(req.Provider, d.outcome.EventID, d.outcome.TransactionID)
	acquired, err := s.guard.Claim(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		return Result{PaymentID: d.correlatedPaymentID(), Duplicate: true, Code: CodeDuplicate}, nil
	}

	res, err := s.process(ctx, d, parseErr)
	if err != nil && !isAcceptedError(err) {
		if relErr := s.guard.Release(ctx, key); relErr != nil {
			log.Errorf("[Recovery] release dedupe key %s: %v", key, relErr)
		}
	}
	return res, err
}

func (s *Service) process(ctx context.Context, d delivery, parseErr error) (Result, error) {
	out := d.outcome
	if parseErr != nil {
		log.Warnf("[Reconcile] ignored provider=%s reference=%s state=%q payment=%s: %v",
			out.Provider, out.ProviderReference, out.RawState, d.correlatedPaymentID(), parseErr)
		return Result{PaymentID: d.correlatedPaymentID(), Code: CodeOf(parseErr)}, parseErr
	}

	if err := s.normalizer.resolvePaymentID(ctx, &out, d.alternates); err != nil {
		if IsKind(err, KindNormalization) {
			log.Warnf("[Reconcile] unresolved provider=%s reference=%s email=%q: %v",
				out.Provider, out.ProviderReference, out.PayerEmail, err)
			return Result{Code: CodeOf(err)}, err
		}
		return Result{}, err
	}

	return s.Reconcile(ctx, out)
}

// Reconcile applies a normalized outcome to its payment under the payment
// lock. Entitlement and ledger writes share one transaction; notifications
// are published after commit.
func (s *Service) Reconcile(ctx context.Context, out PaymentOutcome) (Result, error) {
	res := Result{PaymentID: out.PaymentID, Degraded: out.Degraded}

	var transition Transition
	var periodEnd *time.Time
	var payment *models.Payment

	err := s.withPaymentLock(ctx, out.PaymentID, func(tx *repository.Repositories) error {
		p, err := tx.Payment.GetByIDForUpdate(ctx, out.PaymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindNormalization, CodeUnresolved, "payment "+out.PaymentID+" not found", nil)
			}
			return fmt.Errorf("load payment: %w", err)
		}
		if p.Provider != out.Provider {
			return newError(KindNormalization, CodeUnresolved,
				fmt.Sprintf("payment %s belongs to %s, outcome from %s", p.ID, p.Provider, out.Provider), nil)
		}
		if ref := p.Reference(); ref != "" && out.ProviderReference != "" && ref != out.ProviderReference {
			return newError(KindNormalization, CodeUnresolved,
				fmt.Sprintf("payment %s is bound to reference %s, outcome carries %s", p.ID, ref, out.ProviderReference), nil)
		}

		res.Previous, res.Status = p.Status, p.Status
		transition, err = Apply(p.Status, out.ExternalState)
		if err != nil {
			return err
		}
		if transition.Has(EffectLogTerminal) {
			return newError(KindTerminalState, CodeTerminalState,
				fmt.Sprintf("outcome %s on terminal payment %s (%s)", out.ExternalState, p.ID, p.Status), nil)
		}
		if !transition.Changed() {
			return nil
		}
		if transition.Next == models.PaymentStatusCompleted {
			if err := VerifyAmount(p, out); err != nil {
				return err
			}
		}

		now := s.now()
		p.Status = transition.Next
		if p.ProviderReference == nil && out.ProviderReference != "" {
			ref := out.ProviderReference
			p.ProviderReference = &ref
		}
		p.AppendMetadata(map[string]interface{}{
			"last_event_id":       out.EventID,
			"last_provider_state": out.RawState,
			"last_transition_at":  now.Format(time.RFC3339),
		})
		if out.Degraded {
			p.AppendMetadata(map[string]interface{}{"resolved_by": "payer_email"})
		}
		if transition.Has(EffectRecordReason) {
			reason := out.Reason
			if reason == "" {
				reason = out.RawState
			}
			p.AppendMetadata(map[string]interface{}{"failure_reason": reason})
		}
		if transition.Next == models.PaymentStatusCompleted {
			p.CompletedAt = &now
		}

		if transition.Has(EffectGrantEntitlement) {
			granted, err := s.applier.Activate(ctx, tx, entitlements.Grant{
				PaymentID: p.ID,
				UserID:    p.UserID,
				PlanID:    p.PlanID,
				Provider:  p.Provider,
				Email:     out.PayerEmail,
			})
			if err != nil {
				return fmt.Errorf("activate entitlement: %w", err)
			}
			end := granted.PeriodEnd
			periodEnd = &end
			res.EntitlementGiven = granted.Applied
			p.AppendMetadata(map[string]interface{}{"entitlement_period_end": end.Format(time.RFC3339)})
		}

		if err := tx.Payment.Save(ctx, p); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		payment = p
		res.Status = p.Status
		res.Changed = true
		return nil
	})
	if err != nil {
		res.Code = CodeOf(err)
		s.logOutcomeError(out, err)
		return res, err
	}

	if res.Changed {
		log.Infof("[Reconcile] payment=%s provider=%s reference=%s %s -> %s degraded=%t",
			payment.ID, payment.Provider, out.ProviderReference, res.Previous, res.Status, out.Degraded)
		s.publishEffects(ctx, transition, payment, periodEnd)
	}
	return res, nil
}

// Abandon marks a stale open payment abandoned with reason. No entitlement
// changes and no user notification.
func (s *Service) Abandon(ctx context.Context, paymentID, reason string) (Result, error) {
	return s.terminate(ctx, paymentID, Abandon, map[string]interface{}{
		"abandon_reason": reason,
	})
}

// Cancel marks an open payment cancelled on explicit request.
func (s *Service) Cancel(ctx context.Context, paymentID, reason string) (Result, error) {
	if reason == "" {
		reason = "admin_request"
	}
	return s.terminate(ctx, paymentID, Cancel, map[string]interface{}{
		"cancel_reason": reason,
	})
}

func (s *Service) terminate(ctx context.Context, paymentID string, step func(models.PaymentStatus) Transition, meta map[string]interface{}) (Result, error) {
	res := Result{PaymentID: paymentID}
	err := s.withPaymentLock(ctx, paymentID, func(tx *repository.Repositories) error {
		p, err := tx.Payment.GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		res.Previous, res.Status = p.Status, p.Status

		t := step(p.Status)
		if !t.Changed() {
			return newError(KindTerminalState, CodeTerminalState,
				fmt.Sprintf("payment %s already %s", p.ID, p.Status), nil)
		}
		p.Status = t.Next
		p.AppendMetadata(meta)
		p.AppendMetadata(map[string]interface{}{"last_transition_at": s.now().Format(time.RFC3339)})
		if err := tx.Payment.Save(ctx, p); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		res.Status = p.Status
		res.Changed = true
		return nil
	})
	if err != nil {
		res.Code = CodeOf(err)
		return res, err
	}
	log.Infof("[Reconcile] payment=%s %s -> %s %v", paymentID, res.Previous, res.Status, meta)
	return res, nil
}

// PaymentDetail is the admin view of one payment.
type PaymentDetail struct {
	Payment *models.Payment          `json:"payment"`
	Grant   *models.EntitlementGrant `json:"entitlement_grant,omitempty"`
	Events  []models.WebhookEvent    `json:"events"`
}

// GetPaymentDetail loads a payment with its ledger entries and grant.
func (s *Service) GetPaymentDetail(ctx context.Context, paymentID string) (*PaymentDetail, error) {
	p, err := s.repos.Payment.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	events, err := s.repos.WebhookEvent.ListByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	detail := &PaymentDetail{Payment: p, Events: events}
	if g, err := s.repos.EntitlementGrant.GetByPaymentID(ctx, paymentID); err == nil {
		detail.Grant = g
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return detail, nil
}

func (s *Service) withPaymentLock(ctx context.Context, paymentID string, fn func(tx *repository.Repositories) error) error {
	if paymentID == "" {
		return newError(KindNormalization, CodeUnresolved, "missing payment id", nil)
	}
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()
	lock, err := s.locks.Acquire(lockCtx, locker.PaymentKey(paymentID), s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("lock payment %s: %w", paymentID, err)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			log.Errorf("[Reconcile] %v", err)
		}
	}()
	return s.repos.Transaction(ctx, fn)
}

func (s *Service) publishEffects(ctx context.Context, t Transition, p *models.Payment, periodEnd *time.Time) {
	var event notify.Event
	switch {
	case t.Has(EffectNotifySuccess):
		event = notify.Event{Type: notify.EventPaymentCompleted, PeriodEnd: periodEnd}
	case t.Has(EffectNotifyFailure):
		event = notify.Event{Type: notify.EventPaymentFailed, Reason: failureReasonDeclined}
	default:
		return
	}
	event.PaymentID = p.ID
	event.UserID = p.UserID
	event.PlanID = p.PlanID
	event.Provider = p.Provider
	event.OccurredAt = s.now()

	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Errorf("[Reconcile] notify %s payment=%s: %v", event.Type, p.ID, err)
		s.markNotifyFailed(ctx, p.ID, event.Type)
	}
}

// markNotifyFailed flags a payment whose notification never reached the
// queue so operators can find and replay it.
func (s *Service) markNotifyFailed(ctx context.Context, paymentID, eventType string) {
	err := s.withPaymentLock(ctx, paymentID, func(tx *repository.Repositories) error {
		p, err := tx.Payment.GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		p.AppendMetadata(map[string]interface{}{
			"notify_failed":    eventType,
			"notify_failed_at": s.now().Format(time.RFC3339),
		})
		return tx.Payment.Save(ctx, p)
	})
	if err != nil {
		log.Errorf("[Reconcile] flag notify_failed payment=%s: %v", paymentID, err)
	}
}

func (s *Service) logOutcomeError(out PaymentOutcome, err error) {
	switch {
	case IsKind(err, KindTerminalState):
		log.Infof("[Reconcile] outcome on terminal payment provider=%s reference=%s payment=%s state=%s",
			out.Provider, out.ProviderReference, out.PaymentID, out.ExternalState)
	case IsKind(err, KindNormalization):
		log.Warnf("[Reconcile] payment left unchanged provider=%s reference=%s payment=%s: %v",
			out.Provider, out.ProviderReference, out.PaymentID, err)
	default:
		log.Errorf("[Reconcile] provider=%s reference=%s payment=%s: %v",
			out.Provider, out.ProviderReference, out.PaymentID, err)
	}
}

// Column widths of webhook_events for caller-controlled values.
const (
	maxEventIDLen  = 191
	maxRemoteIPLen = 45
)

// recordEvent appends the delivery to the audit ledger. It runs before the
// signature check, so values taken from the request are clipped to fit.
func (s *Service) recordEvent(ctx context.Context, req *WebhookRequest, d delivery, valid bool, source Source) error {
	event := &models.WebhookEvent{
		Provider:         req.Provider,
		EventID:          clip(d.outcome.EventID, maxEventIDLen),
		SignatureValid:   valid,
		RawPayloadDigest: payloadDigest(req),
		Source:           string(source),
		RemoteIP:         clip(req.RemoteIP, maxRemoteIPLen),
		ReceivedAt:       s.now(),
	}
	if id := d.correlatedPaymentID(); isUUID(id) {
		event.PaymentID = &id
	}
	return s.repos.WebhookEvent.Create(ctx, event)
}

// clip drops invalid UTF-8 and cuts s to at most max bytes on a rune boundary.
func clip(s string, max int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// payloadDigest hashes the raw body, or the sorted fields when the
// delivery came as a query string.
func payloadDigest(req *WebhookRequest) string {
	raw := req.Body
	if len(raw) == 0 && len(req.Fields) > 0 {
		values := url.Values{}
		for k, v := range req.Fields {
			values.Set(k, v)
		}
		raw = []byte(values.Encode())
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// isAcceptedError reports errors after which the provider must not retry.
func isAcceptedError(err error) bool {
	return IsKind(err, KindNormalization) || IsKind(err, KindTerminalState) || IsKind(err, KindDuplicateEvent)
}
