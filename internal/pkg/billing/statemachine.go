package billing

import (
	"fmt"
	"strings"

	"github.com/ManuelReschke/PayFox/app/models"
)

// Effect is a side effect the pipeline runs after a transition commits.
type Effect string

const (
	EffectGrantEntitlement Effect = "grant_entitlement"
	EffectNotifySuccess    Effect = "notify_success"
	EffectNotifyFailure    Effect = "notify_failure"
	EffectRecordReason     Effect = "record_reason"
	EffectLogTerminal      Effect = "log_terminal"
)

// Transition is the result of applying an outcome to a payment status.
type Transition struct {
	From    models.PaymentStatus
	Next    models.PaymentStatus
	Effects []Effect
}

// Changed reports whether the status moves.
func (t Transition) Changed() bool {
	return t.From != t.Next
}

// Has reports whether e is among the transition effects.
func (t Transition) Has(e Effect) bool {
	for _, x := range t.Effects {
		if x == e {
			return true
		}
	}
	return false
}

// Apply computes the next status for an outcome. Terminal statuses never
// move; the outcome is only logged.
func Apply(current models.PaymentStatus, state ExternalState) (Transition, error) {
	t := Transition{From: current, Next: current}

	if !current.IsValid() {
		return t, newError(KindValidation, CodeInvalidTransition, fmt.Sprintf("unknown payment status %q", current), nil)
	}
	if current.IsTerminal() {
		t.Effects = []Effect{EffectLogTerminal}
		return t, nil
	}

	switch {
	case state == StateApproved:
		t.Next = models.PaymentStatusCompleted
		t.Effects = []Effect{EffectGrantEntitlement, EffectNotifySuccess}
	case state == StateDeclined:
		t.Next = models.PaymentStatusFailed
		t.Effects = []Effect{EffectNotifyFailure, EffectRecordReason}
	case state.IsPending():
		t.Next = models.PaymentStatusPendingVerification
	default:
		return t, newError(KindNormalization, CodeUnknownState, "outcome has no canonical state", nil)
	}
	return t, nil
}

// Abandon classifies a stale open payment as abandoned. Only the cleanup
// job calls it.
func Abandon(current models.PaymentStatus) Transition {
	t := Transition{From: current, Next: current}
	if current.IsTerminal() || !current.IsValid() {
		t.Effects = []Effect{EffectLogTerminal}
		return t
	}
	t.Next = models.PaymentStatusAbandoned
	t.Effects = []Effect{EffectRecordReason}
	return t
}

// Cancel moves any non-terminal payment to cancelled.
func Cancel(current models.PaymentStatus) Transition {
	t := Transition{From: current, Next: current}
	if current.IsTerminal() || !current.IsValid() {
		t.Effects = []Effect{EffectLogTerminal}
		return t
	}
	t.Next = models.PaymentStatusCancelled
	t.Effects = []Effect{EffectRecordReason}
	return t
}

// VerifyAmount refuses an outcome whose amount or currency differs from the
// stored payment.
func VerifyAmount(p *models.Payment, out PaymentOutcome) error {
	if !out.HasAmount {
		return newError(KindNormalization, CodeAmountMismatch, "outcome carries no amount", nil)
	}
	if !out.Amount.Equal(p.Amount) {
		return newError(KindNormalization, CodeAmountMismatch,
			fmt.Sprintf("amount %s does not match payment amount %s", out.Amount.String(), p.Amount.String()), nil)
	}
	if !strings.EqualFold(strings.TrimSpace(out.Currency), strings.TrimSpace(p.Currency)) {
		return newError(KindNormalization, CodeAmountMismatch,
			fmt.Sprintf("currency %s does not match payment currency %s", out.Currency, p.Currency), nil)
	}
	return nil
}
