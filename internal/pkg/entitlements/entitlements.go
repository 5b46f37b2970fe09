package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"gorm.io/gorm"
)

// ErrUnknownPlan is returned when a grant references a plan that does not exist.
var ErrUnknownPlan = errors.New("entitlements: unknown plan")

// Grant asks for one plan period to be activated on behalf of a completed payment.
type Grant struct {
	PaymentID    string
	UserID       string
	PlanID       string
	Provider     string
	Email        string
	DurationDays int // zero means the plan's duration
}

// Result describes the subscription period after Activate.
type Result struct {
	// Applied is false when the payment had already been granted.
	Applied     bool
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Applier activates subscriptions. It is safe to call more than once with
// the same payment id: the entitlement_grants ledger keeps one row per payment.
type Applier struct {
	now func() time.Time
}

func NewApplier() *Applier {
	return &Applier{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source.
func (a *Applier) WithClock(now func() time.Time) *Applier {
	a.now = now
	return a
}

// Activate extends the user's subscription by the plan duration. The period
// continues from the current end while the subscription is still active,
// otherwise it starts now. Callers pass transaction-bound repositories.
func (a *Applier) Activate(ctx context.Context, repos *repository.Repositories, g Grant) (Result, error) {
	if strings.TrimSpace(g.PaymentID) == "" || strings.TrimSpace(g.UserID) == "" {
		return Result{}, errors.New("entitlements: payment_id and user_id are required")
	}

	existing, err := repos.EntitlementGrant.GetByPaymentID(ctx, g.PaymentID)
	if err == nil {
		return Result{Applied: false, PeriodStart: existing.PeriodStart, PeriodEnd: existing.PeriodEnd}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{}, fmt.Errorf("entitlements: load grant: %w", err)
	}

	days := g.DurationDays
	if days <= 0 {
		plan, err := repos.Plan.GetByID(ctx, g.PlanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Result{}, fmt.Errorf("%w: %s", ErrUnknownPlan, g.PlanID)
			}
			return Result{}, fmt.Errorf("entitlements: load plan: %w", err)
		}
		days = plan.DurationDays
	}
	if days <= 0 {
		return Result{}, fmt.Errorf("%w: %s has no duration", ErrUnknownPlan, g.PlanID)
	}

	now := a.now()
	sub, err := repos.Subscriber.GetByUserID(ctx, g.UserID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, fmt.Errorf("entitlements: load subscriber: %w", err)
		}
		sub = &models.Subscriber{UserID: g.UserID}
	}

	start := now
	if sub.IsActiveAt(now) {
		start = sub.CurrentPeriodEnd.UTC()
	}
	end := start.AddDate(0, 0, days)

	created, stored, err := repos.EntitlementGrant.CreateIfNotExists(ctx, &models.EntitlementGrant{
		PaymentID:    g.PaymentID,
		UserID:       g.UserID,
		PlanID:       g.PlanID,
		Provider:     g.Provider,
		DurationDays: days,
		PeriodStart:  start,
		PeriodEnd:    end,
	})
	if err != nil {
		return Result{}, fmt.Errorf("entitlements: record grant: %w", err)
	}
	if !created {
		return Result{Applied: false, PeriodStart: stored.PeriodStart, PeriodEnd: stored.PeriodEnd}, nil
	}

	sub.Plan = g.PlanID
	sub.Provider = g.Provider
	sub.SubscriptionStatus = models.SubscriptionStatusActive
	sub.CurrentPeriodEnd = &end
	if sub.Email == "" && g.Email != "" {
		sub.Email = strings.ToLower(strings.TrimSpace(g.Email))
	}
	if err := repos.Subscriber.Save(ctx, sub); err != nil {
		return Result{}, fmt.Errorf("entitlements: save subscriber: %w", err)
	}

	return Result{Applied: true, PeriodStart: start, PeriodEnd: end}, nil
}
