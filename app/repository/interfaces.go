package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// PaymentRepository defines the interface for payment-related database operations
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	// GetByIDForUpdate reads the payment holding a row lock when the
	// repository is bound to a transaction on a dialect that supports it.
	GetByIDForUpdate(ctx context.Context, id string) (*models.Payment, error)
	GetByProviderReference(ctx context.Context, provider, reference string) (*models.Payment, error)
	FindLatestOpenByUser(ctx context.Context, provider, userID, reference string) (*models.Payment, error)
	Save(ctx context.Context, payment *models.Payment) error
	// ListOpenCreatedBetween returns non-terminal payments with
	// after < created_at <= notAfter, oldest first.
	ListOpenCreatedBetween(ctx context.Context, after, notAfter time.Time, limit int) ([]models.Payment, error)
	// ListOpenCreatedAtOrBefore returns non-terminal payments with created_at <= cutoff, oldest first.
	ListOpenCreatedAtOrBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
	CountOpenCreatedBetween(ctx context.Context, after, notAfter time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[models.PaymentStatus]int64, error)
}

// SubscriberRepository defines the interface for subscriber-related database operations
type SubscriberRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.Subscriber, error)
	GetByEmail(ctx context.Context, email string) (*models.Subscriber, error)
	Save(ctx context.Context, subscriber *models.Subscriber) error
}

// EntitlementGrantRepository defines the interface for the payment -> entitlement ledger
type EntitlementGrantRepository interface {
	// CreateIfNotExists inserts the grant unless one exists for the payment.
	// It returns whether a row was inserted and the stored grant.
	CreateIfNotExists(ctx context.Context, grant *models.EntitlementGrant) (bool, *models.EntitlementGrant, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*models.EntitlementGrant, error)
	CountByPaymentID(ctx context.Context, paymentID string) (int64, error)
}

// PlanRepository defines the interface for plan lookups
type PlanRepository interface {
	GetByID(ctx context.Context, id string) (*models.Plan, error)
	Save(ctx context.Context, plan *models.Plan) error
}

// WebhookEventRepository defines the interface for the append-only webhook ledger
type WebhookEventRepository interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	ListByPaymentID(ctx context.Context, paymentID string) ([]models.WebhookEvent, error)
	CountByEventID(ctx context.Context, provider, eventID string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	db *gorm.DB

	Payment          PaymentRepository
	Subscriber       SubscriberRepository
	EntitlementGrant EntitlementGrantRepository
	Plan             PlanRepository
	WebhookEvent     WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:               db,
		Payment:          NewPaymentRepository(db),
		Subscriber:       NewSubscriberRepository(db),
		EntitlementGrant: NewEntitlementGrantRepository(db),
		Plan:             NewPlanRepository(db),
		WebhookEvent:     NewWebhookEventRepository(db),
	}
}

// Transaction runs fn with repositories bound to a single database
// transaction. The transaction commits when fn returns nil.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// DB returns the underlying handle.
func (r *Repositories) DB() *gorm.DB {
	return r.db
}
