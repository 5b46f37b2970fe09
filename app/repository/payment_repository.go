package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create creates a new payment in the database
func (r *paymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

// GetByID retrieves a payment by its ID
func (r *paymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetByIDForUpdate retrieves a payment with SELECT ... FOR UPDATE on MySQL.
// SQLite serializes writers itself and has no row lock syntax.
func (r *paymentRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	query := r.db.WithContext(ctx)
	if r.db.Dialector != nil && r.db.Dialector.Name() == "mysql" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetByProviderReference retrieves a payment by the provider's transaction reference
func (r *paymentRepository) GetByProviderReference(ctx context.Context, provider, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_reference = ?", provider, reference).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindLatestOpenByUser returns the most recent non-terminal payment of a user
// that is not yet bound to a provider reference other than reference.
func (r *paymentRepository) FindLatestOpenByUser(ctx context.Context, provider, userID, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND user_id = ? AND status IN ?", provider, userID, models.OpenPaymentStatuses).
		Where("provider_reference IS NULL OR provider_reference = ?", reference).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Save updates all columns of a payment
func (r *paymentRepository) Save(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *paymentRepository) ListOpenCreatedBetween(ctx context.Context, after, notAfter time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	query := r.db.WithContext(ctx).
		Where("status IN ? AND created_at > ? AND created_at <= ?", models.OpenPaymentStatuses, after, notAfter).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *paymentRepository) ListOpenCreatedAtOrBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	query := r.db.WithContext(ctx).
		Where("status IN ? AND created_at <= ?", models.OpenPaymentStatuses, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *paymentRepository) CountOpenCreatedBetween(ctx context.Context, after, notAfter time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status IN ? AND created_at > ? AND created_at <= ?", models.OpenPaymentStatuses, after, notAfter).
		Count(&count).Error
	return count, err
}

// CountByStatus returns the number of payments per status
func (r *paymentRepository) CountByStatus(ctx context.Context) (map[models.PaymentStatus]int64, error) {
	var rows []struct {
		Status models.PaymentStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.PaymentStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
