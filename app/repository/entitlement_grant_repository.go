package repository

import (
	"context"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entitlementGrantRepository struct {
	db *gorm.DB
}

// NewEntitlementGrantRepository creates a new entitlement grant repository instance
func NewEntitlementGrantRepository(db *gorm.DB) EntitlementGrantRepository {
	return &entitlementGrantRepository{db: db}
}

func (r *entitlementGrantRepository) CreateIfNotExists(ctx context.Context, grant *models.EntitlementGrant) (bool, *models.EntitlementGrant, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(grant)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected > 0 {
		return true, grant, nil
	}

	existing, err := r.GetByPaymentID(ctx, grant.PaymentID)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *entitlementGrantRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.EntitlementGrant, error) {
	var grant models.EntitlementGrant
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r *entitlementGrantRepository) CountByPaymentID(ctx context.Context, paymentID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.EntitlementGrant{}).Where("payment_id = ?", paymentID).Count(&count).Error
	return count, err
}
