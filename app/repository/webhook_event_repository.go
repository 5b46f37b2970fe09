package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// webhookEventRepository writes the append-only audit ledger. Rows are
// inserted once and never updated.
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	if event.Source == "" {
		event.Source = models.WebhookSourceWebhook
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *webhookEventRepository) ListByPaymentID(ctx context.Context, paymentID string) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("received_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *webhookEventRepository) CountByEventID(ctx context.Context, provider, eventID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Count(&count).Error
	return count, err
}
