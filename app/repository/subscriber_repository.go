package repository

import (
	"context"
	"strings"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

type subscriberRepository struct {
	db *gorm.DB
}

// NewSubscriberRepository creates a new subscriber repository instance
func NewSubscriberRepository(db *gorm.DB) SubscriberRepository {
	return &subscriberRepository{db: db}
}

func (r *subscriberRepository) GetByUserID(ctx context.Context, userID string) (*models.Subscriber, error) {
	var subscriber models.Subscriber
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&subscriber).Error
	if err != nil {
		return nil, err
	}
	return &subscriber, nil
}

// GetByEmail matches case-insensitively on the trimmed address
func (r *subscriberRepository) GetByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var subscriber models.Subscriber
	err := r.db.WithContext(ctx).Where("LOWER(email) = ?", trimmed).First(&subscriber).Error
	if err != nil {
		return nil, err
	}
	return &subscriber, nil
}

func (r *subscriberRepository) Save(ctx context.Context, subscriber *models.Subscriber) error {
	return r.db.WithContext(ctx).Save(subscriber).Error
}
