package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a purchasable time-boxed access plan.
type Plan struct {
	ID           string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name         string          `gorm:"type:varchar(150);not null" json:"name"`
	Price        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Currency     string          `gorm:"type:varchar(10);not null;default:'USD'" json:"currency"`
	DurationDays int             `gorm:"not null;default:30" json:"duration_days"`
	IsActive     bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
