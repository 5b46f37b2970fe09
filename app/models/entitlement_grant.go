package models

import "time"

// EntitlementGrant records the single entitlement update caused by a completed
// payment. The unique payment_id makes activation idempotent per payment.
type EntitlementGrant struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PaymentID    string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"payment_id"`
	UserID       string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	PlanID       string    `gorm:"type:varchar(64);not null" json:"plan_id"`
	Provider     string    `gorm:"type:varchar(20);not null" json:"provider"`
	DurationDays int       `gorm:"not null" json:"duration_days"`
	PeriodStart  time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd    time.Time `gorm:"not null" json:"period_end"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
