package models

import "time"

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusInactive = "inactive"
)

// Subscriber mirrors the user-facing entitlement state. It is keyed by the
// chat user id and carries the email as stable external identity.
type Subscriber struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"user_id"`
	Email              string     `gorm:"type:varchar(200);default:'';index" json:"email"`
	Plan               string     `gorm:"type:varchar(64);not null;default:''" json:"plan"`
	Provider           string     `gorm:"type:varchar(20);not null;default:''" json:"provider"`
	SubscriptionStatus string     `gorm:"type:varchar(32);not null;default:'inactive';index" json:"subscription_status"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActiveAt reports whether the subscription still runs at t.
func (s *Subscriber) IsActiveAt(t time.Time) bool {
	return s.SubscriptionStatus == SubscriptionStatusActive &&
		s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(t)
}
