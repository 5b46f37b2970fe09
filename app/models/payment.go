package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Payment provider constants used across payment-related models.
const (
	ProviderEpayco = "epayco"
	ProviderDaimo  = "daimo"
)

type PaymentStatus string

const (
	PaymentStatusPending             PaymentStatus = "pending"
	PaymentStatusPendingVerification PaymentStatus = "pending_verification"
	PaymentStatusCompleted           PaymentStatus = "completed"
	PaymentStatusFailed              PaymentStatus = "failed"
	PaymentStatusAbandoned           PaymentStatus = "abandoned"
	PaymentStatusCancelled           PaymentStatus = "cancelled"
)

// OpenPaymentStatuses are the statuses a webhook or recovery pass may still advance.
var OpenPaymentStatuses = []PaymentStatus{PaymentStatusPending, PaymentStatusPendingVerification}

// IsTerminal reports whether no further transition is permitted from s.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusAbandoned, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPendingVerification:
		return true
	default:
		return s.IsTerminal()
	}
}

// Payment is one attempt to pay for one plan. Rows are never deleted.
type Payment struct {
	ID                string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID            string            `gorm:"type:varchar(64);not null;index" json:"user_id"`
	PlanID            string            `gorm:"type:varchar(64);not null" json:"plan_id"`
	Provider          string            `gorm:"type:varchar(20);not null;index:idx_payments_provider_reference,priority:1" json:"provider"`
	Amount            decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency          string            `gorm:"type:varchar(10);not null" json:"currency"`
	Status            PaymentStatus     `gorm:"type:varchar(32);not null;default:'pending';index:idx_payments_status_created,priority:1" json:"status"`
	ProviderReference *string           `gorm:"type:varchar(191);default:null;index:idx_payments_provider_reference,priority:2" json:"provider_reference,omitempty"`
	PaymentURL        string            `gorm:"type:text" json:"payment_url"`
	Metadata          datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"autoCreateTime;index:idx_payments_status_created,priority:2" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt       *time.Time        `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = PaymentStatusPending
	}
	return nil
}

// AppendMetadata merges audit fields into the metadata column. Existing keys
// are overwritten; the map is never read for control flow.
func (p *Payment) AppendMetadata(fields map[string]interface{}) {
	if len(fields) == 0 {
		return
	}
	if p.Metadata == nil {
		p.Metadata = datatypes.JSONMap{}
	}
	for k, v := range fields {
		p.Metadata[k] = v
	}
}

// Reference returns the provider reference or an empty string.
func (p *Payment) Reference() string {
	if p.ProviderReference == nil {
		return ""
	}
	return *p.ProviderReference
}
