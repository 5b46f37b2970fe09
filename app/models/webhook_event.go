package models

import "time"

const (
	WebhookSourceWebhook  = "webhook"
	WebhookSourceRecovery = "recovery"
)

// WebhookEvent is the append-only audit ledger of every inbound webhook
// attempt, valid or not, plus every recovery poll result.
type WebhookEvent struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Provider         string    `gorm:"type:varchar(20);not null;index:idx_webhook_events_provider_event,priority:1" json:"provider"`
	EventID          string    `gorm:"type:varchar(191);not null;default:'';index:idx_webhook_events_provider_event,priority:2" json:"event_id"`
	PaymentID        *string   `gorm:"type:varchar(36);default:null;index" json:"payment_id,omitempty"`
	SignatureValid   bool      `gorm:"default:false;index" json:"signature_valid"`
	RawPayloadDigest string    `gorm:"type:char(64);not null" json:"raw_payload_digest"`
	Source           string    `gorm:"type:varchar(16);not null;default:'webhook'" json:"source"`
	RemoteIP         string    `gorm:"type:varchar(45);default:''" json:"remote_ip"`
	ReceivedAt       time.Time `gorm:"not null;index" json:"received_at"`
}
