package billing

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PayFox/app/models"
)

// ExternalState is the closed set of provider outcomes. Provider vocabularies
// are translated into it by the normalizer and nowhere else.
type ExternalState int

const (
	StateUnknown ExternalState = iota
	StateApproved
	StateDeclined
	StatePendingBankAuth
	StatePendingDeviceAuth
)

func (s ExternalState) String() string {
	switch s {
	case StateApproved:
		return "Approved"
	case StateDeclined:
		return "Declined"
	case StatePendingBankAuth:
		return "PendingBankAuth"
	case StatePendingDeviceAuth:
		return "PendingDeviceAuth"
	default:
		return "Unknown"
	}
}

// IsPending reports whether the outcome waits on a 3-D-Secure style step.
func (s ExternalState) IsPending() bool {
	return s == StatePendingBankAuth || s == StatePendingDeviceAuth
}

// Source tells where an outcome came from.
type Source string

const (
	SourceWebhook  Source = models.WebhookSourceWebhook
	SourceRecovery Source = models.WebhookSourceRecovery
)

// WebhookRequest is one raw provider delivery. Fields carries the merged
// query and form values for form-encoded providers; Body the raw bytes.
// PaymentID is only set by recovery polls, which already know the payment.
type WebhookRequest struct {
	Provider  string
	Body      []byte
	Fields    map[string]string
	Headers   http.Header
	RemoteIP  string
	PaymentID string
}

// PaymentOutcome is a provider delivery translated into the canonical shape.
type PaymentOutcome struct {
	Provider          string
	PaymentID         string
	ProviderReference string
	TransactionID     string
	EventID           string
	ExternalState     ExternalState
	RawState          string
	Amount            decimal.Decimal
	HasAmount         bool
	Currency          string
	PayerEmail        string
	UserID            string
	Reason            string
	// Degraded is set when the payment was resolved through the payer email.
	Degraded bool
}

// VerifyResult is the verdict of a signature check.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// Result summarises what one delivery did to its payment.
type Result struct {
	PaymentID        string
	Previous         models.PaymentStatus
	Status           models.PaymentStatus
	Changed          bool
	Duplicate        bool
	EntitlementGiven bool
	Code             string
	Degraded         bool
}
