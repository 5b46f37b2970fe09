package billing

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/ManuelReschke/PayFox/app/models"
)

type daimoTransfer struct {
	PayerAddress string `json:"payerAddress"`
	TxHash       string `json:"txHash"`
	ChainID      any    `json:"chainId"`
	AmountUnits  string `json:"amountUnits"`
	TokenSymbol  string `json:"tokenSymbol"`
}

type daimoPayment struct {
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	ExternalID  string                 `json:"externalId"`
	Source      *daimoTransfer         `json:"source"`
	Destination *daimoTransfer         `json:"destination"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// daimoEvent accepts both the nested webhook shape and the flat payment
// object returned by the payment lookup API.
type daimoEvent struct {
	Type      string        `json:"type"`
	PaymentID string        `json:"paymentId"`
	Payment   *daimoPayment `json:"payment"`
	daimoPayment
}

// daimoView is the validated, flattened form of a Daimo delivery.
type daimoView struct {
	PaymentID string `validate:"required"`
	State     string `validate:"required"`
	Type      string
	Payment   daimoPayment
}

func parseDaimo(body []byte) (daimoView, error) {
	var ev daimoEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return daimoView{}, newError(KindValidation, CodeValidation, "daimo payload is not valid JSON", err)
	}

	p := ev.daimoPayment
	if ev.Payment != nil {
		p = *ev.Payment
	}
	view := daimoView{
		PaymentID: firstNonEmpty(p.ID, ev.PaymentID),
		State:     firstNonEmpty(p.Status, ev.Type),
		Type:      ev.Type,
		Payment:   p,
	}
	if err := payloadValidator.Struct(view); err != nil {
		return daimoView{}, newError(KindValidation, CodeValidation, "daimo payload incomplete", err)
	}
	return view, nil
}

func mapDaimoState(state string) ExternalState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "payment_completed":
		return StateApproved
	case "payment_bounced", "payment_refunded":
		return StateDeclined
	case "payment_started":
		return StatePendingDeviceAuth
	case "payment_unpaid":
		return StatePendingBankAuth
	default:
		return StateUnknown
	}
}

// daimoEventID prefers a delivery id header over the payment id and type.
func daimoEventID(headers http.Header, v daimoView) string {
	for _, h := range []string{"X-Daimo-Event-Id", "Idempotency-Key"} {
		if id := strings.TrimSpace(headers.Get(h)); id != "" {
			return id
		}
	}
	return v.PaymentID + ":" + strings.ToLower(firstNonEmpty(v.Type, v.State))
}

func normalizeDaimo(body []byte, headers http.Header, currencyOfRecord string) (PaymentOutcome, []string, error) {
	v, err := parseDaimo(body)
	if err != nil {
		return PaymentOutcome{}, nil, err
	}

	meta := func(key string) string {
		if v.Payment.Metadata == nil {
			return ""
		}
		return strings.TrimSpace(cast.ToString(v.Payment.Metadata[key]))
	}

	out := PaymentOutcome{
		Provider:          models.ProviderDaimo,
		PaymentID:         meta("paymentId"),
		ProviderReference: v.PaymentID,
		EventID:           daimoEventID(headers, v),
		ExternalState:     mapDaimoState(v.State),
		RawState:          strings.ToLower(v.State),
		PayerEmail:        meta("email"),
		UserID:            meta("userId"),
		Currency:          strings.ToUpper(currencyOfRecord),
	}

	var units, symbol string
	for _, t := range []*daimoTransfer{v.Payment.Destination, v.Payment.Source} {
		if t == nil {
			continue
		}
		if out.TransactionID == "" {
			out.TransactionID = t.TxHash
		}
		if units == "" && t.AmountUnits != "" {
			units, symbol = t.AmountUnits, t.TokenSymbol
		}
	}
	if units == "" {
		units = meta("amount")
	}
	if units != "" {
		amount, err := decimal.NewFromString(units)
		if err != nil {
			return out, nil, newError(KindValidation, CodeValidation, "daimo amount is not a number", err)
		}
		out.Amount, out.HasAmount = amount, true
	}
	if symbol != "" {
		out.Currency = strings.ToUpper(symbol)
	}
	if out.TransactionID == "" {
		out.TransactionID = v.PaymentID
	}

	alternates := []string{v.Payment.ExternalID}
	if out.ExternalState == StateUnknown {
		return out, alternates, newError(KindNormalization, CodeUnknownState, "unrecognized daimo status "+strconv.Quote(v.State), nil)
	}
	return out, alternates, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
