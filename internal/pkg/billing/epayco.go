package billing

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/ManuelReschke/PayFox/app/models"
)

var payloadValidator = validator.New()

// epaycoConfirmation is the subset of the ePayco confirmation fields we act on.
type epaycoConfirmation struct {
	RefPayco         string `validate:"required"`
	TransactionID    string `validate:"required"`
	Amount           string `validate:"required"`
	CurrencyCode     string `validate:"required"`
	TransactionState string `validate:"required_without=StateCode"`
	StateCode        string `validate:"required_without=TransactionState"`
	ResponseReason   string
	IDInvoice        string
	Invoice          string
	UserID           string // x_extra1
	PlanID           string // x_extra2
	PaymentID        string // x_extra3
	CustomerEmail    string
	DeviceData       string
	MethodURL        string
}

func parseEpayco(fields map[string]string) epaycoConfirmation {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(fields[k]); v != "" {
				return v
			}
		}
		return ""
	}
	return epaycoConfirmation{
		RefPayco:         get("x_ref_payco"),
		TransactionID:    get("x_transaction_id"),
		Amount:           get("x_amount"),
		CurrencyCode:     get("x_currency_code"),
		TransactionState: get("x_transaction_state", "x_respuesta", "x_response"),
		StateCode:        get("x_cod_transaction_state", "x_cod_response"),
		ResponseReason:   get("x_response_reason_text"),
		IDInvoice:        get("x_id_invoice"),
		Invoice:          get("x_invoice"),
		UserID:           get("x_extra1"),
		PlanID:           get("x_extra2"),
		PaymentID:        get("x_extra3"),
		CustomerEmail:    get("x_customer_email"),
		DeviceData:       get("x_3ds_device_data"),
		MethodURL:        get("x_3ds_method_url", "x_three_d_s_method_url"),
	}
}

// epaycoEventID identifies one state of one transaction. ePayco sends no
// event id, and a later state of the same transaction is a new event.
func epaycoEventID(c epaycoConfirmation) string {
	state := c.StateCode
	if state == "" {
		state = strings.ToLower(c.TransactionState)
	}
	return c.TransactionID + ":" + state
}

var epaycoStateCodes = map[int]string{
	1:  "aceptada",
	2:  "rechazada",
	3:  "pendiente",
	4:  "fallida",
	6:  "reversada",
	10: "abandonada",
	11: "cancelada",
}

// mapEpaycoState translates the Spanish vocabulary, falling back to the
// numeric state code when the text is absent.
func mapEpaycoState(c epaycoConfirmation) (ExternalState, string) {
	raw := strings.ToLower(strings.TrimSpace(c.TransactionState))
	if raw == "" && c.StateCode != "" {
		if code, err := cast.ToIntE(c.StateCode); err == nil {
			raw = epaycoStateCodes[code]
		}
	}

	switch raw {
	case "aceptada", "aprobada":
		return StateApproved, raw
	case "rechazada", "fallida", "cancelada", "abandonada", "expirada", "anulada", "reversada":
		return StateDeclined, raw
	case "pendiente":
		if c.DeviceData != "" || c.MethodURL != "" {
			return StatePendingDeviceAuth, raw
		}
		return StatePendingBankAuth, raw
	default:
		if raw == "" {
			raw = c.StateCode
		}
		return StateUnknown, raw
	}
}

// normalizeEpayco validates the confirmation and builds the outcome without
// resolving the payment id against the store.
func normalizeEpayco(fields map[string]string) (PaymentOutcome, []string, error) {
	c := parseEpayco(fields)
	if err := payloadValidator.Struct(c); err != nil {
		return PaymentOutcome{}, nil, newError(KindValidation, CodeValidation, "epayco confirmation incomplete", err)
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(c.Amount, ",", ""))
	if err != nil {
		return PaymentOutcome{}, nil, newError(KindValidation, CodeValidation, "epayco x_amount is not a number", err)
	}

	state, raw := mapEpaycoState(c)
	out := PaymentOutcome{
		Provider:          models.ProviderEpayco,
		PaymentID:         c.PaymentID,
		ProviderReference: c.RefPayco,
		TransactionID:     c.TransactionID,
		EventID:           epaycoEventID(c),
		ExternalState:     state,
		RawState:          raw,
		Amount:            amount,
		HasAmount:         true,
		Currency:          strings.ToUpper(c.CurrencyCode),
		PayerEmail:        c.CustomerEmail,
		UserID:            c.UserID,
		Reason:            c.ResponseReason,
	}
	alternates := []string{c.IDInvoice, c.Invoice}
	if state == StateUnknown {
		return out, alternates, newError(KindNormalization, CodeUnknownState, "unrecognized epayco state "+strconv.Quote(raw), nil)
	}
	return out, alternates, nil
}
