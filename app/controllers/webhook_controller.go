package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/spf13/cast"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
)

// WebhookProcessor is the part of the billing service the webhook routes use.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, req *billing.WebhookRequest) (billing.Result, error)
}

// OutcomeRecorder counts webhook outcomes per provider.
type OutcomeRecorder interface {
	Add(ctx context.Context, provider, outcome string) error
}

// WebhookController receives provider callbacks.
type WebhookController struct {
	processor WebhookProcessor
	counters  OutcomeRecorder
}

// NewWebhookController binds the webhook routes to processor. counters may be nil.
func NewWebhookController(processor WebhookProcessor, counters OutcomeRecorder) *WebhookController {
	return &WebhookController{processor: processor, counters: counters}
}

// HandleEpayco accepts the ePayco confirmation as query string, form body or
// JSON body. Body values win over query values with the same name.
func (wc *WebhookController) HandleEpayco(c *fiber.Ctx) error {
	fields := make(map[string]string)
	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		fields[string(k)] = string(v)
	})

	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEApplicationJSON) {
		// An undecodable body still goes through so the attempt is recorded;
		// the query fields alone fail the signature check.
		var body map[string]interface{}
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &body); err != nil {
				log.Warnf("[Webhook] undecodable epayco json remote_ip=%s: %v", clientIP(c), err)
				body = nil
			}
		}
		for k, v := range body {
			fields[k] = cast.ToString(v)
		}
	} else {
		c.Context().PostArgs().VisitAll(func(k, v []byte) {
			fields[string(k)] = string(v)
		})
	}

	return wc.dispatch(c, &billing.WebhookRequest{
		Provider: models.ProviderEpayco,
		Body:     append([]byte(nil), c.Body()...),
		Fields:   fields,
		Headers:  requestHeaders(c),
		RemoteIP: clientIP(c),
	})
}

// HandleDaimo accepts the Daimo Pay JSON event.
func (wc *WebhookController) HandleDaimo(c *fiber.Ctx) error {
	return wc.dispatch(c, &billing.WebhookRequest{
		Provider: models.ProviderDaimo,
		Body:     append([]byte(nil), c.Body()...),
		Headers:  requestHeaders(c),
		RemoteIP: clientIP(c),
	})
}

func (wc *WebhookController) dispatch(c *fiber.Ctx, req *billing.WebhookRequest) error {
	res, err := wc.processor.HandleWebhook(c.UserContext(), req)
	wc.record(c.UserContext(), req.Provider, res, err)
	if err == nil {
		body := fiber.Map{"success": true}
		if res.Duplicate {
			body["duplicate"] = true
			body["code"] = billing.CodeDuplicate
		}
		return c.Status(fiber.StatusOK).JSON(body)
	}

	switch {
	case billing.IsKind(err, billing.KindAuthentication):
		return respondError(c, fiber.StatusUnauthorized, "invalid_signature", billing.CodeAuthentication)
	case billing.IsKind(err, billing.KindValidation):
		return respondError(c, fiber.StatusBadRequest, "invalid_payload", billing.CodeValidation)
	case billing.IsKind(err, billing.KindNormalization),
		billing.IsKind(err, billing.KindTerminalState),
		billing.IsKind(err, billing.KindDuplicateEvent):
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "code": billing.CodeOf(err)})
	default:
		log.Errorf("[Webhook] provider=%s remote_ip=%s: %v", req.Provider, req.RemoteIP, err)
		return respondError(c, fiber.StatusInternalServerError, "internal_error", "INTERNAL_ERROR")
	}
}

func (wc *WebhookController) record(ctx context.Context, provider string, res billing.Result, err error) {
	if wc.counters == nil {
		return
	}
	outcome := counter.OutcomeAccepted
	switch {
	case err == nil && res.Duplicate:
		outcome = counter.OutcomeDuplicate
	case err == nil:
	case billing.IsKind(err, billing.KindAuthentication):
		outcome = counter.OutcomeRejected
	case billing.IsKind(err, billing.KindValidation):
		outcome = counter.OutcomeInvalid
	case billing.IsKind(err, billing.KindNormalization),
		billing.IsKind(err, billing.KindTerminalState),
		billing.IsKind(err, billing.KindDuplicateEvent):
		outcome = counter.OutcomeIgnored
	default:
		outcome = counter.OutcomeFailed
	}
	if cErr := wc.counters.Add(ctx, provider, outcome); cErr != nil {
		log.Warnf("[Webhook] count %s/%s: %v", provider, outcome, cErr)
	}
}

func respondError(c *fiber.Ctx, status int, message, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

func requestHeaders(c *fiber.Ctx) http.Header {
	h := make(http.Header)
	for k, values := range c.GetReqHeaders() {
		for _, v := range values {
			h.Add(k, v)
		}
	}
	return h
}
