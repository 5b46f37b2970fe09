package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
)

type fakeProcessor struct {
	last *billing.WebhookRequest
	res  billing.Result
	err  error
}

func (f *fakeProcessor) HandleWebhook(_ context.Context, req *billing.WebhookRequest) (billing.Result, error) {
	f.last = req
	return f.res, f.err
}

func newWebhookApp(p *fakeProcessor) *fiber.App {
	app := fiber.New()
	wc := NewWebhookController(p, nil)
	app.Post("/epayco", wc.HandleEpayco)
	app.Get("/epayco", wc.HandleEpayco)
	app.Post("/daimo", wc.HandleDaimo)
	return app
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestHandleEpaycoMergesQueryAndForm(t *testing.T) {
	p := &fakeProcessor{}
	app := newWebhookApp(p)

	req := httptest.NewRequest(http.MethodPost, "/epayco?x_ref_payco=Q1&x_extra3=from-query",
		strings.NewReader("x_extra3=from-form&x_amount=14.99"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["success"])

	require.NotNil(t, p.last)
	assert.Equal(t, models.ProviderEpayco, p.last.Provider)
	assert.Equal(t, "Q1", p.last.Fields["x_ref_payco"])
	assert.Equal(t, "from-form", p.last.Fields["x_extra3"])
	assert.Equal(t, "14.99", p.last.Fields["x_amount"])
	assert.Equal(t, "203.0.113.7", p.last.RemoteIP)
}

func TestHandleEpaycoJSONAndQueryOnly(t *testing.T) {
	p := &fakeProcessor{}
	app := newWebhookApp(p)

	req := httptest.NewRequest(http.MethodPost, "/epayco", strings.NewReader(`{"x_ref_payco":88123,"x_amount":"14.99"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "88123", p.last.Fields["x_ref_payco"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/epayco?x_ref_payco=G1&x_cod_transaction_state=1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", p.last.Fields["x_cod_transaction_state"])

}

func TestHandleEpaycoMalformedJSONStillDispatched(t *testing.T) {
	p := &fakeProcessor{err: &billing.Error{Kind: billing.KindAuthentication, Code: billing.CodeAuthentication}}
	app := newWebhookApp(p)

	req := httptest.NewRequest(http.MethodPost, "/epayco?x_ref_payco=Q9", strings.NewReader(`{"x_ref_payco":`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	require.NotNil(t, p.last)
	assert.Equal(t, `{"x_ref_payco":`, string(p.last.Body))
	assert.Equal(t, map[string]string{"x_ref_payco": "Q9"}, p.last.Fields)
}

func TestHandleDaimoPassesBodyAndHeaders(t *testing.T) {
	p := &fakeProcessor{res: billing.Result{Duplicate: true}}
	app := newWebhookApp(p)

	req := httptest.NewRequest(http.MethodPost, "/daimo", strings.NewReader(`{"paymentId":"dp_1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, billing.CodeDuplicate, body["code"])
	assert.JSONEq(t, `{"paymentId":"dp_1"}`, string(p.last.Body))
	assert.Equal(t, "Bearer s3cret", p.last.Headers.Get("Authorization"))
}

func TestWebhookErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		success bool
		code    string
	}{
		{"auth", &billing.Error{Kind: billing.KindAuthentication, Code: billing.CodeAuthentication}, fiber.StatusUnauthorized, false, billing.CodeAuthentication},
		{"validation", &billing.Error{Kind: billing.KindValidation, Code: billing.CodeValidation}, fiber.StatusBadRequest, false, billing.CodeValidation},
		{"normalization", &billing.Error{Kind: billing.KindNormalization, Code: billing.CodeAmountMismatch}, fiber.StatusOK, true, billing.CodeAmountMismatch},
		{"terminal", &billing.Error{Kind: billing.KindTerminalState, Code: billing.CodeTerminalState}, fiber.StatusOK, true, billing.CodeTerminalState},
		{"internal", assert.AnError, fiber.StatusInternalServerError, false, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newWebhookApp(&fakeProcessor{err: tt.err})
			req := httptest.NewRequest(http.MethodPost, "/daimo", strings.NewReader(`{}`))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decodeBody(t, resp)
			assert.Equal(t, tt.success, body["success"])
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestUnauthorizedWebhookBody(t *testing.T) {
	app := newWebhookApp(&fakeProcessor{err: &billing.Error{Kind: billing.KindAuthentication, Code: billing.CodeAuthentication}})
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/epayco", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{
		"success": false,
		"error":   "invalid_signature",
		"code":    "AUTHENTICATION_ERROR",
	}, decodeBody(t, resp))
}

type fakeRecorder struct {
	outcomes []string
}

func (f *fakeRecorder) Add(_ context.Context, provider, outcome string) error {
	f.outcomes = append(f.outcomes, provider+"/"+outcome)
	return nil
}

func TestWebhookOutcomesAreCounted(t *testing.T) {
	p := &fakeProcessor{}
	rec := &fakeRecorder{}
	app := fiber.New()
	wc := NewWebhookController(p, rec)
	app.Post("/daimo", wc.HandleDaimo)

	send := func() {
		req := httptest.NewRequest(http.MethodPost, "/daimo", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		_, err := app.Test(req)
		require.NoError(t, err)
	}

	send()
	p.res = billing.Result{Duplicate: true}
	send()
	p.res, p.err = billing.Result{}, &billing.Error{Kind: billing.KindAuthentication, Code: billing.CodeAuthentication}
	send()
	p.err = &billing.Error{Kind: billing.KindTerminalState, Code: billing.CodeTerminalState}
	send()
	p.err = assert.AnError
	send()

	assert.Equal(t, []string{
		"daimo/accepted",
		"daimo/duplicate",
		"daimo/rejected",
		"daimo/ignored",
		"daimo/failed",
	}, rec.outcomes)
}
