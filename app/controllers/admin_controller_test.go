package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/recovery"
)

type fakePayments struct {
	detail       *billing.PaymentDetail
	detailErr    error
	cancelErr    error
	cancelReason string
}

func (f *fakePayments) GetPaymentDetail(_ context.Context, id string) (*billing.PaymentDetail, error) {
	return f.detail, f.detailErr
}

func (f *fakePayments) Cancel(_ context.Context, id, reason string) (billing.Result, error) {
	f.cancelReason = reason
	if f.cancelErr != nil {
		return billing.Result{PaymentID: id}, f.cancelErr
	}
	return billing.Result{PaymentID: id, Previous: models.PaymentStatusPending, Status: models.PaymentStatusCancelled, Changed: true}, nil
}

type fakeRunner struct {
	sweepErr error
	runs     int
}

func (f *fakeRunner) Stats(context.Context) (recovery.Stats, error) {
	return recovery.Stats{Backlog: map[string]int64{"stuck": 3}}, nil
}

func (f *fakeRunner) RunStuckSweepOnce(context.Context) (recovery.JobStats, error) {
	f.runs++
	return recovery.JobStats{Processed: 4}, f.sweepErr
}

func (f *fakeRunner) RunCleanupOnce(context.Context) (recovery.JobStats, error) {
	f.runs++
	return recovery.JobStats{Abandoned: 1}, nil
}

func newAdminApp(p *fakePayments, r *fakeRunner) *fiber.App {
	app := fiber.New()
	ac := NewAdminController(p, r, nil)
	app.Get("/webhooks/stats", ac.HandleWebhookStats)
	app.Get("/recovery/stats", ac.HandleRecoveryStats)
	app.Post("/recovery/sweep", ac.HandleRunSweep)
	app.Post("/recovery/cleanup", ac.HandleRunCleanup)
	app.Get("/payments/:id", ac.HandlePaymentDetail)
	app.Post("/payments/:id/cancel", ac.HandleCancelPayment)
	return app
}

func TestAdminRecoveryEndpoints(t *testing.T) {
	runner := &fakeRunner{}
	app := newAdminApp(&fakePayments{}, runner)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/recovery/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := decodeBody(t, resp)["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["backlog"].(map[string]interface{})["stuck"])

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/recovery/sweep", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/recovery/cleanup", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, runner.runs)

	runner.sweepErr = recovery.ErrJobRunning
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/recovery/sweep", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestAdminPaymentDetail(t *testing.T) {
	payments := &fakePayments{detail: &billing.PaymentDetail{Payment: &models.Payment{ID: "p-1", Status: models.PaymentStatusCompleted}}}
	app := newAdminApp(payments, &fakeRunner{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payments/p-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := decodeBody(t, resp)["data"].(map[string]interface{})
	assert.Equal(t, "completed", data["payment"].(map[string]interface{})["status"])

	payments.detailErr = gorm.ErrRecordNotFound
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/payments/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestAdminCancelPayment(t *testing.T) {
	payments := &fakePayments{}
	app := newAdminApp(payments, &fakeRunner{})

	req := httptest.NewRequest(http.MethodPost, "/payments/p-1/cancel", strings.NewReader(`{"reason":" user_request "}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "user_request", payments.cancelReason)

	payments.cancelErr = &billing.Error{Kind: billing.KindTerminalState, Code: billing.CodeTerminalState}
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/payments/p-1/cancel", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "", payments.cancelReason)

	payments.cancelErr = gorm.ErrRecordNotFound
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/payments/nope/cancel", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

type fakeCounters struct{}

func (fakeCounters) Snapshot(_ context.Context, providers ...string) (map[string]map[string]int64, error) {
	out := map[string]map[string]int64{}
	for _, p := range providers {
		out[p] = map[string]int64{"accepted": 2}
	}
	return out, nil
}

func TestAdminWebhookStats(t *testing.T) {
	resp, err := newAdminApp(&fakePayments{}, &fakeRunner{}).Test(httptest.NewRequest(http.MethodGet, "/webhooks/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody(t, resp)["data"])

	app := fiber.New()
	app.Get("/webhooks/stats", NewAdminController(&fakePayments{}, &fakeRunner{}, fakeCounters{}).HandleWebhookStats)
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/webhooks/stats", nil))
	require.NoError(t, err)
	data := decodeBody(t, resp)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["epayco"].(map[string]interface{})["accepted"])
	assert.Contains(t, data, "daimo")
}
