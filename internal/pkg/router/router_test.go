package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/recovery"
)

type stubService struct{}

func (stubService) HandleWebhook(context.Context, *billing.WebhookRequest) (billing.Result, error) {
	return billing.Result{}, nil
}

func (stubService) GetPaymentDetail(context.Context, string) (*billing.PaymentDetail, error) {
	return &billing.PaymentDetail{}, nil
}

func (stubService) Cancel(_ context.Context, id, _ string) (billing.Result, error) {
	return billing.Result{PaymentID: id}, nil
}

type stubRunner struct{}

func (stubRunner) Stats(context.Context) (recovery.Stats, error) { return recovery.Stats{}, nil }
func (stubRunner) RunStuckSweepOnce(context.Context) (recovery.JobStats, error) {
	return recovery.JobStats{}, nil
}
func (stubRunner) RunCleanupOnce(context.Context) (recovery.JobStats, error) {
	return recovery.JobStats{}, nil
}

const adminKey = "operator-key"

func newTestApp(t *testing.T, healthy bool) *fiber.App {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	app := fiber.New()
	InstallRouter(app, Dependencies{
		Webhooks:     controllers.NewWebhookController(stubService{}, nil),
		Admin:        controllers.NewAdminController(stubService{}, stubRunner{}, nil),
		AdminKeyHash: string(hash),
		HealthChecks: map[string]func(context.Context) error{
			"database": func(context.Context) error { return nil },
			"cache": func(context.Context) error {
				if healthy {
					return nil
				}
				return errors.New("connection refused")
			},
		},
	})
	return app
}

func TestHealthz(t *testing.T) {
	resp, err := newTestApp(t, true).Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = newTestApp(t, false).Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebhookRoutes(t *testing.T) {
	app := newTestApp(t, true)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/webhooks/epayco"},
		{http.MethodGet, "/api/webhooks/epayco"},
		{http.MethodPost, "/api/webhooks/daimo"},
	} {
		resp, err := app.Test(httptest.NewRequest(tc.method, tc.path, strings.NewReader("")))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, tc.method+" "+tc.path)
	}
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	app := newTestApp(t, true)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/recovery/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/recovery/stats", nil)
	req.Header.Set("X-API-Key", "guess")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/recovery/stats", nil)
	req.Header.Set("X-API-Key", adminKey)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/payments/p-1/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+adminKey)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAdminRoutesDisabledWithoutHash(t *testing.T) {
	app := fiber.New()
	InstallRouter(app, Dependencies{
		Webhooks: controllers.NewWebhookController(stubService{}, nil),
		Admin:    controllers.NewAdminController(stubService{}, stubRunner{}, nil),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/recovery/stats", nil)
	req.Header.Set("X-API-Key", adminKey)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestOpenAPIDocumentCoversRoutes(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(filepath.Join("..", "..", "..", "public", "docs", "v1", "openapi.yml"))
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))

	app := newTestApp(t, true)
	for _, route := range app.GetRoutes(true) {
		if route.Method == http.MethodHead || route.Path == "/metrics" || route.Path == "/api/" {
			continue
		}
		path := route.Path
		for _, param := range route.Params {
			path = strings.Replace(path, ":"+param, "{"+param+"}", 1)
		}
		item := doc.Paths.Find(path)
		require.NotNil(t, item, "route %s %s missing from openapi.yml", route.Method, route.Path)
		assert.NotNil(t, item.GetOperation(route.Method), "%s %s", route.Method, route.Path)
	}
}
