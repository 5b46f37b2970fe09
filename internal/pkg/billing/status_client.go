package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cast"

	"github.com/ManuelReschke/PayFox/app/models"
)

// StatusChecker asks a provider for the current state of a transaction. The
// returned request is normalized exactly like a webhook delivery.
type StatusChecker interface {
	Provider() string
	CheckStatus(ctx context.Context, reference string) (*WebhookRequest, error)
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return client
}

// EpaycoClient queries the ePayco transaction validation endpoint.
type EpaycoClient struct {
	http      *resty.Client
	publicKey string
}

func NewEpaycoClient(cfg Config) *EpaycoClient {
	return &EpaycoClient{
		http:      newRestyClient(cfg.EpaycoAPIURL, cfg.ProviderTimeout),
		publicKey: cfg.EpaycoPublicKey,
	}
}

func (c *EpaycoClient) Provider() string { return models.ProviderEpayco }

type epaycoStatusResponse struct {
	Success bool                   `json:"success"`
	Title   string                 `json:"title_response"`
	Text    string                 `json:"text_response"`
	Data    map[string]interface{} `json:"data"`
}

func (c *EpaycoClient) CheckStatus(ctx context.Context, reference string) (*WebhookRequest, error) {
	var body epaycoStatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ref_payco":  reference,
			"public_key": c.publicKey,
		}).
		SetResult(&body).
		Get("/restpagos/transaction/response.json")
	if err != nil {
		return nil, newError(KindTransientProvider, CodeProviderFailure, "epayco status request failed", err)
	}
	if resp.IsError() {
		return nil, newError(KindTransientProvider, CodeProviderFailure,
			fmt.Sprintf("epayco status returned HTTP %d", resp.StatusCode()), nil)
	}
	if !body.Success || len(body.Data) == 0 {
		return nil, newError(KindTransientProvider, CodeProviderFailure,
			fmt.Sprintf("epayco status unavailable for %s: %s", reference, body.Text), nil)
	}

	fields := make(map[string]string, len(body.Data))
	for k, v := range body.Data {
		fields[k] = cast.ToString(v)
	}
	if fields["x_ref_payco"] == "" {
		fields["x_ref_payco"] = reference
	}
	return &WebhookRequest{Provider: models.ProviderEpayco, Fields: fields}, nil
}

// DaimoClient queries the Daimo Pay payment lookup API.
type DaimoClient struct {
	http *resty.Client
}

func NewDaimoClient(cfg Config) *DaimoClient {
	client := newRestyClient(cfg.DaimoAPIURL, cfg.ProviderTimeout)
	client.SetHeader("Api-Key", cfg.DaimoAPIKey)
	return &DaimoClient{http: client}
}

func (c *DaimoClient) Provider() string { return models.ProviderDaimo }

func (c *DaimoClient) CheckStatus(ctx context.Context, reference string) (*WebhookRequest, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/payment/" + url.PathEscape(reference))
	if err != nil {
		return nil, newError(KindTransientProvider, CodeProviderFailure, "daimo status request failed", err)
	}
	if resp.IsError() {
		return nil, newError(KindTransientProvider, CodeProviderFailure,
			fmt.Sprintf("daimo status returned HTTP %d", resp.StatusCode()), nil)
	}
	body := resp.Body()
	if !json.Valid(body) {
		return nil, newError(KindTransientProvider, CodeProviderFailure, "daimo status returned non-JSON body", nil)
	}
	return &WebhookRequest{Provider: models.ProviderDaimo, Body: body}, nil
}
