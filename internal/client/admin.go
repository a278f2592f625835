package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	api "keygate/pkg/contracts/api/v1"
)

// Admin calls the bearer-protected admin routes
type Admin struct {
	rest   *restClient
	header http.Header
}

// NewAdmin creates an admin client authenticated with token
func NewAdmin(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Admin {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return &Admin{
		rest:   newRESTClient(baseURL, timeout, nil, logger),
		header: h,
	}
}

func (a *Admin) Create(ctx context.Context, req api.CreateKeyRequest) (*api.CreateKeyResponse, error) {
	return call[api.CreateKeyResponse](ctx, a.rest, http.MethodPost, "/api/keys/create", req, a.header)
}

func (a *Admin) List(ctx context.Context) (*api.ListResponse, error) {
	return call[api.ListResponse](ctx, a.rest, http.MethodGet, "/api/keys/list", nil, a.header)
}

func (a *Admin) Get(ctx context.Context, key string) (*api.KeySummary, error) {
	return call[api.KeySummary](ctx, a.rest, http.MethodGet, "/api/keys/"+url.PathEscape(key), nil, a.header)
}

func (a *Admin) Revoke(ctx context.Context, key string) (*api.ActionResponse, error) {
	return call[api.ActionResponse](ctx, a.rest, http.MethodPost, "/api/keys/revoke", api.KeyRequest{Key: key}, a.header)
}

func (a *Admin) ToggleKill(ctx context.Context, key string, enabled bool) (*api.ToggleKillResponse, error) {
	req := api.ToggleKillRequest{Key: key, Enabled: &enabled}
	return call[api.ToggleKillResponse](ctx, a.rest, http.MethodPost, "/api/keys/toggle-kill", req, a.header)
}

func (a *Admin) Reset(ctx context.Context, key, target string) (*api.ActionResponse, error) {
	req := api.ResetBindingRequest{Key: key, Target: target}
	return call[api.ActionResponse](ctx, a.rest, http.MethodPost, "/api/keys/reset", req, a.header)
}

// Export downloads the key list in format ("csv" or "xlsx")
func (a *Admin) Export(ctx context.Context, format string) ([]byte, error) {
	return a.rest.send(ctx, http.MethodGet, "/api/keys/export?format="+url.QueryEscape(format), nil, a.header)
}

func (a *Admin) Settings(ctx context.Context) (*api.Settings, error) {
	return call[api.Settings](ctx, a.rest, http.MethodGet, "/api/settings", nil, nil)
}

func (a *Admin) UpdateSettings(ctx context.Context, req api.UpdateSettingsRequest) (*api.Settings, error) {
	return call[api.Settings](ctx, a.rest, http.MethodPost, "/api/settings", req, a.header)
}

func (a *Admin) Health(ctx context.Context) (*api.HealthResponse, error) {
	return call[api.HealthResponse](ctx, a.rest, http.MethodGet, "/healthz", nil, nil)
}

func call[T any](ctx context.Context, c *restClient, method, path string, body interface{}, header http.Header) (*T, error) {
	var out T
	if err := c.do(ctx, method, path, body, &out, header); err != nil {
		return nil, err
	}
	return &out, nil
}
