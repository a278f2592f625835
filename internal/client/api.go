package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"keygate/internal/infrastructure"
	"keygate/internal/signature"
	api "keygate/pkg/contracts/api/v1"
)

const (
	maxResponseBytes = 8 << 20

	// requestIDHeader carries the caller's trace id so server logs for the
	// request share it
	requestIDHeader = "X-Request-ID"
)

// APIConfig configures an API client
type APIConfig struct {
	BaseURL    string
	SignSecret string
	Timeout    time.Duration
	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     *slog.Logger
}

// API calls the client routes of the license server. Requests carrying a
// hardware or device id are signed when a secret is configured.
type API struct {
	rest   *restClient
	secret string
	now    func() time.Time
}

// NewAPI creates an API client
func NewAPI(cfg APIConfig) *API {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &API{
		rest:   newRESTClient(cfg.BaseURL, cfg.Timeout, cfg.HTTPClient, cfg.Logger),
		secret: cfg.SignSecret,
		now:    now,
	}
}

// Verify checks the license for this device and returns the token
func (a *API) Verify(ctx context.Context, key, deviceID string) (*api.VerifyResponse, error) {
	req := api.VerifyRequest{Key: key, DeviceID: deviceID}
	req.Timestamp, req.Signature = a.sign(key, deviceID)

	return call[api.VerifyResponse](ctx, a.rest, http.MethodPost, "/api/keys/verify", req, nil)
}

// Activate binds the license to hardwareID. checkOnly validates without binding.
func (a *API) Activate(ctx context.Context, key, hardwareID string, checkOnly bool) (*api.ActivateHardwareResponse, error) {
	req := api.ActivateHardwareRequest{Key: key, MACAddress: hardwareID, CheckOnly: checkOnly}
	req.Timestamp, req.Signature = a.sign(key, hardwareID)

	return call[api.ActivateHardwareResponse](ctx, a.rest, http.MethodPost, "/api/keys/activate-mac", req, nil)
}

// Heartbeat reports companion liveness. A kill verdict comes back as a
// successful response with Kill set.
func (a *API) Heartbeat(ctx context.Context, key, hardwareID string, offline bool) (*api.HeartbeatResponse, error) {
	req := api.HeartbeatRequest{Key: key, MACAddress: hardwareID, Offline: offline}
	req.Timestamp, req.Signature = a.sign(key, hardwareID)

	return call[api.HeartbeatResponse](ctx, a.rest, http.MethodPost, "/api/keys/heartbeat", req, nil)
}

// ReportTamper asks the server to set the kill switch for key
func (a *API) ReportTamper(ctx context.Context, key, hardwareID, reason string) (*api.ActionResponse, error) {
	req := api.ReportTamperRequest{Key: key, MACAddress: hardwareID, Reason: reason}
	req.Timestamp, req.Signature = a.sign(key, hardwareID)

	return call[api.ActionResponse](ctx, a.rest, http.MethodPost, "/api/keys/report-tamper", req, nil)
}

// Settings reads the published client settings
func (a *API) Settings(ctx context.Context) (*api.Settings, error) {
	return call[api.Settings](ctx, a.rest, http.MethodGet, "/api/settings", nil, nil)
}

func (a *API) sign(fields ...string) (int64, string) {
	if a.secret == "" {
		return 0, ""
	}
	return signature.SignRequest(a.now(), a.secret, fields...)
}

// errorEnvelope matches the server's uniform error body. Success bodies
// never carry the "error" field.
type errorEnvelope struct {
	Error              string `json:"error"`
	Code               string `json:"code"`
	Kill               bool   `json:"kill"`
	Blocked            bool   `json:"blocked"`
	RequiresActivation bool   `json:"requiresActivation"`
}

type restClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func newRESTClient(baseURL string, timeout time.Duration, hc *http.Client, logger *slog.Logger) *restClient {
	if hc == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
	}
}

// do sends body as JSON and decodes a success body into out. out may be nil.
func (c *restClient) do(ctx context.Context, method, path string, body, out interface{}, header http.Header) error {
	raw, err := c.send(ctx, method, path, body, header)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// send returns the raw success body or the decoded *APIError.
func (c *restClient) send(ctx context.Context, method, path string, body interface{}, header http.Header) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, infrastructure.GetTraceID(infrastructure.EnsureTraceID(ctx)))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}

	var env errorEnvelope
	if len(raw) > 0 && json.Valid(raw) {
		_ = json.Unmarshal(raw, &env)
	}
	if resp.StatusCode >= http.StatusBadRequest || env.Error != "" {
		apiErr := &APIError{
			Status:             resp.StatusCode,
			Code:               env.Code,
			Message:            env.Error,
			Kill:               env.Kill,
			Blocked:            env.Blocked,
			RequiresActivation: env.RequiresActivation,
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.logger.DebugContext(ctx, "license server rejected request",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("code", apiErr.Code))
		return nil, apiErr
	}
	return raw, nil
}
