package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keygate/internal/errors"
	"keygate/internal/license"
	"keygate/internal/middleware"
	"keygate/internal/signature"
	"keygate/internal/store"
	api "keygate/pkg/contracts/api/v1"
)

const (
	adminToken = "admin-token"
	signSecret = "sign-secret"
	testMAC    = "aa:bb:cc:dd:ee:01"
)

type testServer struct {
	router http.Handler
	store  *store.MemoryStore
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	ms := store.NewMemoryStore()
	svc := license.NewService(ms, license.Options{
		SignSecret:   signSecret,
		TokenSecret:  "token-secret",
		StrictVerify: true,
		Clock:        func() time.Time { return now },
		Logger:       logger,
	})

	eh := apperrors.NewErrorHandler(logger, false)
	h := NewKeyHandler(svc, middleware.NewValidator(logger), eh, logger)
	h.now = func() time.Time { return now }
	auth := middleware.AdminAuth(adminToken, logger, eh)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.NotFound(eh.NotFound)
	r.MethodNotAllowed(eh.MethodNotAllowed)
	r.Mount("/api/keys", h.Routes(auth))
	r.Mount("/api/tokens", h.TokenRoutes())
	r.Mount("/api/settings", h.SettingsRoutes(auth))
	r.Get("/healthz", NewHealthHandler(ms, "test", logger).HealthCheck)

	return &testServer{router: r, store: ms, now: now}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) create(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/keys/create", api.CreateKeyRequest{ExpiresInDays: 30, Label: "handler"}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp api.CreateKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Key
}

func (s *testServer) signedHeartbeat(key string) api.HeartbeatRequest {
	ts, sig := signature.SignRequest(s.now, signSecret, key, testMAC)
	return api.HeartbeatRequest{Key: key, MACAddress: testMAC, Timestamp: ts, Signature: sig}
}

func (s *testServer) signedActivate(key string) api.ActivateHardwareRequest {
	ts, sig := signature.SignRequest(s.now, signSecret, key, testMAC)
	return api.ActivateHardwareRequest{Key: key, MACAddress: testMAC, Timestamp: ts, Signature: sig}
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) apperrors.Body {
	t.Helper()
	var body apperrors.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/keys/create"},
		{http.MethodGet, "/api/keys/list"},
		{http.MethodGet, "/api/keys/export"},
		{http.MethodPost, "/api/keys/revoke"},
		{http.MethodPost, "/api/keys/toggle-kill"},
		{http.MethodPost, "/api/keys/reset"},
		{http.MethodPost, "/api/settings"},
	} {
		rec := s.do(t, tc.method, tc.path, map[string]string{}, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
		assert.Equal(t, apperrors.CodeUnauthorized, errorBody(t, rec).Code, tc.path)
	}
}

func TestClientFlow(t *testing.T) {
	s := newTestServer(t)
	key := s.create(t)

	rec := s.do(t, http.MethodPost, "/api/keys/activate-mac", s.signedActivate(key), false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/keys/heartbeat", s.signedHeartbeat(key), false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/keys/verify", api.VerifyRequest{Key: key, DeviceID: "device-1"}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var verify api.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.True(t, verify.Valid)
	assert.Equal(t, 30, verify.DaysRemaining)

	rec = s.do(t, http.MethodPost, "/api/tokens/introspect", api.IntrospectRequest{Token: verify.Token}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info api.IntrospectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, key, info.Key)
	assert.Equal(t, "device-1", info.DeviceID)

	rec = s.do(t, http.MethodPost, "/api/tokens/introspect", api.IntrospectRequest{Token: "garbage"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidToken, errorBody(t, rec).Code)
}

func TestKillVerdictIsOK(t *testing.T) {
	s := newTestServer(t)
	key := s.create(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/keys/activate-mac", s.signedActivate(key), false).Code)

	enabled := true
	rec := s.do(t, http.MethodPost, "/api/keys/toggle-kill", api.ToggleKillRequest{Key: key, Enabled: &enabled}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/keys/heartbeat", s.signedHeartbeat(key), false)
	require.Equal(t, http.StatusOK, rec.Code)
	var hb api.HeartbeatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hb))
	assert.True(t, hb.Kill)
	assert.Equal(t, apperrors.CodeKill, hb.Code)

	rec = s.do(t, http.MethodPost, "/api/keys/verify", api.VerifyRequest{Key: key, DeviceID: "device-1"}, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := errorBody(t, rec)
	assert.False(t, body.Valid)
	assert.True(t, body.Kill)
	assert.True(t, body.Blocked)
	assert.Equal(t, apperrors.CodeKill, body.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t)
	key := s.create(t)

	rec := s.do(t, http.MethodPost, "/api/keys/verify", api.VerifyRequest{Key: "0000-0000-0000-0000", DeviceID: "d"}, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeKeyNotFound, errorBody(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/keys/verify", api.VerifyRequest{Key: key, DeviceID: "d"}, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := errorBody(t, rec)
	assert.Equal(t, apperrors.CodeMACNotBound, body.Code)
	assert.True(t, body.RequiresActivation)

	rec = s.do(t, http.MethodPost, "/api/keys/verify", map[string]string{"key": key}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidRequest, errorBody(t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/keys/heartbeat", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := s.signedHeartbeat(key)
	bad.Signature = strings.Repeat("0", 32)
	rec = s.do(t, http.MethodPost, "/api/keys/heartbeat", bad, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidSignature, errorBody(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/keys/revoke", api.KeyRequest{Key: key}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/keys/heartbeat", s.signedHeartbeat(key), false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body = errorBody(t, rec)
	assert.Equal(t, apperrors.CodeKeyRevoked, body.Code)
	assert.True(t, body.Blocked)

	rec = s.do(t, http.MethodGet, "/api/nowhere", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, errorBody(t, rec).Code)
}

func TestAdminListGetAndReset(t *testing.T) {
	s := newTestServer(t)
	key := s.create(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/keys/activate-mac", s.signedActivate(key), false).Code)

	rec := s.do(t, http.MethodGet, "/api/keys/list", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list api.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Keys, 1)
	assert.Equal(t, testMAC, list.Keys[0].MACAddress)
	assert.Equal(t, 1, list.Stats.Active)

	rec = s.do(t, http.MethodPost, "/api/keys/reset", api.ResetBindingRequest{Key: key, Target: "hardware"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/keys/"+key, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary api.KeySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Empty(t, summary.MACAddress)

	rec = s.do(t, http.MethodPost, "/api/keys/reset", api.ResetBindingRequest{Key: key, Target: "disk"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExport(t *testing.T) {
	s := newTestServer(t)
	key := s.create(t)

	rec := s.do(t, http.MethodGet, "/api/keys/export?format=csv", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "keygate-keys-20250301-120000.csv")
	assert.Contains(t, rec.Body.String(), key)

	rec = s.do(t, http.MethodGet, "/api/keys/export?format=xlsx", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = s.do(t, http.MethodGet, "/api/keys/export?format=pdf", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/settings", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var settings api.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, "1.0.0", settings.LatestVersion)

	rec = s.do(t, http.MethodPost, "/api/settings", api.UpdateSettingsRequest{LatestVersion: "2.0.0"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/settings", nil, false)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, "2.0.0", settings.LatestVersion)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)

	require.NoError(t, s.store.Close())
	rec = s.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
