package client

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keygate/internal/app"
	"keygate/internal/config"
	"keygate/internal/infrastructure"
	"keygate/internal/store"
	api "keygate/pkg/contracts/api/v1"
)

const (
	testAdminToken = "admin-token"
	testSignSecret = "sign-secret"
)

var discard = infrastructure.NewLogger(io.Discard, "error")

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSleeper records requested delays without waiting
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// manualTicker fires only when tick is called
type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.once.Do(func() { close(m.stopped) }) }

func (m *manualTicker) tick() { m.ch <- time.Now() }

// startServer runs a real keygate server with signatures required
func startServer(t *testing.T, mutate ...func(*config.Config)) (*httptest.Server, *Admin) {
	t.Helper()

	cfg := config.Default()
	cfg.Security.AdminToken = testAdminToken
	cfg.Security.SignSecret = testSignSecret
	cfg.Security.TokenSecret = "token-secret"
	cfg.Security.RequireSignatures = true
	cfg.Security.RateLimit.Enabled = false
	for _, m := range mutate {
		m(cfg)
	}

	application, err := app.New(context.Background(), cfg, discard, store.NewMemoryStore())
	require.NoError(t, err)
	srv := httptest.NewServer(application.Router)
	t.Cleanup(func() {
		srv.Close()
		_ = application.OTelProviders.Shutdown(context.Background())
	})

	return srv, NewAdmin(srv.URL, testAdminToken, 5*time.Second, discard)
}

func newTestAPI(baseURL string) *API {
	return NewAPI(APIConfig{
		BaseURL:    baseURL,
		SignSecret: testSignSecret,
		Timeout:    5 * time.Second,
		Logger:     discard,
	})
}

func issueKey(t *testing.T, admin *Admin, days int) string {
	t.Helper()
	resp, err := admin.Create(context.Background(), api.CreateKeyRequest{ExpiresInDays: days, Label: "test"})
	require.NoError(t, err)
	return resp.Key
}
