package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/config"
	apperrors "keygate/internal/errors"
	api "keygate/pkg/contracts/api/v1"
)

const testKey = "ABCD-1234-EF56-7890"

type verifyResult struct {
	resp *api.VerifyResponse
	err  error
}

// scriptedVerifier replays results in order and repeats the last one
type scriptedVerifier struct {
	mu      sync.Mutex
	results []verifyResult
	calls   int
}

func (s *scriptedVerifier) Verify(_ context.Context, _, _ string) (*api.VerifyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].resp, s.results[i].err
}

func (s *scriptedVerifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedVerifier) Then(results ...verifyResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = results
	s.calls = 0
}

func verified(clock *testClock, days int) verifyResult {
	return verifyResult{resp: &api.VerifyResponse{
		Valid:         true,
		ExpiresAt:     clock.Now().Add(time.Duration(days) * day).UnixMilli(),
		DaysRemaining: days,
		Token:         "token",
	}}
}

func fail(status int, code string) verifyResult {
	return verifyResult{err: &APIError{
		Status:  status,
		Code:    code,
		Message: code,
		Kill:    apperrors.IsKill(code),
		Blocked: apperrors.IsBlocked(code),
	}}
}

func offline() verifyResult {
	return verifyResult{err: &NetworkError{Op: "POST /api/keys/verify", Err: errors.New("connection refused")}}
}

type engineFixture struct {
	engine   *Engine
	verifier *scriptedVerifier
	cache    *MemoryCache
	checksum *Checksummer
	clock    *testClock
	sleeper  *recordingSleeper

	mu          sync.Mutex
	transitions []State
}

func newEngineFixture(t *testing.T, results ...verifyResult) *engineFixture {
	t.Helper()

	checksum, err := NewChecksummer("checksum-secret")
	require.NoError(t, err)

	f := &engineFixture{
		verifier: &scriptedVerifier{results: results},
		cache:    NewMemoryCache(),
		checksum: checksum,
		clock:    newTestClock(),
		sleeper:  &recordingSleeper{},
	}
	f.engine = NewEngine(EngineConfig{
		Verifier: f.verifier,
		Cache:    f.cache,
		Checksum: checksum,
		DeviceID: "device-1",
		Retry: RetryPolicy{
			Retries:   config.DefaultRetryAttempts,
			BaseDelay: config.DefaultRetryBaseDelay,
			Sleep:     f.sleeper.Sleep,
		},
		CacheTrustWindow: config.DefaultCacheTrustWindow,
		Clock:            f.clock.Now,
		Logger:           discard,
	})
	f.engine.OnChange(func(_, next Status) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.transitions = append(f.transitions, next.State)
	})
	return f
}

func (f *engineFixture) Transitions() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.transitions...)
}

func (f *engineFixture) cached(t *testing.T) *Cache {
	t.Helper()
	c, err := f.cache.Load(context.Background())
	require.NoError(t, err)
	return c
}

func (f *engineFixture) assertWiped(t *testing.T) {
	t.Helper()
	_, err := f.cache.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoCache)
}

func TestEngineActivate(t *testing.T) {
	clock := newTestClock()
	f := newEngineFixture(t, verified(clock, 30))
	ctx := context.Background()

	st, err := f.engine.Activate(ctx, " abcd-1234-ef56-7890 ")
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, 30, st.DaysRemaining)
	assert.Equal(t, "ABCD-1234...", st.MaskedKey)
	assert.Equal(t, []State{StateVerifying, StateActive}, f.Transitions())

	c := f.cached(t)
	assert.Equal(t, testKey, c.LicenseKey)
	assert.Equal(t, "device-1", c.DeviceID)
	assert.Equal(t, "token", c.Token)
	assert.NoError(t, f.checksum.Check(c))
}

func TestEngineVerdicts(t *testing.T) {
	tests := []struct {
		name           string
		result         verifyResult
		wantState      State
		wantReason     string
		wantAction     bool
		wantCacheWiped bool
	}{
		{"revoked blocks", fail(http.StatusForbidden, apperrors.CodeKeyRevoked), StateBlocked, apperrors.CodeKeyRevoked, false, true},
		{"kill blocks", fail(http.StatusOK, apperrors.CodeKill), StateBlocked, apperrors.CodeKill, false, true},
		{"expired wipes", fail(http.StatusForbidden, apperrors.CodeKeyExpired), StateInactive, apperrors.CodeKeyExpired, false, true},
		{"not found wipes", fail(http.StatusNotFound, apperrors.CodeKeyNotFound), StateInactive, apperrors.CodeKeyNotFound, false, true},
		{"bad signature wipes", fail(http.StatusForbidden, apperrors.CodeInvalidSignature), StateInactive, apperrors.CodeInvalidSignature, false, true},
		{"stale request wipes", fail(http.StatusForbidden, apperrors.CodeExpiredRequest), StateInactive, apperrors.CodeExpiredRequest, false, true},
		{"companion missing keeps cache", fail(http.StatusForbidden, apperrors.CodeMACNotBound), StateInactive, apperrors.CodeMACNotBound, true, false},
		{"heartbeat stale keeps cache", fail(http.StatusForbidden, apperrors.CodeHeartbeatTimeout), StateInactive, apperrors.CodeHeartbeatTimeout, true, false},
		{"device mismatch keeps cache", fail(http.StatusForbidden, apperrors.CodeDeviceMismatch), StateInactive, apperrors.CodeDeviceMismatch, true, false},
		{"hardware mismatch keeps cache", fail(http.StatusForbidden, apperrors.CodeMACMismatch), StateInactive, apperrors.CodeMACMismatch, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			f := newEngineFixture(t, verified(clock, 30))
			ctx := context.Background()

			_, err := f.engine.Activate(ctx, testKey)
			require.NoError(t, err)

			f.verifier.Then(tt.result)
			st, err := f.engine.ForceVerify(ctx)
			require.Error(t, err)

			assert.Equal(t, tt.wantState, st.State)
			assert.Equal(t, tt.wantReason, st.Reason)
			assert.Equal(t, tt.wantAction, st.RequiresAction)
			assert.Equal(t, 1, f.verifier.Calls(), "definitive answers are not retried")
			if tt.wantCacheWiped {
				f.assertWiped(t)
			} else {
				f.cached(t)
			}
		})
	}
}

func TestEngineRetriesThenGivesUpOnFirstActivation(t *testing.T) {
	f := newEngineFixture(t, offline())

	st, err := f.engine.Activate(context.Background(), testKey)
	require.Error(t, err)

	assert.Equal(t, StateInactive, st.State)
	assert.Equal(t, ReasonUnreachable, st.Reason)
	assert.Equal(t, 4, f.verifier.Calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, f.sleeper.Delays())
}

func TestEngineRetryRecovers(t *testing.T) {
	clock := newTestClock()
	f := newEngineFixture(t, offline(), fail(http.StatusServiceUnavailable, apperrors.CodeStoreUnavailable), verified(clock, 5))

	st, err := f.engine.Activate(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, 3, f.verifier.Calls())
}

func TestEngineKeepsVerdictWhenUnreachable(t *testing.T) {
	clock := newTestClock()
	f := newEngineFixture(t, verified(clock, 30))
	ctx := context.Background()

	_, err := f.engine.Activate(ctx, testKey)
	require.NoError(t, err)

	f.verifier.Then(offline())
	require.Error(t, f.engine.ReverifyTick(ctx))

	assert.Equal(t, StateActive, f.engine.Status(ctx).State)
	f.cached(t)
	assert.Equal(t, []State{StateVerifying, StateActive}, f.Transitions(), "no flapping")
}

func TestEngineHeartbeatTickSingleAttempt(t *testing.T) {
	clock := newTestClock()
	f := newEngineFixture(t, verified(clock, 30))
	ctx := context.Background()

	_, err := f.engine.Activate(ctx, testKey)
	require.NoError(t, err)

	f.verifier.Then(offline())
	require.Error(t, f.engine.HeartbeatTick(ctx))
	assert.Equal(t, 1, f.verifier.Calls())
	assert.Empty(t, f.sleeper.Delays())
}

func TestEngineTicksWithoutLicense(t *testing.T) {
	f := newEngineFixture(t, offline())
	ctx := context.Background()

	assert.NoError(t, f.engine.HeartbeatTick(ctx))
	assert.NoError(t, f.engine.ReverifyTick(ctx))
	assert.Equal(t, 0, f.verifier.Calls())

	_, err := f.engine.ForceVerify(ctx)
	assert.ErrorIs(t, err, ErrNoLicense)
}

func TestEngineRecoversFromTransient(t *testing.T) {
	clock := newTestClock()
	f := newEngineFixture(t, verified(clock, 30))
	ctx := context.Background()

	_, err := f.engine.Activate(ctx, testKey)
	require.NoError(t, err)

	f.verifier.Then(fail(http.StatusForbidden, apperrors.CodeHeartbeatTimeout))
	require.Error(t, f.engine.HeartbeatTick(ctx))
	assert.Equal(t, StateInactive, f.engine.Status(ctx).State)

	// An unreachable server leaves the Inactive verdict in place.
	f.verifier.Then(offline())
	require.Error(t, f.engine.HeartbeatTick(ctx))
	assert.Equal(t, StateInactive, f.engine.Status(ctx).State)

	f.verifier.Then(verified(clock, 30))
	require.NoError(t, f.engine.HeartbeatTick(ctx))
	assert.Equal(t, StateActive, f.engine.Status(ctx).State)
}

func TestEngineChecksumTamper(t *testing.T) {
	mutations := map[string]func(c *Cache){
		"license key": func(c *Cache) { c.LicenseKey = "FFFF-1234-EF56-7890" },
		"device id":   func(c *Cache) { c.DeviceID = "device-2" },
		"expiry":      func(c *Cache) { c.ExpiresAt += int64(365 * day / time.Millisecond) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			clock := newTestClock()
			f := newEngineFixture(t, verified(clock, 30))
			ctx := context.Background()

			_, err := f.engine.Activate(ctx, testKey)
			require.NoError(t, err)

			c := f.cached(t)
			mutate(c)
			require.NoError(t, f.cache.Save(ctx, c))

			st := f.engine.Status(ctx)
			assert.Equal(t, StateInactive, st.State)
			assert.Equal(t, ReasonTampered, st.Reason)
			f.assertWiped(t)
		})
	}
}

func TestEngineLocalExpiry(t *testing.T) {
	f := newEngineFixture(t)
	f.verifier.Then(verified(f.clock, 1))
	ctx := context.Background()

	st, err := f.engine.Activate(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, 1, st.DaysRemaining)

	f.clock.Advance(day + time.Second)
	st = f.engine.Status(ctx)
	assert.Equal(t, StateInactive, st.State)
	assert.Equal(t, ReasonExpired, st.Reason)
	f.assertWiped(t)
}

func TestEngineStartup(t *testing.T) {
	ctx := context.Background()

	seed := func(f *engineFixture, age time.Duration) {
		c := &Cache{
			LicenseKey:    testKey,
			DeviceID:      "device-1",
			Token:         "token",
			ExpiresAt:     f.clock.Now().Add(10 * day).UnixMilli(),
			DaysRemaining: 10,
			VerifiedAt:    f.clock.Now().Add(-age).UnixMilli(),
		}
		f.checksum.Seal(c)
		require.NoError(t, f.cache.Save(ctx, c))
	}

	t.Run("empty cache", func(t *testing.T) {
		f := newEngineFixture(t, offline())
		st, err := f.engine.Startup(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateNoLicense, st.State)
		assert.Equal(t, 0, f.verifier.Calls())
	})

	t.Run("fresh cache is trusted", func(t *testing.T) {
		f := newEngineFixture(t, offline())
		seed(f, 10*time.Minute)

		st, err := f.engine.Startup(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateActive, st.State)
		assert.Equal(t, 10, st.DaysRemaining)
		assert.Equal(t, 0, f.verifier.Calls())
	})

	t.Run("old cache is re-verified", func(t *testing.T) {
		f := newEngineFixture(t)
		f.verifier.Then(verified(f.clock, 9))
		seed(f, 2*time.Hour)

		st, err := f.engine.Startup(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateActive, st.State)
		assert.Equal(t, 1, f.verifier.Calls())
		assert.Equal(t, f.clock.Now().UnixMilli(), f.cached(t).VerifiedAt)
	})

	t.Run("old cache survives outage", func(t *testing.T) {
		f := newEngineFixture(t, offline())
		seed(f, 2*time.Hour)

		st, err := f.engine.Startup(ctx)
		require.Error(t, err)
		assert.Equal(t, StateActive, st.State)
		f.cached(t)
	})

	t.Run("tampered cache", func(t *testing.T) {
		f := newEngineFixture(t, offline())
		seed(f, time.Minute)
		c := f.cached(t)
		c.Checksum = "0000"
		require.NoError(t, f.cache.Save(ctx, c))

		st, err := f.engine.Startup(ctx)
		assert.ErrorIs(t, err, ErrTampered)
		assert.Equal(t, ReasonTampered, st.Reason)
		f.assertWiped(t)
	})
}

func TestEngineActivateClearsBlocked(t *testing.T) {
	f := newEngineFixture(t, fail(http.StatusForbidden, apperrors.CodeKeyRevoked))
	ctx := context.Background()

	st, _ := f.engine.Activate(ctx, testKey)
	require.Equal(t, StateBlocked, st.State)

	f.verifier.Then(verified(f.clock, 30))
	st, err := f.engine.Activate(ctx, "FFFF-1234-EF56-7890")
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
}

func TestEngineDeactivate(t *testing.T) {
	f := newEngineFixture(t)
	f.verifier.Then(verified(f.clock, 30))
	ctx := context.Background()

	_, err := f.engine.Activate(ctx, testKey)
	require.NoError(t, err)

	require.NoError(t, f.engine.Deactivate(ctx))
	assert.Equal(t, StateNoLicense, f.engine.Status(ctx).State)
	f.assertWiped(t)

	_, found := f.engine.CachedKey(ctx)
	assert.False(t, found)
}

func TestEngineAgainstServer(t *testing.T) {
	srv, admin := startServer(t)
	ctx := context.Background()
	key := issueKey(t, admin, 1)
	apiClient := newTestAPI(srv.URL)

	checksum, err := NewChecksummer("checksum-secret")
	require.NoError(t, err)
	engine := NewEngine(EngineConfig{
		Verifier: apiClient,
		Cache:    NewMemoryCache(),
		Checksum: checksum,
		DeviceID: "device-1",
		Retry:    RetryPolicy{Retries: 3, BaseDelay: time.Millisecond},
		Logger:   discard,
	})

	// Strict verification needs the companion first.
	st, err := engine.Activate(ctx, key)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMACNotBound, st.Reason)
	assert.True(t, st.RequiresAction)

	agent := NewAgent(AgentConfig{API: apiClient, Key: key, HardwareID: "AA:BB:CC:DD:EE:01", Logger: discard})
	_, err = agent.Activate(ctx, false)
	require.NoError(t, err)
	require.NoError(t, agent.Beat(ctx))

	st, err = engine.Activate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, 1, st.DaysRemaining)

	_, err = admin.ToggleKill(ctx, key, true)
	require.NoError(t, err)
	require.ErrorIs(t, agent.Beat(ctx), ErrKilled)

	st, err = engine.ForceVerify(ctx)
	require.Error(t, err)
	assert.Equal(t, StateBlocked, st.State)
	assert.Equal(t, apperrors.CodeKill, st.Reason)
}
