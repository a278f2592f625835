package client

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	api "keygate/pkg/contracts/api/v1"
)

const day = 24 * time.Hour

// Verifier is the server call the engine depends on
type Verifier interface {
	Verify(ctx context.Context, key, deviceID string) (*api.VerifyResponse, error)
}

// EngineConfig wires an Engine
type EngineConfig struct {
	Verifier Verifier
	Cache    CacheStore
	Checksum *Checksummer
	DeviceID string
	Retry    RetryPolicy

	// CacheTrustWindow is how old a cached verdict may be for Startup to
	// accept it without a server round trip.
	CacheTrustWindow time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

// Engine owns the client session. State only changes through its methods,
// which keeps the machine testable with injected clocks and sleepers.
type Engine struct {
	cfg    EngineConfig
	logger *slog.Logger
	now    func() time.Time

	// op serializes verification flows; mu guards status, cache IO and
	// listeners and is never held across a network call.
	op         sync.Mutex
	mu         sync.Mutex
	status     Status
	generation uint64
	listeners  []Listener
	pending    []func()
}

// NewEngine creates an engine in the NoLicense state
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = cfg.Logger
	}
	return &Engine{
		cfg:    cfg,
		logger: infrastructure.WithComponent(cfg.Logger, "engine"),
		now:    cfg.Clock,
		status: Status{State: StateNoLicense},
	}
}

// OnChange registers l for every subsequent transition
func (e *Engine) OnChange(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Startup restores the session from the cache. A verdict younger than the
// trust window is accepted as is; an older one is re-verified, and kept if
// the server cannot be reached.
func (e *Engine) Startup(ctx context.Context) (Status, error) {
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	c, err := e.localLocked(ctx)
	if c == nil {
		st := e.status
		e.unlock()
		return st, err
	}
	now := e.now()
	if e.cfg.CacheTrustWindow > 0 && now.Sub(time.UnixMilli(c.VerifiedAt)) < e.cfg.CacheTrustWindow {
		e.setLocked(e.activeStatus(c, now))
		st := e.status
		e.unlock()
		e.logger.InfoContext(ctx, "cached license trusted",
			slog.String("license_key", infrastructure.MaskKey(c.LicenseKey)))
		return st, nil
	}
	e.setLocked(Status{State: StateVerifying, MaskedKey: DisplayKey(c.LicenseKey)})
	gen := e.generation
	e.unlock()

	return e.verify(ctx, c.LicenseKey, c, gen, e.cfg.Retry)
}

// Activate verifies key for this device, replacing any previous session.
// It is the only way out of Blocked.
func (e *Engine) Activate(ctx context.Context, key string) (Status, error) {
	key = strings.ToUpper(strings.TrimSpace(key))

	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.setLocked(Status{State: StateVerifying, MaskedKey: DisplayKey(key)})
	e.unlock()

	e.logger.InfoContext(ctx, "activating license", slog.String("license_key", infrastructure.MaskKey(key)))
	return e.verify(ctx, key, nil, gen, e.cfg.Retry)
}

// Status runs the local checks (checksum and expiry) and returns the
// current snapshot.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	if c, _ := e.localLocked(ctx); c != nil && e.status.State == StateActive {
		e.status.DaysRemaining = daysRemaining(c.ExpiresAt, e.now())
	}
	st := e.status
	e.unlock()
	return st
}

// ForceVerify re-verifies the cached key now, with retries
func (e *Engine) ForceVerify(ctx context.Context) (Status, error) {
	return e.reverify(ctx, e.cfg.Retry)
}

// HeartbeatTick is the short-interval check: local checks plus a single
// verification attempt.
func (e *Engine) HeartbeatTick(ctx context.Context) error {
	single := e.cfg.Retry
	single.Retries = 0
	_, err := e.reverify(ctx, single)
	if errors.Is(err, ErrNoLicense) {
		return nil
	}
	return err
}

// ReverifyTick is the long-interval full re-verification
func (e *Engine) ReverifyTick(ctx context.Context) error {
	_, err := e.reverify(ctx, e.cfg.Retry)
	if errors.Is(err, ErrNoLicense) {
		return nil
	}
	return err
}

// Deactivate forgets the license
func (e *Engine) Deactivate(ctx context.Context) error {
	e.mu.Lock()
	e.generation++
	err := e.cfg.Cache.Clear(ctx)
	e.setLocked(Status{State: StateNoLicense, Reason: ReasonDeactivated})
	e.unlock()

	e.logger.InfoContext(ctx, "license deactivated")
	return err
}

// CachedKey returns the key of the cached verdict, if any
func (e *Engine) CachedKey(ctx context.Context) (string, bool) {
	c, err := e.cfg.Cache.Load(ctx)
	if err != nil || c == nil {
		return "", false
	}
	return c.LicenseKey, true
}

func (e *Engine) reverify(ctx context.Context, policy RetryPolicy) (Status, error) {
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	c, err := e.localLocked(ctx)
	gen := e.generation
	if c == nil {
		st := e.status
		e.unlock()
		if err == nil {
			err = ErrNoLicense
		}
		return st, err
	}
	e.unlock()

	return e.verify(ctx, c.LicenseKey, c, gen, policy)
}

// verify calls the server and applies the outcome. prior is the cached
// verdict the call refreshes, nil for a first activation.
func (e *Engine) verify(ctx context.Context, key string, prior *Cache, gen uint64, policy RetryPolicy) (Status, error) {
	// Every attempt of one verification carries the same request id.
	ctx = infrastructure.EnsureTraceID(ctx)

	var resp *api.VerifyResponse
	err := policy.Do(ctx, "verify", func(ctx context.Context) error {
		var err error
		resp, err = e.cfg.Verifier.Verify(ctx, key, e.cfg.DeviceID)
		return err
	})

	e.mu.Lock()
	defer e.unlock()

	if gen != e.generation {
		// Activated or deactivated meanwhile; this answer is stale.
		return e.status, err
	}
	if err == nil {
		return e.status, e.acceptLocked(ctx, key, resp)
	}
	e.rejectLocked(ctx, key, prior, err)
	return e.status, err
}

func (e *Engine) acceptLocked(ctx context.Context, key string, resp *api.VerifyResponse) error {
	now := e.now()
	c := &Cache{
		LicenseKey:    key,
		DeviceID:      e.cfg.DeviceID,
		Token:         resp.Token,
		ExpiresAt:     resp.ExpiresAt,
		DaysRemaining: resp.DaysRemaining,
		VerifiedAt:    now.UnixMilli(),
	}
	e.cfg.Checksum.Seal(c)

	e.setLocked(e.activeStatus(c, now))
	if err := e.cfg.Cache.Save(ctx, c); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist license cache", slog.String("error", err.Error()))
		return err
	}
	e.logger.InfoContext(ctx, "license verified",
		slog.String("license_key", infrastructure.MaskKey(key)),
		slog.Int("days_remaining", resp.DaysRemaining))
	return nil
}

func (e *Engine) rejectLocked(ctx context.Context, key string, prior *Cache, err error) {
	masked := DisplayKey(key)

	apiErr, ok := AsAPIError(err)
	if ok && !Retryable(err) {
		next := Status{State: StateInactive, Reason: apiErr.Code, Message: apiErr.Message, MaskedKey: masked}
		wipe := false
		switch {
		case apiErr.Code == apperrors.CodeKeyRevoked || apiErr.Code == apperrors.CodeKill || apiErr.Kill || apiErr.Blocked:
			next.State = StateBlocked
			wipe = true
		case apiErr.Kind() == apperrors.KindForbiddenTerminal,
			apiErr.Kind() == apperrors.KindNotFound,
			apiErr.Kind() == apperrors.KindRequestIntegrity:
			wipe = true
		case apiErr.Kind() == apperrors.KindForbiddenTransient:
			next.RequiresAction = true
		}
		if wipe {
			e.wipeLocked(ctx)
		}
		e.setLocked(next)
		e.logger.WarnContext(ctx, "license rejected",
			slog.String("license_key", masked),
			slog.String("code", apiErr.Code),
			slog.String("state", string(next.State)),
			slog.Bool("cache_wiped", wipe))
		return
	}

	// No verdict from the server. Keep whatever verdict we already have.
	switch {
	case e.status.State == StateActive || e.status.State == StateInactive:
	case prior != nil:
		e.setLocked(e.activeStatus(prior, e.now()))
	default:
		e.setLocked(Status{State: StateInactive, Reason: ReasonUnreachable, Message: err.Error(), MaskedKey: masked})
	}
	e.logger.WarnContext(ctx, "license server unreachable",
		slog.String("license_key", masked),
		slog.String("state", string(e.status.State)),
		slog.String("error", err.Error()))
}

// localLocked loads and checks the cache. It returns nil when there is no
// usable cache, after moving the session to the matching state.
func (e *Engine) localLocked(ctx context.Context) (*Cache, error) {
	c, err := e.cfg.Cache.Load(ctx)
	switch {
	case errors.Is(err, ErrNoCache):
		if e.status.State == StateActive {
			e.setLocked(Status{State: StateNoLicense})
		}
		return nil, nil
	case errors.Is(err, ErrTampered):
	case err != nil:
		e.logger.ErrorContext(ctx, "failed to read license cache", slog.String("error", err.Error()))
		return nil, err
	default:
		err = e.cfg.Checksum.Check(c)
	}

	if err != nil {
		e.logger.WarnContext(ctx, "license cache tampered, logging out")
		e.wipeLocked(ctx)
		e.setLocked(Status{State: StateInactive, Reason: ReasonTampered, Message: ErrTampered.Error()})
		return nil, ErrTampered
	}

	if !time.UnixMilli(c.ExpiresAt).After(e.now()) {
		e.logger.InfoContext(ctx, "cached license expired", slog.String("license_key", infrastructure.MaskKey(c.LicenseKey)))
		e.wipeLocked(ctx)
		e.setLocked(Status{State: StateInactive, Reason: ReasonExpired, MaskedKey: DisplayKey(c.LicenseKey)})
		return nil, nil
	}
	return c, nil
}

func (e *Engine) wipeLocked(ctx context.Context) {
	if err := e.cfg.Cache.Clear(ctx); err != nil {
		e.logger.ErrorContext(ctx, "failed to clear license cache", slog.String("error", err.Error()))
	}
}

func (e *Engine) activeStatus(c *Cache, now time.Time) Status {
	return Status{
		State:         StateActive,
		MaskedKey:     DisplayKey(c.LicenseKey),
		DaysRemaining: daysRemaining(c.ExpiresAt, now),
		ExpiresAt:     time.UnixMilli(c.ExpiresAt),
		VerifiedAt:    time.UnixMilli(c.VerifiedAt),
	}
}

// setLocked records next and queues listener calls for unlock.
func (e *Engine) setLocked(next Status) {
	prev := e.status
	e.status = next
	if prev.State == next.State && prev.Reason == next.Reason && prev.RequiresAction == next.RequiresAction {
		return
	}
	listeners := append([]Listener(nil), e.listeners...)
	e.pending = append(e.pending, func() {
		for _, l := range listeners {
			l(prev, next)
		}
	})
}

// unlock releases mu and then runs queued listener calls
func (e *Engine) unlock() {
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func daysRemaining(expiresAt int64, now time.Time) int {
	left := time.UnixMilli(expiresAt).Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + day - 1) / day)
}
