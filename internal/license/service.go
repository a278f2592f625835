package license

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"keygate/internal/config"
	apperrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	"keygate/internal/signature"
	"keygate/internal/store"
	"keygate/internal/token"
	api "keygate/pkg/contracts/api/v1"
)

const maxKeyAttempts = 5

// Options configures a Service
type Options struct {
	SignSecret        string
	TokenSecret       string
	RequireSignatures bool
	StrictVerify      bool
	HeartbeatTimeout  time.Duration
	DefaultExpiryDays int

	Clock   func() time.Time
	Random  io.Reader
	Logger  *slog.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
}

// OptionsFromConfig maps application configuration to service options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SignSecret:        cfg.Security.SignSecret,
		TokenSecret:       cfg.Security.TokenSecret,
		RequireSignatures: cfg.Security.RequireSignatures,
		StrictVerify:      cfg.License.StrictVerify,
		HeartbeatTimeout:  cfg.License.HeartbeatTimeout,
		DefaultExpiryDays: cfg.License.DefaultExpiryDays,
	}
}

// Service evaluates license requests against the key store. It keeps no
// per-key state between calls, so any number of instances can share a store.
type Service struct {
	store   store.KeyStore
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewService creates a license service over ks
func NewService(ks store.KeyStore, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = config.HeartbeatTimeout
	}
	if opts.DefaultExpiryDays <= 0 {
		opts.DefaultExpiryDays = config.DefaultExpiryDays
	}
	if opts.Tracer == nil {
		opts.Tracer = defaultTracer()
	}
	return &Service{
		store:   ks,
		opts:    opts,
		now:     opts.Clock,
		logger:  infrastructure.WithComponent(opts.Logger, "license_service"),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
	}
}

// Issue creates a new unbound license record
func (s *Service) Issue(ctx context.Context, req api.CreateKeyRequest) (resp *api.CreateKeyResponse, err error) {
	ctx, done := s.observe(ctx, "issue", "")
	defer func() { done(err) }()

	days := req.ExpiresInDays
	if days == 0 {
		days = s.opts.DefaultExpiryDays
	}
	if days < config.MinExpiryDays || days > config.MaxExpiryDays {
		return nil, apperrors.ErrInvalidRequest.WithMessage("expiresInDays must be between %d and %d", config.MinExpiryDays, config.MaxExpiryDays)
	}
	if len(req.Label) > config.MaxLabelLength {
		return nil, apperrors.ErrInvalidRequest.WithMessage("label must be at most %d characters", config.MaxLabelLength)
	}

	now := s.now()
	createdAt := now.UnixMilli()
	expiresAt := now.Add(time.Duration(days) * day).UnixMilli()

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, genErr := GenerateKey(s.opts.Random)
		if genErr != nil {
			return nil, apperrors.ErrServer.Wrap(genErr)
		}

		rk := store.RecordKey(key)
		claimed, setErr := s.store.HSetNX(ctx, rk, FieldKey, key)
		if setErr != nil {
			return nil, storeError(setErr)
		}
		if !claimed {
			s.logger.WarnContext(ctx, "generated key collided, retrying", slog.Int("attempt", attempt+1))
			continue
		}

		// Binding fields are left absent so HSetNX can claim them later.
		fields := map[string]string{
			FieldCreatedAt:     formatInt(createdAt),
			FieldExpiresAt:     formatInt(expiresAt),
			FieldExpiresInDays: formatInt(int64(days)),
			FieldLabel:         req.Label,
			FieldRevoked:       "false",
			FieldKillSwitch:    "false",
		}
		if err := s.store.HSet(ctx, rk, fields); err != nil {
			return nil, storeError(err)
		}
		if err := s.store.SAdd(ctx, store.IndexKey, key); err != nil {
			return nil, storeError(err)
		}

		if s.metrics != nil {
			s.metrics.KeysIssued.Add(ctx, 1)
		}

		return &api.CreateKeyResponse{
			Success:       true,
			Key:           key,
			CreatedAt:     createdAt,
			ExpiresAt:     expiresAt,
			ExpiresInDays: days,
			Label:         req.Label,
		}, nil
	}

	return nil, apperrors.ErrServer.WithMessage("could not allocate a unique key after %d attempts", maxKeyAttempts)
}

// ActivateHardware binds the key to the companion's hardware id on first
// call. With CheckOnly it validates the same conditions without writing.
func (s *Service) ActivateHardware(ctx context.Context, req api.ActivateHardwareRequest) (resp *api.ActivateHardwareResponse, err error) {
	key := NormalizeKey(req.Key)
	hw := NormalizeHardwareID(req.MACAddress)
	ctx, done := s.observe(ctx, "activate_hardware", key)
	defer func() { done(err) }()

	if err := s.checkSignature(req.Timestamp, req.Signature, s.opts.RequireSignatures, req.Key, req.MACAddress); err != nil {
		return nil, err
	}

	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.checkLifecycle(rec, now); err != nil {
		return nil, err
	}
	if rec.MACAddress != "" && rec.MACAddress != hw {
		return nil, apperrors.ErrMACMismatch
	}

	resp = &api.ActivateHardwareResponse{
		Success:       true,
		Valid:         true,
		ExpiresAt:     rec.ExpiresAt,
		DaysRemaining: DaysRemaining(rec.ExpiresAt, now),
		Label:         rec.Label,
		Bound:         rec.MACAddress != "",
	}

	rk := store.RecordKey(key)
	if err := s.store.HSet(ctx, rk, map[string]string{FieldLastMACCheck: formatInt(now.UnixMilli())}); err != nil {
		return nil, storeError(err)
	}

	if req.CheckOnly {
		resp.Message = "License valid"
		return resp, nil
	}

	if rec.MACAddress == "" {
		if err := s.bind(ctx, rk, FieldMACAddress, hw, "hardware", apperrors.ErrMACMismatch); err != nil {
			return nil, err
		}
		if err := s.store.HSet(ctx, rk, map[string]string{FieldMACActivatedAt: formatInt(now.UnixMilli())}); err != nil {
			return nil, storeError(err)
		}
		resp.Message = "Hardware activated"
	} else {
		resp.Message = "Hardware verified"
	}
	resp.Bound = true
	return resp, nil
}

// VerifyDevice validates the key for a device, binds the device on first
// use and returns a signed token. In strict mode it also requires a bound
// and live companion.
func (s *Service) VerifyDevice(ctx context.Context, req api.VerifyRequest) (resp *api.VerifyResponse, err error) {
	key := NormalizeKey(req.Key)
	ctx, done := s.observe(ctx, "verify", key)
	defer func() { done(err) }()

	if err := s.checkSignature(req.Timestamp, req.Signature, false, req.Key, req.DeviceID); err != nil {
		return nil, err
	}

	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.checkLifecycle(rec, now); err != nil {
		return nil, err
	}
	if s.opts.StrictVerify && rec.MACAddress == "" {
		return nil, apperrors.ErrMACNotBound
	}
	if rec.DeviceID != "" && rec.DeviceID != req.DeviceID {
		return nil, apperrors.ErrDeviceMismatch
	}

	rk := store.RecordKey(key)
	if rec.DeviceID == "" {
		if err := s.bind(ctx, rk, FieldDeviceID, req.DeviceID, "device", apperrors.ErrDeviceMismatch); err != nil {
			return nil, err
		}
		if err := s.store.HSet(ctx, rk, map[string]string{FieldActivatedAt: formatInt(now.UnixMilli())}); err != nil {
			return nil, storeError(err)
		}
	}

	if s.opts.StrictVerify && !Online(rec, now, s.opts.HeartbeatTimeout) {
		return nil, apperrors.ErrHeartbeatTimeout
	}

	if err := s.store.HSet(ctx, rk, map[string]string{FieldLastUsed: formatInt(now.UnixMilli())}); err != nil {
		return nil, storeError(err)
	}

	tok, err := token.Issue(token.Payload{
		Key:        key,
		DeviceID:   req.DeviceID,
		HardwareID: rec.MACAddress,
		Exp:        rec.ExpiresAt,
		Iat:        now.UnixMilli(),
	}, s.opts.TokenSecret)
	if err != nil {
		return nil, apperrors.ErrServer.Wrap(err)
	}

	return &api.VerifyResponse{
		Valid:         true,
		ExpiresAt:     rec.ExpiresAt,
		DaysRemaining: DaysRemaining(rec.ExpiresAt, now),
		Token:         tok,
		Label:         rec.Label,
	}, nil
}

// Heartbeat records companion liveness. An offline beat clears it. The kill
// verdict is reported as a successful response with Kill set, after the
// beat has been recorded.
func (s *Service) Heartbeat(ctx context.Context, req api.HeartbeatRequest) (resp *api.HeartbeatResponse, err error) {
	key := NormalizeKey(req.Key)
	hw := NormalizeHardwareID(req.MACAddress)
	ctx, done := s.observe(ctx, "heartbeat", key)
	defer func() { done(err) }()

	if err := s.checkSignature(req.Timestamp, req.Signature, s.opts.RequireSignatures, req.Key, req.MACAddress); err != nil {
		return nil, err
	}

	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if rec.Revoked {
		return nil, apperrors.ErrKeyRevoked
	}
	rk := store.RecordKey(key)
	if rec.KillSwitch {
		// The beat still counts for liveness when it comes from the bound
		// hardware.
		if rec.MACAddress == "" || rec.MACAddress == hw {
			if err := s.touch(ctx, rk, req.Offline, now); err != nil {
				return nil, err
			}
		}
		if s.metrics != nil {
			s.metrics.KillVerdicts.Add(ctx, 1)
		}
		return &api.HeartbeatResponse{
			Success: true,
			Message: apperrors.ErrKill.Message,
			Kill:    true,
			Code:    apperrors.CodeKill,
		}, nil
	}
	if DeriveStatus(rec, now) == StatusExpired {
		return nil, apperrors.ErrKeyExpired
	}
	if rec.MACAddress != "" && rec.MACAddress != hw {
		return nil, apperrors.ErrMACMismatch
	}

	if err := s.touch(ctx, rk, req.Offline, now); err != nil {
		return nil, err
	}
	if req.Offline {
		return &api.HeartbeatResponse{Success: true, Message: "Marked offline"}, nil
	}
	return &api.HeartbeatResponse{Success: true, Message: "Heartbeat received"}, nil
}

// touch records a liveness beat, or clears liveness for an offline beat
func (s *Service) touch(ctx context.Context, rk string, offline bool, now time.Time) error {
	fields := map[string]string{
		FieldLastHeartbeat: formatInt(now.UnixMilli()),
		FieldIsOnline:      "true",
	}
	if offline {
		fields = map[string]string{
			FieldLastHeartbeat: "0",
			FieldIsOnline:      "false",
		}
	}
	if err := s.store.HSet(ctx, rk, fields); err != nil {
		return storeError(err)
	}
	return nil
}

// Introspect validates a token issued by VerifyDevice
func (s *Service) Introspect(ctx context.Context, req api.IntrospectRequest) (resp *api.IntrospectResponse, err error) {
	_, done := s.observe(ctx, "introspect", "")
	defer func() { done(err) }()

	p, err := token.Verify(req.Token, s.opts.TokenSecret, s.now())
	switch {
	case errors.Is(err, token.ErrExpired):
		return nil, apperrors.ErrTokenExpired
	case err != nil:
		return nil, apperrors.ErrInvalidToken
	}
	return &api.IntrospectResponse{
		Valid:      true,
		Key:        p.Key,
		DeviceID:   p.DeviceID,
		HardwareID: p.HardwareID,
		ExpiresAt:  p.Exp,
		IssuedAt:   p.Iat,
	}, nil
}

// checkLifecycle applies revoked → kill → expired in priority order
func (s *Service) checkLifecycle(rec *Record, now time.Time) error {
	if rec.Revoked {
		return apperrors.ErrKeyRevoked
	}
	if rec.KillSwitch {
		return apperrors.ErrKill
	}
	if DeriveStatus(rec, now) == StatusExpired {
		return apperrors.ErrKeyExpired
	}
	return nil
}

// bind claims field for value. Losing the race is fine when the winner wrote
// the same value; otherwise mismatch is returned.
func (s *Service) bind(ctx context.Context, rk, field, value, kind string, mismatch *apperrors.APIError) error {
	won, err := s.store.HSetNX(ctx, rk, field, value)
	if err != nil {
		return storeError(err)
	}
	if won {
		s.recordBinding(ctx, kind, "bound")
		return nil
	}

	current, _, err := s.store.HGet(ctx, rk, field)
	if err != nil {
		return storeError(err)
	}
	if current != value {
		s.recordBinding(ctx, kind, "lost_race")
		return mismatch
	}
	s.recordBinding(ctx, kind, "same_value")
	return nil
}

// checkSignature verifies ts/sig over fields when present. When required
// is set, an unsigned request is rejected.
func (s *Service) checkSignature(ts int64, sig string, required bool, fields ...string) error {
	if ts == 0 && sig == "" {
		if required {
			return apperrors.ErrSignatureRequired
		}
		return nil
	}

	err := signature.VerifyRequest(ts, sig, s.opts.SignSecret, s.now(), fields...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, signature.ErrStaleRequest):
		return apperrors.ErrExpiredRequest
	case errors.Is(err, signature.ErrMissing):
		return apperrors.ErrSignatureRequired
	default:
		return apperrors.ErrInvalidSignature
	}
}

// load fetches and decodes a record. Keys with an impossible format are
// reported as not found without touching the store.
func (s *Service) load(ctx context.Context, key string) (*Record, error) {
	if !ValidKeyFormat(key) {
		return nil, apperrors.ErrKeyNotFound
	}
	h, err := s.store.HGetAll(ctx, store.RecordKey(key))
	if err != nil {
		return nil, storeError(err)
	}
	rec, ok := ParseRecord(h)
	if !ok {
		return nil, apperrors.ErrKeyNotFound
	}
	return rec, nil
}

// storeError maps store failures onto the API taxonomy
func storeError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.ErrTimeout.Wrap(err)
	case errors.Is(err, store.ErrUnavailable):
		return apperrors.ErrStoreUnavailable.Wrap(err)
	default:
		return apperrors.ErrServer.Wrap(err)
	}
}
