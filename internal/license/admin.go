package license

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "keygate/internal/errors"
	"keygate/internal/store"
	api "keygate/pkg/contracts/api/v1"
)

const (
	defaultTamperReason  = "Client reported tampering"
	defaultLatestVersion = "1.0.0"
	listConcurrency      = 16
	maxTamperReason      = 500
)

// Reset targets accepted by ResetBinding
const (
	ResetDevice   = "device"
	ResetHardware = "hardware"
	ResetAll      = "all"
)

var resetFields = map[string][]string{
	ResetDevice:   {FieldDeviceID, FieldActivatedAt},
	ResetHardware: {FieldMACAddress, FieldMACActivatedAt, FieldLastMACCheck, FieldLastHeartbeat, FieldIsOnline},
}

// Revoke marks the key revoked. Revocation is terminal; revoking twice keeps
// the original revokedAt.
func (s *Service) Revoke(ctx context.Context, rawKey string) (resp *api.ActionResponse, err error) {
	key := NormalizeKey(rawKey)
	ctx, done := s.observe(ctx, "revoke", key)
	defer func() { done(err) }()

	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Revoked {
		return &api.ActionResponse{Success: true, Key: key, Message: "Key already revoked"}, nil
	}

	if err := s.store.HSet(ctx, store.RecordKey(key), map[string]string{
		FieldRevoked:   "true",
		FieldRevokedAt: formatInt(s.now().UnixMilli()),
	}); err != nil {
		return nil, storeError(err)
	}
	return &api.ActionResponse{Success: true, Key: key, Message: "Key revoked"}, nil
}

// ToggleKill sets the kill switch and reads it back to confirm the store
// persisted it.
func (s *Service) ToggleKill(ctx context.Context, rawKey string, enabled bool) (resp *api.ToggleKillResponse, err error) {
	key := NormalizeKey(rawKey)
	ctx, done := s.observe(ctx, "toggle_kill", key)
	defer func() { done(err) }()

	if _, err := s.load(ctx, key); err != nil {
		return nil, err
	}

	rk := store.RecordKey(key)
	want := formatBool(enabled)
	if err := s.store.HSet(ctx, rk, map[string]string{FieldKillSwitch: want}); err != nil {
		return nil, storeError(err)
	}

	got, _, err := s.store.HGet(ctx, rk, FieldKillSwitch)
	if err != nil {
		return nil, storeError(err)
	}
	if got != want {
		s.logger.ErrorContext(ctx, "kill switch write not persisted",
			slog.String("expected", want),
			slog.String("actual", got))
		return nil, apperrors.ErrPersistenceFailed
	}

	return &api.ToggleKillResponse{Success: true, Key: key, KillSwitch: enabled}, nil
}

// ReportTamper records a client tamper report and engages the kill switch.
// It is authenticated by key possession (plus the optional signature), so a
// leaked key lets anyone kill it.
func (s *Service) ReportTamper(ctx context.Context, req api.ReportTamperRequest) (resp *api.ActionResponse, err error) {
	key := NormalizeKey(req.Key)
	ctx, done := s.observe(ctx, "report_tamper", key)
	defer func() { done(err) }()

	if err := s.checkSignature(req.Timestamp, req.Signature, s.opts.RequireSignatures, req.Key, req.MACAddress); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, key); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultTamperReason
	}
	if r := []rune(reason); len(r) > maxTamperReason {
		reason = string(r[:maxTamperReason])
	}

	if err := s.store.HSet(ctx, store.RecordKey(key), map[string]string{
		FieldKillSwitch:   "true",
		FieldTamperDate:   s.now().UTC().Format(time.RFC3339),
		FieldTamperReason: reason,
	}); err != nil {
		return nil, storeError(err)
	}

	s.logger.WarnContext(ctx, "tamper reported",
		slog.String("reason", reason),
		slog.String("hardware_id", NormalizeHardwareID(req.MACAddress)))

	return &api.ActionResponse{Success: true, Key: key, Message: "Tamper report recorded"}, nil
}

// ResetBinding clears the device binding, the hardware binding or both.
// It is the only path that removes a binding.
func (s *Service) ResetBinding(ctx context.Context, rawKey, target string) (resp *api.ActionResponse, err error) {
	key := NormalizeKey(rawKey)
	ctx, done := s.observe(ctx, "reset_binding", key)
	defer func() { done(err) }()

	var fields []string
	switch target {
	case ResetDevice, ResetHardware:
		fields = resetFields[target]
	case ResetAll:
		fields = append(append(fields, resetFields[ResetDevice]...), resetFields[ResetHardware]...)
	default:
		return nil, apperrors.ErrInvalidRequest.WithMessage("target must be one of device, hardware, all")
	}

	if _, err := s.load(ctx, key); err != nil {
		return nil, err
	}
	if err := s.store.HDel(ctx, store.RecordKey(key), fields...); err != nil {
		return nil, storeError(err)
	}
	return &api.ActionResponse{Success: true, Key: key, Message: "Binding reset: " + target}, nil
}

// Get returns the admin view of one key
func (s *Service) Get(ctx context.Context, rawKey string) (resp *api.KeySummary, err error) {
	key := NormalizeKey(rawKey)
	ctx, done := s.observe(ctx, "get", key)
	defer func() { done(err) }()

	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	summary := Summary(rec, s.now(), s.opts.HeartbeatTimeout)
	return &summary, nil
}

// List returns every key, newest first, with aggregate stats. Records are
// fetched concurrently; index entries whose record is gone are skipped.
func (s *Service) List(ctx context.Context) (resp *api.ListResponse, err error) {
	ctx, done := s.observe(ctx, "list", "")
	defer func() { done(err) }()

	keys, err := s.store.SMembers(ctx, store.IndexKey)
	if err != nil {
		return nil, storeError(err)
	}

	var (
		mu      sync.Mutex
		records = make([]*Record, 0, len(keys))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			h, err := s.store.HGetAll(gctx, store.RecordKey(key))
			if err != nil {
				return err
			}
			if rec, ok := ParseRecord(h); ok {
				mu.Lock()
				records = append(records, rec)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storeError(err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt > records[j].CreatedAt
		}
		return records[i].Key < records[j].Key
	})

	now := s.now()
	resp = &api.ListResponse{Keys: make([]api.KeySummary, 0, len(records))}
	for _, rec := range records {
		summary := Summary(rec, now, s.opts.HeartbeatTimeout)
		resp.Keys = append(resp.Keys, summary)

		resp.Stats.Total++
		switch Status(summary.Status) {
		case StatusActive:
			resp.Stats.Active++
		case StatusExpired:
			resp.Stats.Expired++
		case StatusRevoked:
			resp.Stats.Revoked++
		}
		if summary.KillSwitch {
			resp.Stats.Killed++
		}
		if summary.Online {
			resp.Stats.Online++
		}
	}
	return resp, nil
}

// GetSettings returns the published client settings
func (s *Service) GetSettings(ctx context.Context) (*api.Settings, error) {
	h, err := s.store.HGetAll(ctx, store.SettingsKey)
	if err != nil {
		return nil, storeError(err)
	}
	settings := &api.Settings{
		LatestVersion: h["latestVersion"],
		UpdateURL:     h["updateUrl"],
	}
	if settings.LatestVersion == "" {
		settings.LatestVersion = defaultLatestVersion
	}
	return settings, nil
}

// UpdateSettings replaces the published client settings
func (s *Service) UpdateSettings(ctx context.Context, req api.UpdateSettingsRequest) (resp *api.Settings, err error) {
	ctx, done := s.observe(ctx, "update_settings", "")
	defer func() { done(err) }()

	if err := s.store.HSet(ctx, store.SettingsKey, map[string]string{
		"latestVersion": req.LatestVersion,
		"updateUrl":     req.UpdateURL,
	}); err != nil {
		return nil, storeError(err)
	}
	return &api.Settings{LatestVersion: req.LatestVersion, UpdateURL: req.UpdateURL}, nil
}

// Ping checks the store for the health endpoint
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return storeError(err)
	}
	return nil
}
