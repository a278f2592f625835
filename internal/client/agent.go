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
	"keygate/pkg/contracts"
	api "keygate/pkg/contracts/api/v1"
)

const offlineBeatTimeout = 5 * time.Second

// CompanionAPI is the server surface the companion agent uses
type CompanionAPI interface {
	Activate(ctx context.Context, key, hardwareID string, checkOnly bool) (*api.ActivateHardwareResponse, error)
	Heartbeat(ctx context.Context, key, hardwareID string, offline bool) (*api.HeartbeatResponse, error)
	ReportTamper(ctx context.Context, key, hardwareID, reason string) (*api.ActionResponse, error)
	Settings(ctx context.Context) (*api.Settings, error)
}

// AgentConfig wires an Agent
type AgentConfig struct {
	API        CompanionAPI
	Key        string
	HardwareID string
	Interval   time.Duration
	Version    string

	// Cache is wiped when the server answers with a kill or a terminal
	// verdict. Optional.
	Cache CacheStore

	// OnKill runs once, after the local wipe
	OnKill func(ctx context.Context, code string)

	NewTicker func(time.Duration) Ticker
	Logger    *slog.Logger
}

// UpdateInfo describes the result of an update check
type UpdateInfo struct {
	Available      bool   `json:"available"`
	CurrentVersion string `json:"currentVersion"`
	LatestVersion  string `json:"latestVersion"`
	UpdateURL      string `json:"updateUrl,omitempty"`
}

// Agent is the hardware companion: it activates the license against this
// machine's hardware id and keeps the server-side liveness fresh.
type Agent struct {
	cfg    AgentConfig
	logger *slog.Logger

	killOnce sync.Once
	killed   chan struct{}
}

// NewAgent creates a companion agent
func NewAgent(cfg AgentConfig) *Agent {
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewRealTicker
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Key = strings.ToUpper(strings.TrimSpace(cfg.Key))
	return &Agent{
		cfg:    cfg,
		logger: infrastructure.WithComponent(cfg.Logger, "companion"),
		killed: make(chan struct{}),
	}
}

// Killed is closed after a kill verdict
func (a *Agent) Killed() <-chan struct{} { return a.killed }

// Activate binds the license to this hardware. With checkOnly the server
// validates without binding.
func (a *Agent) Activate(ctx context.Context, checkOnly bool) (*api.ActivateHardwareResponse, error) {
	resp, err := a.cfg.API.Activate(ctx, a.cfg.Key, a.cfg.HardwareID, checkOnly)
	if err != nil {
		a.handleVerdict(ctx, err)
		return nil, err
	}
	a.logger.InfoContext(ctx, "companion activated",
		slog.String("license_key", infrastructure.MaskKey(a.cfg.Key)),
		slog.Bool("check_only", checkOnly),
		slog.Bool("bound", resp.Bound),
		slog.Int("days_remaining", resp.DaysRemaining))
	return resp, nil
}

// Beat sends one heartbeat. It returns ErrKilled on a kill verdict.
func (a *Agent) Beat(ctx context.Context) error {
	resp, err := a.cfg.API.Heartbeat(ctx, a.cfg.Key, a.cfg.HardwareID, false)
	if err != nil {
		if a.handleVerdict(ctx, err) {
			return ErrKilled
		}
		return err
	}
	if resp.Kill {
		a.kill(ctx, resp.Code)
		return ErrKilled
	}
	return nil
}

// Run activates, then beats every interval until ctx is done or the
// license is killed. On a normal stop the server is told the companion is
// offline.
func (a *Agent) Run(ctx context.Context) error {
	if _, err := a.Activate(ctx, false); err != nil {
		if a.isKilled() {
			return ErrKilled
		}
		return err
	}
	if err := a.Beat(ctx); errors.Is(err, ErrKilled) {
		return err
	}

	t := a.cfg.NewTicker(a.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			a.goOffline()
			return nil
		case <-t.C():
			err := a.Beat(ctx)
			switch {
			case errors.Is(err, ErrKilled):
				return err
			case err != nil && ctx.Err() == nil:
				a.logger.WarnContext(ctx, "heartbeat failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ReportTamper reports local tampering, which kills the license server-side
func (a *Agent) ReportTamper(ctx context.Context, reason string) error {
	if _, err := a.cfg.API.ReportTamper(ctx, a.cfg.Key, a.cfg.HardwareID, reason); err != nil {
		return err
	}
	a.logger.WarnContext(ctx, "tampering reported", slog.String("reason", reason))
	a.kill(ctx, "TAMPER_REPORTED")
	return nil
}

// CheckForUpdate compares the published version with ours
func (a *Agent) CheckForUpdate(ctx context.Context) (*UpdateInfo, error) {
	settings, err := a.cfg.API.Settings(ctx)
	if err != nil {
		return nil, err
	}
	info := &UpdateInfo{
		CurrentVersion: a.cfg.Version,
		LatestVersion:  settings.LatestVersion,
		UpdateURL:      settings.UpdateURL,
	}
	info.Available = settings.LatestVersion != "" && contracts.CompareVersions(settings.LatestVersion, a.cfg.Version) > 0
	return info, nil
}

// handleVerdict reacts to a definitive rejection and reports whether it
// was a kill.
func (a *Agent) handleVerdict(ctx context.Context, err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok || Retryable(err) {
		return false
	}
	switch {
	case apiErr.Kill || apiErr.Blocked:
		a.kill(ctx, apiErr.Code)
		return true
	case apiErr.Kind() == apperrors.KindForbiddenTerminal,
		apiErr.Kind() == apperrors.KindNotFound,
		apiErr.Kind() == apperrors.KindRequestIntegrity:
		a.wipe(ctx)
	}
	return false
}

func (a *Agent) kill(ctx context.Context, code string) {
	a.killOnce.Do(func() {
		a.logger.ErrorContext(ctx, "license disabled, wiping local state",
			slog.String("license_key", infrastructure.MaskKey(a.cfg.Key)),
			slog.String("code", code))
		a.wipe(ctx)
		close(a.killed)
		if a.cfg.OnKill != nil {
			a.cfg.OnKill(ctx, code)
		}
	})
}

func (a *Agent) isKilled() bool {
	select {
	case <-a.killed:
		return true
	default:
		return false
	}
}

func (a *Agent) wipe(ctx context.Context) {
	if a.cfg.Cache == nil {
		return
	}
	if err := a.cfg.Cache.Clear(ctx); err != nil {
		a.logger.ErrorContext(ctx, "failed to clear local license state", slog.String("error", err.Error()))
	}
}

func (a *Agent) goOffline() {
	ctx, cancel := context.WithTimeout(context.Background(), offlineBeatTimeout)
	defer cancel()
	if _, err := a.cfg.API.Heartbeat(ctx, a.cfg.Key, a.cfg.HardwareID, true); err != nil {
		a.logger.WarnContext(ctx, "offline heartbeat failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "companion offline")
}
