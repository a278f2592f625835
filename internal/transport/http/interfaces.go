package http

import (
	"context"

	api "keygate/pkg/contracts/api/v1"
)

// KeyService is the license service surface used by the handlers
type KeyService interface {
	Issue(ctx context.Context, req api.CreateKeyRequest) (*api.CreateKeyResponse, error)
	ActivateHardware(ctx context.Context, req api.ActivateHardwareRequest) (*api.ActivateHardwareResponse, error)
	VerifyDevice(ctx context.Context, req api.VerifyRequest) (*api.VerifyResponse, error)
	Heartbeat(ctx context.Context, req api.HeartbeatRequest) (*api.HeartbeatResponse, error)
	ReportTamper(ctx context.Context, req api.ReportTamperRequest) (*api.ActionResponse, error)
	Introspect(ctx context.Context, req api.IntrospectRequest) (*api.IntrospectResponse, error)

	Get(ctx context.Context, key string) (*api.KeySummary, error)
	List(ctx context.Context) (*api.ListResponse, error)
	Revoke(ctx context.Context, key string) (*api.ActionResponse, error)
	ToggleKill(ctx context.Context, key string, enabled bool) (*api.ToggleKillResponse, error)
	ResetBinding(ctx context.Context, key, target string) (*api.ActionResponse, error)

	GetSettings(ctx context.Context) (*api.Settings, error)
	UpdateSettings(ctx context.Context, req api.UpdateSettingsRequest) (*api.Settings, error)
}

// Pinger reports backing store health
type Pinger interface {
	Ping(ctx context.Context) error
}
