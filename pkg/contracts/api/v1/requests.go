// Package api contains the JSON contracts of the keygate HTTP API.
// Version v1 represents the current stable API version.
//
// Timestamps are epoch milliseconds. Signed requests carry Timestamp and
// Signature; see internal/signature for the signing rules.
package api

// Admin requests

// CreateKeyRequest issues a new license key
type CreateKeyRequest struct {
	ExpiresInDays int    `json:"expiresInDays" validate:"omitempty,min=1,max=3650"`
	Label         string `json:"label" validate:"max=200"`
}

// KeyRequest addresses an existing key (revoke)
type KeyRequest struct {
	Key string `json:"key" validate:"required,max=64"`
}

// ToggleKillRequest sets or clears the kill switch
type ToggleKillRequest struct {
	Key     string `json:"key" validate:"required,max=64"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

// ResetBindingRequest clears a device or hardware binding.
// Target is one of "device", "hardware" or "all".
type ResetBindingRequest struct {
	Key    string `json:"key" validate:"required,max=64"`
	Target string `json:"target" validate:"required,oneof=device hardware all"`
}

// UpdateSettingsRequest replaces the published client settings
type UpdateSettingsRequest struct {
	LatestVersion string `json:"latestVersion" validate:"required,max=32"`
	UpdateURL     string `json:"updateUrl" validate:"omitempty,url"`
}

// Client requests

// ActivateHardwareRequest binds a license to the companion's hardware id.
// CheckOnly validates without binding.
type ActivateHardwareRequest struct {
	Key        string `json:"key" validate:"required,max=64"`
	MACAddress string `json:"macAddress" validate:"required,max=64"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Signature  string `json:"signature,omitempty" validate:"max=128"`
	CheckOnly  bool   `json:"checkOnly,omitempty"`
}

// VerifyRequest checks a license for a device and binds it on first use
type VerifyRequest struct {
	Key       string `json:"key" validate:"required,max=64"`
	DeviceID  string `json:"deviceId" validate:"required,max=128"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Signature string `json:"signature,omitempty" validate:"max=128"`
}

// HeartbeatRequest reports companion liveness. Offline marks it stopped.
type HeartbeatRequest struct {
	Key        string `json:"key" validate:"required,max=64"`
	MACAddress string `json:"macAddress" validate:"required,max=64"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Signature  string `json:"signature,omitempty" validate:"max=128"`
	Offline    bool   `json:"offline,omitempty"`
}

// ReportTamperRequest is the client's self-report of tampering
type ReportTamperRequest struct {
	Key        string `json:"key" validate:"required,max=64"`
	MACAddress string `json:"macAddress,omitempty" validate:"max=64"`
	Reason     string `json:"reason,omitempty" validate:"max=2000"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Signature  string `json:"signature,omitempty" validate:"max=128"`
}

// IntrospectRequest asks the server to validate a verification token
type IntrospectRequest struct {
	Token string `json:"token" validate:"required"`
}
