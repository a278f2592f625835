package api

// Status values derived from a license record
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusRevoked = "revoked"
)

// CreateKeyResponse returns the issued key
type CreateKeyResponse struct {
	Success       bool   `json:"success"`
	Key           string `json:"key"`
	CreatedAt     int64  `json:"createdAt"`
	ExpiresAt     int64  `json:"expiresAt"`
	ExpiresInDays int    `json:"expiresInDays"`
	Label         string `json:"label,omitempty"`
}

// ActivateHardwareResponse is returned by a successful hardware activation
// or check-only validation
type ActivateHardwareResponse struct {
	Success       bool   `json:"success"`
	Valid         bool   `json:"valid"`
	Message       string `json:"message"`
	Bound         bool   `json:"bound"`
	ExpiresAt     int64  `json:"expiresAt"`
	DaysRemaining int    `json:"daysRemaining"`
	Label         string `json:"label,omitempty"`
}

// VerifyResponse is returned by a successful device verification
type VerifyResponse struct {
	Valid         bool   `json:"valid"`
	ExpiresAt     int64  `json:"expiresAt"`
	DaysRemaining int    `json:"daysRemaining"`
	Token         string `json:"token"`
	Label         string `json:"label,omitempty"`
}

// HeartbeatResponse acknowledges a heartbeat. Kill is set whenever the kill
// switch is on, even though the heartbeat itself succeeded.
type HeartbeatResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Kill    bool   `json:"kill,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ActionResponse is the generic acknowledgement of admin and report routes
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Key     string `json:"key,omitempty"`
}

// ToggleKillResponse reports the persisted kill switch value
type ToggleKillResponse struct {
	Success    bool   `json:"success"`
	Key        string `json:"key"`
	KillSwitch bool   `json:"killSwitch"`
}

// KeySummary is one row of the admin key list
type KeySummary struct {
	Key           string `json:"key"`
	Label         string `json:"label,omitempty"`
	Status        string `json:"status"`
	KillSwitch    bool   `json:"killSwitch"`
	Online        bool   `json:"online"`
	DeviceID      string `json:"deviceId,omitempty"`
	MACAddress    string `json:"macAddress,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	ExpiresAt     int64  `json:"expiresAt"`
	ExpiresInDays int    `json:"expiresInDays"`
	DaysRemaining int    `json:"daysRemaining"`
	ActivatedAt   int64  `json:"activatedAt,omitempty"`
	LastUsed      int64  `json:"lastUsed,omitempty"`
	LastHeartbeat int64  `json:"lastHeartbeat,omitempty"`
	RevokedAt     int64  `json:"revokedAt,omitempty"`
	TamperDate    string `json:"tamperDate,omitempty"`
	TamperReason  string `json:"tamperReason,omitempty"`
}

// Stats aggregates the key list
type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
	Revoked int `json:"revoked"`
	Killed  int `json:"killed"`
	Online  int `json:"online"`
}

// ListResponse is the admin key list, newest first
type ListResponse struct {
	Keys  []KeySummary `json:"keys"`
	Stats Stats        `json:"stats"`
}

// Settings are the values published to clients for update checks
type Settings struct {
	LatestVersion string `json:"latestVersion"`
	UpdateURL     string `json:"updateUrl,omitempty"`
}

// IntrospectResponse describes a valid verification token
type IntrospectResponse struct {
	Valid      bool   `json:"valid"`
	Key        string `json:"key"`
	DeviceID   string `json:"deviceId"`
	HardwareID string `json:"hardwareId,omitempty"`
	ExpiresAt  int64  `json:"expiresAt"`
	IssuedAt   int64  `json:"issuedAt"`
}

// HealthResponse reports server and store health
type HealthResponse struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}
