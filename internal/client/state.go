package client

import "time"

// State is the client-observed license state
type State string

const (
	StateNoLicense State = "no_license"
	StateVerifying State = "verifying"
	StateActive    State = "active"
	StateInactive  State = "inactive"
	StateBlocked   State = "blocked"
)

// Reasons attached to non-active states that do not come from a server code
const (
	ReasonTampered    = "tampered"
	ReasonExpired     = "expired"
	ReasonUnreachable = "unreachable"
	ReasonDeactivated = "deactivated"
)

// Status is a snapshot of the session
type Status struct {
	State          State     `json:"state"`
	Reason         string    `json:"reason,omitempty"`
	Message        string    `json:"message,omitempty"`
	RequiresAction bool      `json:"requiresAction,omitempty"`
	MaskedKey      string    `json:"licenseKey,omitempty"`
	DaysRemaining  int       `json:"daysRemaining,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt,omitempty"`
	VerifiedAt     time.Time `json:"verifiedAt,omitempty"`
}

// Listener is notified after every state change
type Listener func(prev, next Status)

// DisplayKey is the key as shown to the user in a Status: the first 9
// characters. Logs use infrastructure.MaskKey instead.
func DisplayKey(key string) string {
	if len(key) <= 9 {
		return key
	}
	return key[:9] + "..."
}
