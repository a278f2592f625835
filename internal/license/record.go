package license

import (
	"math"
	"strconv"
	"time"

	api "keygate/pkg/contracts/api/v1"
)

// Record field names as persisted in the store hash.
const (
	FieldKey            = "key"
	FieldCreatedAt      = "createdAt"
	FieldExpiresAt      = "expiresAt"
	FieldExpiresInDays  = "expiresInDays"
	FieldLabel          = "label"
	FieldDeviceID       = "deviceId"
	FieldActivatedAt    = "activatedAt"
	FieldMACAddress     = "macAddress"
	FieldMACActivatedAt = "macActivatedAt"
	FieldLastMACCheck   = "lastMacCheck"
	FieldRevoked        = "revoked"
	FieldRevokedAt      = "revokedAt"
	FieldKillSwitch     = "killSwitch"
	FieldTamperDate     = "tamperDate"
	FieldTamperReason   = "tamperReason"
	FieldLastHeartbeat  = "lastHeartbeat"
	FieldIsOnline       = "isOnline"
	FieldLastUsed       = "lastUsed"
)

const day = 24 * time.Hour

// Status is the derived lifecycle state of a record
type Status string

const (
	StatusActive  Status = api.StatusActive
	StatusExpired Status = api.StatusExpired
	StatusRevoked Status = api.StatusRevoked
)

// Record is a license record decoded from its store hash. Timestamps are
// epoch milliseconds; zero means unset.
type Record struct {
	Key            string
	CreatedAt      int64
	ExpiresAt      int64
	ExpiresInDays  int
	Label          string
	DeviceID       string
	ActivatedAt    int64
	MACAddress     string
	MACActivatedAt int64
	LastMACCheck   int64
	Revoked        bool
	RevokedAt      int64
	KillSwitch     bool
	TamperDate     string
	TamperReason   string
	LastHeartbeat  int64
	IsOnline       bool
	LastUsed       int64
}

// ParseRecord decodes a store hash. It reports false when the hash is empty
// or has no key field. Malformed numbers decode as zero, which makes a
// corrupt expiresAt read as expired.
func ParseRecord(h map[string]string) (*Record, bool) {
	if len(h) == 0 || h[FieldKey] == "" {
		return nil, false
	}
	return &Record{
		Key:            h[FieldKey],
		CreatedAt:      parseInt(h[FieldCreatedAt]),
		ExpiresAt:      parseInt(h[FieldExpiresAt]),
		ExpiresInDays:  int(parseInt(h[FieldExpiresInDays])),
		Label:          h[FieldLabel],
		DeviceID:       h[FieldDeviceID],
		ActivatedAt:    parseInt(h[FieldActivatedAt]),
		MACAddress:     h[FieldMACAddress],
		MACActivatedAt: parseInt(h[FieldMACActivatedAt]),
		LastMACCheck:   parseInt(h[FieldLastMACCheck]),
		Revoked:        h[FieldRevoked] == "true",
		RevokedAt:      parseInt(h[FieldRevokedAt]),
		KillSwitch:     h[FieldKillSwitch] == "true",
		TamperDate:     h[FieldTamperDate],
		TamperReason:   h[FieldTamperReason],
		LastHeartbeat:  parseInt(h[FieldLastHeartbeat]),
		IsOnline:       h[FieldIsOnline] == "true",
		LastUsed:       parseInt(h[FieldLastUsed]),
	}, true
}

// DeriveStatus is the single source of a record's status
func DeriveStatus(r *Record, now time.Time) Status {
	switch {
	case r.Revoked:
		return StatusRevoked
	case now.UnixMilli() > r.ExpiresAt:
		return StatusExpired
	default:
		return StatusActive
	}
}

// Online reports whether the companion heartbeat is fresh
func Online(r *Record, now time.Time, timeout time.Duration) bool {
	if !r.IsOnline || r.LastHeartbeat == 0 {
		return false
	}
	return now.UnixMilli()-r.LastHeartbeat <= timeout.Milliseconds()
}

// DaysRemaining rounds the time left up to whole days, never below zero
func DaysRemaining(expiresAt int64, now time.Time) int {
	left := expiresAt - now.UnixMilli()
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / float64(day.Milliseconds())))
}

// Summary renders the admin view of a record
func Summary(r *Record, now time.Time, heartbeatTimeout time.Duration) api.KeySummary {
	return api.KeySummary{
		Key:           r.Key,
		Label:         r.Label,
		Status:        string(DeriveStatus(r, now)),
		KillSwitch:    r.KillSwitch,
		Online:        Online(r, now, heartbeatTimeout),
		DeviceID:      r.DeviceID,
		MACAddress:    r.MACAddress,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		ExpiresInDays: r.ExpiresInDays,
		DaysRemaining: DaysRemaining(r.ExpiresAt, now),
		ActivatedAt:   r.ActivatedAt,
		LastUsed:      r.LastUsed,
		LastHeartbeat: r.LastHeartbeat,
		RevokedAt:     r.RevokedAt,
		TamperDate:    r.TamperDate,
		TamperReason:  r.TamperReason,
	}
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}
