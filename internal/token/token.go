// Package token issues and verifies the bearer tokens returned by a
// successful device verification.
//
// A token is base64(JSON{"data": payload, "sig": hex(HMAC-SHA256(JSON(payload)))}).
// Tokens are evidence for downstream consumers; the server never stores them.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformed = errors.New("token malformed")
	ErrSignature = errors.New("token signature mismatch")
	ErrExpired   = errors.New("token expired")
)

// Payload is the signed token content. Exp and Iat are epoch milliseconds.
type Payload struct {
	Key        string `json:"key"`
	DeviceID   string `json:"deviceId"`
	HardwareID string `json:"hardwareId,omitempty"`
	Exp        int64  `json:"exp"`
	Iat        int64  `json:"iat"`
}

// ExpiresAt returns Exp as a time
func (p Payload) ExpiresAt() time.Time {
	return time.UnixMilli(p.Exp)
}

type envelope struct {
	Data json.RawMessage `json:"data"`
	Sig  string          `json:"sig"`
}

// Issue serialises and signs payload
func Issue(p Payload, secret string) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal token payload: %w", err)
	}
	raw, err := json.Marshal(envelope{Data: data, Sig: sign(data, secret)})
	if err != nil {
		return "", fmt.Errorf("marshal token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Verify decodes tok, checks the HMAC over the exact payload bytes and
// rejects tokens whose exp is before now.
func Verify(tok, secret string, now time.Time) (*Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		return nil, ErrMalformed
	}

	expected := sign(env.Data, secret)
	if !hmac.Equal([]byte(expected), []byte(env.Sig)) {
		return nil, ErrSignature
	}

	var p Payload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if p.Exp < now.UnixMilli() {
		return nil, ErrExpired
	}
	return &p, nil
}

func sign(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
