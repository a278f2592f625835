// Package signature signs and checks the request fields exchanged between the
// client and the license server.
//
// A signature is the first 32 hex characters of
// sha256(field1:field2:...:fieldN:secret). The request timestamp (epoch
// milliseconds) is always the last signed field so that replayed requests
// fail the freshness window even when the signature itself is valid.
package signature

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	// Length of the truncated hex digest
	Length = 32

	// MaxAge is how far in the past a request timestamp may be.
	MaxAge = 5 * time.Minute

	// MaxSkew is how far in the future a request timestamp may be.
	MaxSkew = 1 * time.Minute
)

var (
	ErrStaleRequest = errors.New("request timestamp outside the accepted window")
	ErrBadSignature = errors.New("signature mismatch")
	ErrMissing      = errors.New("timestamp and signature are required")
)

// Sign computes the signature over fields with secret
func Sign(fields []string, secret string) string {
	payload := strings.Join(fields, ":") + ":" + secret
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:Length]
}

// Verify recomputes the signature and compares it in constant time
func Verify(received string, fields []string, secret string) bool {
	expected := Sign(fields, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}

// CheckFreshness accepts ts (epoch ms) iff now-ts <= MaxAge and ts-now <= MaxSkew.
func CheckFreshness(ts int64, now time.Time) error {
	delta := now.UnixMilli() - ts
	if delta > MaxAge.Milliseconds() || -delta > MaxSkew.Milliseconds() {
		return ErrStaleRequest
	}
	return nil
}

// Fields appends the timestamp to the business fields in signing order
func Fields(ts int64, fields ...string) []string {
	out := make([]string, 0, len(fields)+1)
	out = append(out, fields...)
	return append(out, strconv.FormatInt(ts, 10))
}

// SignRequest stamps fields with now and returns the timestamp and signature
func SignRequest(now time.Time, secret string, fields ...string) (int64, string) {
	ts := now.UnixMilli()
	return ts, Sign(Fields(ts, fields...), secret)
}

// VerifyRequest checks freshness first, then the signature over fields+ts.
func VerifyRequest(ts int64, sig, secret string, now time.Time, fields ...string) error {
	if ts == 0 || sig == "" {
		return ErrMissing
	}
	if err := CheckFreshness(ts, now); err != nil {
		return err
	}
	if !Verify(sig, Fields(ts, fields...), secret) {
		return ErrBadSignature
	}
	return nil
}
