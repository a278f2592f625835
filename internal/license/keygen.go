package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var keyPattern = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

// GenerateKey returns a key of four groups of two random bytes in upper hex,
// e.g. "3F9A-00C1-7B2E-D4F0".
func GenerateKey(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	segments := make([]string, 4)
	for i := range segments {
		segments[i] = strings.ToUpper(hex.EncodeToString(buf[i*2 : i*2+2]))
	}
	return strings.Join(segments, "-"), nil
}

// NormalizeKey trims and upper-cases user input
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidKeyFormat reports whether key looks like a generated key
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// NormalizeHardwareID lower-cases a MAC address and uses ':' separators
func NormalizeHardwareID(id string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), "-", ":")
}
