// Package store defines the key-value contract the license server persists
// records through, with in-memory and Redis implementations.
//
// Records are hashes of string fields. The only atomic primitive the server
// relies on is HSetNX (set a field only if absent), used for first-writer-wins
// device and hardware binding.
package store

import (
	"context"
	"errors"
)

// ErrUnavailable wraps transport and server failures of the backing store.
var ErrUnavailable = errors.New("key store unavailable")

// KeyStore is the storage contract used by the license service.
type KeyStore interface {
	// HGetAll returns all fields of the hash at key. A missing key yields an
	// empty map and no error.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HGet returns one field and whether it was present.
	HGet(ctx context.Context, key, field string) (string, bool, error)
	// HSet writes the given fields, creating the hash if needed.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HSetNX sets field only if it does not exist yet and reports whether it
	// was written.
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	// HDel removes fields from the hash.
	HDel(ctx context.Context, key string, fields ...string) error
	// SAdd adds member to the set at key.
	SAdd(ctx context.Context, key, member string) error
	// SMembers lists the set at key.
	SMembers(ctx context.Context, key string) ([]string, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// Key layout shared by all implementations.
const (
	RecordPrefix = "key:"
	IndexKey     = "keys:all"
	SettingsKey  = "keygate:settings"
)

// RecordKey returns the hash key holding a license record
func RecordKey(licenseKey string) string {
	return RecordPrefix + licenseKey
}
