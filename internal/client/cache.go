package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const checksumInfo = "keygate client cache checksum"

// Cache is the locally persisted verdict of the last successful
// verification. Times are epoch milliseconds.
type Cache struct {
	LicenseKey    string `json:"licenseKey"`
	DeviceID      string `json:"deviceId"`
	Token         string `json:"token"`
	ExpiresAt     int64  `json:"expiresAt"`
	DaysRemaining int    `json:"daysRemaining"`
	VerifiedAt    int64  `json:"verifiedAt"`
	Checksum      string `json:"checksum"`
}

// CacheStore persists a single Cache
type CacheStore interface {
	Load(ctx context.Context) (*Cache, error)
	Save(ctx context.Context, c *Cache) error
	Clear(ctx context.Context) error
}

// Checksummer computes the tamper-evidence digest of a Cache. The HMAC key
// is derived from the configured secret with HKDF.
type Checksummer struct {
	key []byte
}

// NewChecksummer derives the checksum key from secret
func NewChecksummer(secret string) (*Checksummer, error) {
	if secret == "" {
		return nil, errors.New("checksum secret is empty")
	}
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(checksumInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive checksum key: %w", err)
	}
	return &Checksummer{key: key}, nil
}

// Sum digests key:deviceId:expiresAt
func (cs *Checksummer) Sum(c *Cache) string {
	mac := hmac.New(sha256.New, cs.key)
	mac.Write([]byte(strings.Join([]string{
		c.LicenseKey,
		c.DeviceID,
		strconv.FormatInt(c.ExpiresAt, 10),
	}, ":")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Seal stamps c with its checksum
func (cs *Checksummer) Seal(c *Cache) {
	c.Checksum = cs.Sum(c)
}

// Check returns ErrTampered unless c carries a matching checksum
func (cs *Checksummer) Check(c *Cache) error {
	if !hmac.Equal([]byte(cs.Sum(c)), []byte(c.Checksum)) {
		return ErrTampered
	}
	return nil
}

// FileCache stores the cache as JSON readable only by the owner
type FileCache struct {
	path string
	mu   sync.Mutex
}

// NewFileCache creates a file-backed cache store at path
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Path returns the cache file location
func (f *FileCache) Path() string { return f.path }

func (f *FileCache) Load(_ context.Context) (*Cache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCache
	}
	if err != nil {
		return nil, fmt.Errorf("read license cache: %w", err)
	}

	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		// An unreadable cache is indistinguishable from a tampered one.
		return nil, ErrTampered
	}
	return &c, nil
}

func (f *FileCache) Save(_ context.Context, c *Cache) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode license cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write license cache: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace license cache: %w", err)
	}
	return nil
}

func (f *FileCache) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove license cache: %w", err)
	}
	return nil
}

// MemoryCache keeps the cache in process
type MemoryCache struct {
	mu    sync.Mutex
	cache *Cache
}

// NewMemoryCache creates an empty in-memory cache store
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (m *MemoryCache) Load(_ context.Context) (*Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache == nil {
		return nil, ErrNoCache
	}
	c := *m.cache
	return &c, nil
}

func (m *MemoryCache) Save(_ context.Context, c *Cache) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.cache = &cp
	return nil
}

func (m *MemoryCache) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = nil
	return nil
}
