package config

import "time"

// Application constants
const (
	AppName    = "keygate"
	AppVersion = "1.0.0"

	// Store backends
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"

	// License lifecycle
	DefaultExpiryDays = 30
	MinExpiryDays     = 1
	MaxExpiryDays     = 3650
	MaxLabelLength    = 200
	HeartbeatTimeout  = 60 * time.Second

	// Rate limiting
	DefaultRateLimitRPS   = 20
	DefaultRateLimitBurst = 40

	// Network timeouts
	DefaultHTTPTimeout  = 10 * time.Second
	DefaultStoreTimeout = 3 * time.Second

	// Client loops
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReverifyInterval  = 30 * time.Minute
	DefaultCompanionInterval = 20 * time.Second
	DefaultCacheTrustWindow  = 1 * time.Hour
	DefaultRetryAttempts     = 3
	DefaultRetryBaseDelay    = 2 * time.Second

	// File names, relative to the executable
	CacheFileName  = "license-cache.json"
	MarkerFileName = "protection.enabled"
)
