package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "KEYGATE"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Client    ClientConfig    `yaml:"client" envconfig:"CLIENT"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port             int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout      time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes   int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	OperationTimeout time.Duration `yaml:"operation_timeout" envconfig:"OPERATION_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AdminToken        string          `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
	SignSecret        string          `yaml:"sign_secret" envconfig:"SIGN_SECRET"`
	TokenSecret       string          `yaml:"token_secret" envconfig:"TOKEN_SECRET"`
	RequireSignatures bool            `yaml:"require_signatures" envconfig:"REQUIRE_SIGNATURES"`
	AllowedOrigins    []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS        bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit         RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// StoreConfig selects and tunes the key store backend.
type StoreConfig struct {
	Backend          string        `yaml:"backend" envconfig:"BACKEND"`
	URL              string        `yaml:"url" envconfig:"URL"`
	OperationTimeout time.Duration `yaml:"operation_timeout" envconfig:"OPERATION_TIMEOUT"`
}

// LicenseConfig tunes the server-side license state machine.
type LicenseConfig struct {
	StrictVerify      bool          `yaml:"strict_verify" envconfig:"STRICT_VERIFY"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" envconfig:"HEARTBEAT_TIMEOUT"`
	DefaultExpiryDays int           `yaml:"default_expiry_days" envconfig:"DEFAULT_EXPIRY_DAYS"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig controls OpenTelemetry exporters
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// ClientConfig configures the agent: verification engine, companion and
// protection controller.
type ClientConfig struct {
	ServerURL         string        `yaml:"server_url" envconfig:"SERVER_URL"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" envconfig:"HTTP_TIMEOUT"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	ReverifyInterval  time.Duration `yaml:"reverify_interval" envconfig:"REVERIFY_INTERVAL"`
	CompanionInterval time.Duration `yaml:"companion_interval" envconfig:"COMPANION_INTERVAL"`
	CacheTrustWindow  time.Duration `yaml:"cache_trust_window" envconfig:"CACHE_TRUST_WINDOW"`
	RetryAttempts     int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay" envconfig:"RETRY_BASE_DELAY"`
	CachePath         string        `yaml:"cache_path" envconfig:"CACHE_PATH"`
	ChecksumSecret    string        `yaml:"checksum_secret" envconfig:"CHECKSUM_SECRET"`
	MarkerPath        string        `yaml:"marker_path" envconfig:"MARKER_PATH"`
	AppVersion        string        `yaml:"app_version" envconfig:"APP_VERSION"`
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in increasing order of precedence.
//
// The YAML file is taken from KEYGATE_CONFIG when set, otherwise from the
// first of the well-known locations that exists.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Keys absent from the file
// keep their current value.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// resolvePaths fills client paths left empty with executable-relative ones
func (c *Config) resolvePaths() error {
	if c.Client.CachePath != "" && c.Client.MarkerPath != "" {
		return nil
	}
	paths, err := GetPaths()
	if err != nil {
		return err
	}
	if c.Client.CachePath == "" {
		c.Client.CachePath = paths.CacheFile
	}
	if c.Client.MarkerPath == "" {
		c.Client.MarkerPath = paths.MarkerFile
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	switch strings.ToLower(c.Store.Backend) {
	case StoreBackendMemory:
	case StoreBackendRedis:
		if c.Store.URL == "" {
			return fmt.Errorf("store url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported store backend: %q", c.Store.Backend)
	}

	if c.Store.OperationTimeout <= 0 {
		return fmt.Errorf("store operation timeout must be positive")
	}

	if c.License.HeartbeatTimeout <= 0 {
		return fmt.Errorf("license heartbeat timeout must be positive")
	}

	if c.License.DefaultExpiryDays < MinExpiryDays || c.License.DefaultExpiryDays > MaxExpiryDays {
		return fmt.Errorf("default expiry days must be between %d and %d", MinExpiryDays, MaxExpiryDays)
	}

	if c.Client.RetryAttempts < 1 {
		return fmt.Errorf("client retry attempts must be at least 1")
	}

	if c.Client.HeartbeatInterval <= 0 || c.Client.ReverifyInterval <= 0 {
		return fmt.Errorf("client intervals must be positive")
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/keygate.log"
	}

	return nil
}

// ValidateServer checks the settings only the server binary needs.
func (c *Config) ValidateServer() error {
	if c.Security.AdminToken == "" {
		return fmt.Errorf("security admin token must be set")
	}
	if c.Security.SignSecret == "" {
		return fmt.Errorf("security sign secret must be set")
	}
	if c.Security.TokenSecret == "" {
		return fmt.Errorf("security token secret must be set")
	}
	return nil
}

// ValidateClient checks the settings only the agent needs.
func (c *Config) ValidateClient() error {
	if c.Client.ServerURL == "" {
		return fmt.Errorf("client server url must be set")
	}
	if c.Security.SignSecret == "" {
		return fmt.Errorf("security sign secret must be set")
	}
	if c.Client.ChecksumSecret == "" {
		return fmt.Errorf("client checksum secret must be set")
	}
	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG"); explicit != "" {
		return explicit
	}

	locations := []string{
		"keygate.yaml",
		"configs/keygate.yaml",
		"../configs/keygate.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			IdleTimeout:      60 * time.Second,
			MaxHeaderBytes:   1 << 20,
			MaxBodyBytes:     64 << 10,
			ShutdownTimeout:  30 * time.Second,
			OperationTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimitRPS,
				Burst:   DefaultRateLimitBurst,
			},
		},
		Store: StoreConfig{
			Backend:          StoreBackendMemory,
			OperationTimeout: DefaultStoreTimeout,
		},
		License: LicenseConfig{
			StrictVerify:      true,
			HeartbeatTimeout:  HeartbeatTimeout,
			DefaultExpiryDays: DefaultExpiryDays,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/keygate.log",
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Client: ClientConfig{
			HTTPTimeout:       DefaultHTTPTimeout,
			HeartbeatInterval: DefaultHeartbeatInterval,
			ReverifyInterval:  DefaultReverifyInterval,
			CompanionInterval: DefaultCompanionInterval,
			CacheTrustWindow:  DefaultCacheTrustWindow,
			RetryAttempts:     DefaultRetryAttempts,
			RetryBaseDelay:    DefaultRetryBaseDelay,
			AppVersion:        AppVersion,
		},
	}
}
