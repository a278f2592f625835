package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.True(t, cfg.License.StrictVerify)
	assert.Equal(t, 60*time.Second, cfg.License.HeartbeatTimeout)
	assert.Equal(t, 30, cfg.License.DefaultExpiryDays)
	assert.Equal(t, 30*time.Second, cfg.Client.HeartbeatInterval)
	assert.Equal(t, 30*time.Minute, cfg.Client.ReverifyInterval)
	assert.Equal(t, 3, cfg.Client.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Client.RetryBaseDelay)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		yaml        string
		wantErr     string
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with no env vars",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
			},
		},
		{
			name: "env overrides defaults",
			env: map[string]string{
				"KEYGATE_SERVER_PORT":                 "9191",
				"KEYGATE_STORE_BACKEND":               "redis",
				"KEYGATE_STORE_URL":                   "redis://localhost:6379/1",
				"KEYGATE_SECURITY_REQUIRE_SIGNATURES": "true",
				"KEYGATE_CLIENT_HEARTBEAT_INTERVAL":   "10s",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9191, cfg.Server.Port)
				assert.Equal(t, StoreBackendRedis, cfg.Store.Backend)
				assert.Equal(t, "redis://localhost:6379/1", cfg.Store.URL)
				assert.True(t, cfg.Security.RequireSignatures)
				assert.Equal(t, 10*time.Second, cfg.Client.HeartbeatInterval)
			},
		},
		{
			name: "file overrides defaults and env overrides file",
			yaml: "server:\n  port: 7070\n  read_timeout: 5s\nlicense:\n  strict_verify: false\n",
			env: map[string]string{
				"KEYGATE_SERVER_PORT": "7171",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7171, cfg.Server.Port)
				assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
				assert.False(t, cfg.License.StrictVerify)
				assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
			},
		},
		{
			name:    "redis backend without url",
			env:     map[string]string{"KEYGATE_STORE_BACKEND": "redis"},
			wantErr: "store url is required",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"KEYGATE_STORE_BACKEND": "etcd"},
			wantErr: "unsupported store backend",
		},
		{
			name:    "invalid port",
			env:     map[string]string{"KEYGATE_SERVER_PORT": "70000"},
			wantErr: "invalid server port",
		},
		{
			name:    "zero retry attempts",
			env:     map[string]string{"KEYGATE_CLIENT_RETRY_ATTEMPTS": "0"},
			wantErr: "retry attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Setenv("KEYGATE_CLIENT_CACHE_PATH", filepath.Join(dir, "cache.json"))
			t.Setenv("KEYGATE_CLIENT_MARKER_PATH", filepath.Join(dir, "marker"))
			if tt.yaml != "" {
				path := filepath.Join(dir, "keygate.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
				t.Setenv("KEYGATE_CONFIG", path)
			} else {
				t.Setenv("KEYGATE_CONFIG", "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestValidateServerAndClient(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ValidateServer())
	assert.Error(t, cfg.ValidateClient())

	cfg.Security.AdminToken = "admin"
	cfg.Security.SignSecret = "sign"
	cfg.Security.TokenSecret = "token"
	assert.NoError(t, cfg.ValidateServer())

	cfg.Client.ServerURL = "http://localhost:8080"
	cfg.Client.ChecksumSecret = "checksum"
	assert.NoError(t, cfg.ValidateClient())
}

func TestPathsFor(t *testing.T) {
	dir := t.TempDir()
	p := pathsFor(dir)

	assert.Equal(t, filepath.Join(dir, "data", CacheFileName), p.CacheFile)
	assert.Equal(t, filepath.Join(dir, "data", MarkerFileName), p.MarkerFile)
	require.NoError(t, p.EnsureDirectories())
	assert.True(t, FileExists(p.DataDir))
	assert.True(t, FileExists(p.LogsDir))
}
