package protection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Enforcer switches enforcement on or off. Both calls must be idempotent.
type Enforcer interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

// MarkerEnforcer signals the enforcing process through a marker file: the
// file exists exactly while enforcement is enabled.
type MarkerEnforcer struct {
	path string
	now  func() time.Time
}

// NewMarkerEnforcer creates an enforcer for the marker at path
func NewMarkerEnforcer(path string) *MarkerEnforcer {
	return &MarkerEnforcer{path: path, now: time.Now}
}

// Path returns the marker location
func (m *MarkerEnforcer) Path() string { return m.path }

func (m *MarkerEnforcer) Enable(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	stamp := m.now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(m.path, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write protection marker: %w", err)
	}
	return nil
}

func (m *MarkerEnforcer) Disable(_ context.Context) error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove protection marker: %w", err)
	}
	return nil
}

// Enabled reports whether the marker is present
func (m *MarkerEnforcer) Enabled() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// LogEnforcer only logs decisions
type LogEnforcer struct {
	logger *slog.Logger
}

// NewLogEnforcer creates a logging enforcer
func NewLogEnforcer(logger *slog.Logger) *LogEnforcer {
	return &LogEnforcer{logger: logger}
}

func (l *LogEnforcer) Enable(ctx context.Context) error {
	l.logger.InfoContext(ctx, "protection enabled")
	return nil
}

func (l *LogEnforcer) Disable(ctx context.Context) error {
	l.logger.InfoContext(ctx, "protection disabled")
	return nil
}
