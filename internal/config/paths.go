package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains the agent's on-disk locations.
// All paths are relative to the executable directory, never the working directory.
type Paths struct {
	ExecutableDir string
	DataDir       string
	LogsDir       string
	CacheFile     string
	MarkerFile    string
}

// GetPaths returns the application paths relative to the executable location
func GetPaths() (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	return pathsFor(filepath.Dir(exe)), nil
}

func pathsFor(exeDir string) *Paths {
	dataDir := filepath.Join(exeDir, "data")
	return &Paths{
		ExecutableDir: exeDir,
		DataDir:       dataDir,
		LogsDir:       filepath.Join(exeDir, "logs"),
		CacheFile:     filepath.Join(dataDir, CacheFileName),
		MarkerFile:    filepath.Join(dataDir, MarkerFileName),
	}
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.DataDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
