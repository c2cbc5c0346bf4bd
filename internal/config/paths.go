// Package config provides configuration loading and path management.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// appDirName is the XDG leaf directory name for this application's data.
const appDirName = "orchestrator"

// Paths contains the standard paths for control-plane data.
type Paths struct {
	Data   string // ~/.local/share/orchestrator
	Config string // ~/.config/orchestrator
	Cache  string // ~/.cache/orchestrator
	State  string // ~/.local/state/orchestrator
}

// GetPaths returns the standard paths for control-plane data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), appDirName),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), appDirName),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), appDirName),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), appDirName),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath returns the path to the metadata storage directory (store.Storage).
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// TranscriptDBPath returns the path to the transcript sqlite database.
func (p *Paths) TranscriptDBPath() string {
	return filepath.Join(p.Data, "transcript.db")
}

// PolicyPath returns the path to the YAML sync/automation policy defaults file.
func (p *Paths) PolicyPath() string {
	return filepath.Join(p.Config, "policy.yaml")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "orchestrator.json")
}

// ProjectConfigPath returns the path to the project config file for directory.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".orchestrator", "orchestrator.json")
}
