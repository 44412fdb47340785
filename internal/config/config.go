// Package config handles scribeup configuration parsing and location
// resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scribeapp/scribeup/internal/backup"
)

// Config describes one installation and where its updates come from.
type Config struct {
	// ManifestURL is the remote manifest location: an HTTP(S) URL or a
	// local path. Local paths support the offline deployment mode where
	// releases are staged on a network share.
	ManifestURL string `yaml:"manifest_url" toml:"manifest_url" json:"manifest_url"`

	// InstallDir is the directory tree replaced on update.
	InstallDir string `yaml:"install_dir" toml:"install_dir" json:"install_dir"`

	// BackupDir holds pre-update snapshots. Defaults to
	// <cache>/scribeup/backups.
	BackupDir string `yaml:"backup_dir,omitempty" toml:"backup_dir,omitempty" json:"backup_dir,omitempty"`

	// TimeoutSeconds applies to each network operation.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// MaxRetries bounds retries of the download-verify cycle.
	MaxRetries *int `yaml:"max_retries,omitempty" toml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// KeepBackups is the retention count used by `scribeup backup prune`.
	KeepBackups int `yaml:"keep_backups,omitempty" toml:"keep_backups,omitempty" json:"keep_backups,omitempty"`
}

// Defaults for optional fields.
const (
	DefaultTimeoutSeconds = 30
	DefaultMaxRetries     = 2
)

// Timeout returns the configured network timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Retries returns the configured retry bound.
func (c *Config) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// applyDefaults fills optional fields after parsing.
func (c *Config) applyDefaults() error {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.KeepBackups == 0 {
		c.KeepBackups = backup.DefaultKeepCount
	}
	if c.BackupDir == "" {
		dir, err := defaultBackupDir()
		if err != nil {
			return err
		}
		c.BackupDir = dir
	}
	return nil
}

// defaultBackupDir returns the default snapshot directory.
func defaultBackupDir() (string, error) {
	// Use XDG_CACHE_HOME or default to ~/.cache
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "scribeup", "backups"), nil
}

// FindConfig searches for a scribeup configuration file in the standard
// locations. Returns the path of the first file found.
func FindConfig(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	if envPath := os.Getenv("SCRIBEUP_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	searchPaths := []string{
		".",
		filepath.Join(xdgConfig, "scribeup"),
		home,
	}

	fileNames := []string{
		"scribeup.toml",
		"scribeup.yaml",
		"scribeup.yml",
		"scribeup.json",
	}

	for _, dir := range searchPaths {
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("no scribeup config found (searched ./ , %s, %s)", filepath.Join(xdgConfig, "scribeup"), home)
}

// Load finds, parses, validates, and defaults a configuration.
func Load(explicitPath string) (*Config, error) {
	path, err := FindConfig(explicitPath)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	return cfg, nil
}
