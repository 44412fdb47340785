// Package install describes the on-disk installation being updated.
package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/scribeapp/scribeup/internal/manifest"
	"github.com/scribeapp/scribeup/internal/version"
)

// RunLockName is the lock file the application holds in its install root
// while running. Used to verify the application is stopped before its files
// are replaced.
const RunLockName = ".scribe.lock"

var (
	// ErrNotInstalled indicates the install root does not exist.
	ErrNotInstalled = errors.New("application is not installed")
	// ErrAppRunning indicates the application holds its run lock and must
	// be closed before an update can proceed.
	ErrAppRunning = errors.New("application is still running")
)

// State is the installation state for one update run: where the application
// lives, where backups go, and which version is currently installed. It is
// constructed once per run from the local manifest; no ambient globals.
type State struct {
	Root           string
	BackupRoot     string
	CurrentVersion string
	Manifest       *manifest.Descriptor
}

// Load reads the installation state from disk. The current version comes
// from the local manifest shipped alongside the application and is
// authoritative for the run.
func Load(root, backupRoot string) (*State, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotInstalled, root)
		}
		return nil, fmt.Errorf("failed to stat install root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("install root is not a directory: %s", root)
	}

	local, err := manifest.ReadLocal(root)
	if err != nil {
		return nil, err
	}

	if _, err := version.Parse(local.Version); err != nil {
		return nil, fmt.Errorf("installed version: %w", err)
	}

	return &State{
		Root:           root,
		BackupRoot:     backupRoot,
		CurrentVersion: local.Version,
		Manifest:       local,
	}, nil
}

// EnsureStopped verifies the application does not hold its run lock. This
// makes "the application is closed before file replacement" a checked
// contract instead of an assumption. A missing lock file means the
// application is not running; nothing is created in the install tree.
func EnsureStopped(root string) error {
	lockPath := filepath.Join(root, RunLockName)
	if _, err := os.Stat(lockPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat run lock: %w", err)
	}

	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to probe run lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: run lock %s is held", ErrAppRunning, lockPath)
	}

	_ = lock.Unlock()
	return nil
}
