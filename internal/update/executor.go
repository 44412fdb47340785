// Package update drives the self-update pipeline: check the remote manifest,
// download and verify the artifact, back up the install tree, and replace it,
// rolling back on failure. No mutation of the live install tree happens
// before a verified backup exists, and every mutating path has exactly one
// rollback path.
package update

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/scribeapp/scribeup/internal/archive"
	"github.com/scribeapp/scribeup/internal/backup"
	"github.com/scribeapp/scribeup/internal/fetch"
	"github.com/scribeapp/scribeup/internal/install"
	"github.com/scribeapp/scribeup/internal/integrity"
	"github.com/scribeapp/scribeup/internal/manifest"
	"github.com/scribeapp/scribeup/internal/version"
)

// updateLockName is the cross-process lock held in the backup directory for
// the duration of a mutating update attempt.
const updateLockName = "update.lock"

// DefaultMaxRetries bounds how often the fetch-verify cycle is retried
// before failure is surfaced.
const DefaultMaxRetries = 2

// DefaultTimeout applies to each network-bound operation.
const DefaultTimeout = 30 * time.Second

// Executor owns the update state machine for one installation.
type Executor struct {
	st             *install.State
	manifestSource string
	maxRetries     int

	fetcher Fetcher
	backups BackupStore
	extract func(src, destDir string) error
	observe Observer

	busy atomic.Bool
}

// NewExecutor creates an executor for the given installation, fetching the
// manifest and artifact via manifestSource and the URL it advertises.
func NewExecutor(st *install.State, manifestSource string) *Executor {
	return &Executor{
		st:             st,
		manifestSource: manifestSource,
		maxRetries:     DefaultMaxRetries,
		fetcher:        fetch.NewClient(DefaultTimeout),
		backups:        backup.NewManager(st.BackupRoot),
		extract:        archive.Extract,
	}
}

// WithFetcher overrides the manifest/artifact fetcher.
func (e *Executor) WithFetcher(f Fetcher) *Executor {
	e.fetcher = f
	return e
}

// WithBackups overrides the backup store.
func (e *Executor) WithBackups(b BackupStore) *Executor {
	e.backups = b
	return e
}

// WithExtractor overrides the artifact extraction function.
func (e *Executor) WithExtractor(fn func(src, destDir string) error) *Executor {
	e.extract = fn
	return e
}

// WithObserver sets the progress observer.
func (e *Executor) WithObserver(fn Observer) *Executor {
	e.observe = fn
	return e
}

// WithMaxRetries sets the retry bound for the fetch-verify cycle.
func (e *Executor) WithMaxRetries(n int) *Executor {
	if n >= 0 {
		e.maxRetries = n
	}
	return e
}

// setState emits a state-change event.
func (e *Executor) setState(s State) {
	if e.observe != nil {
		e.observe(Event{Kind: EventStateChanged, State: s})
	}
}

// CheckForUpdate fetches the remote manifest and compares it against the
// installed version. The install tree is never touched.
func (e *Executor) CheckForUpdate(ctx context.Context) (*CheckResult, error) {
	e.setState(StateChecking)

	d, err := e.fetcher.Manifest(ctx, e.manifestSource)
	if err != nil {
		e.setState(StateFailed)
		return nil, err
	}

	available, err := version.IsUpdateAvailable(e.st.CurrentVersion, d.Version)
	if err != nil {
		e.setState(StateFailed)
		return nil, err
	}

	result := &CheckResult{
		UpdateAvailable: available,
		CurrentVersion:  e.st.CurrentVersion,
		Descriptor:      d,
	}

	if d.MinimumVersion != "" {
		mandatory, err := version.IsUpdateMandatory(e.st.CurrentVersion, d.MinimumVersion)
		if err != nil {
			e.setState(StateFailed)
			return nil, err
		}
		result.Mandatory = mandatory
	}

	if !available {
		e.setState(StateUpToDate)
	} else {
		e.setState(StateUpdateAvailable)
	}

	return result, nil
}

// PerformUpdate runs the mutating half of the pipeline for a descriptor
// obtained from CheckForUpdate. Returns the terminal state reached:
// StateDone on success, StateRolledBack when installation failed but the
// previous version was restored, StateFailed otherwise (inspect the error
// with errors.Is against the package taxonomy).
//
// Only one attempt may be in flight per installation; concurrent calls fail
// immediately with ErrUpdateInProgress. Cancellation is honored through the
// download only: once backup begins, the pipeline runs to a terminal state.
func (e *Executor) PerformUpdate(ctx context.Context, d *manifest.Descriptor) (State, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return StateFailed, ErrUpdateInProgress
	}
	defer e.busy.Store(false)

	if err := os.MkdirAll(e.st.BackupRoot, 0755); err != nil {
		return StateFailed, fmt.Errorf("failed to create backup directory: %w", err)
	}

	// Cross-process guard: two interleaved backup/replace sequences against
	// the same tree would corrupt the rollback invariant.
	lock := flock.New(filepath.Join(e.st.BackupRoot, updateLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return StateFailed, fmt.Errorf("failed to acquire update lock: %w", err)
	}
	if !locked {
		return StateFailed, ErrUpdateInProgress
	}
	defer func() { _ = lock.Unlock() }()

	// An absent digest aborts before the artifact is ever requested.
	if err := integrity.CheckDigest(d.SHA256); err != nil {
		e.setState(StateFailed)
		return StateFailed, err
	}

	workDir, err := os.MkdirTemp("", "scribeup-")
	if err != nil {
		e.setState(StateFailed)
		return StateFailed, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	artifactPath, err := e.fetchVerified(ctx, d, workDir)
	if err != nil {
		e.setState(StateFailed)
		return StateFailed, err
	}

	// Mutation boundary. From here the pipeline ignores cancellation and
	// runs to a terminal state.
	e.setState(StateBackingUp)

	if err := install.EnsureStopped(e.st.Root); err != nil {
		e.setState(StateFailed)
		return StateFailed, err
	}

	snap, err := e.backups.Create(e.st.Root, e.st.CurrentVersion, "pre-update to "+d.Version)
	if err != nil {
		e.setState(StateFailed)
		return StateFailed, fmt.Errorf("%w: %v", ErrBackupCreationFailed, err)
	}

	e.setState(StateInstalling)

	if err := e.installArtifact(artifactPath, d); err != nil {
		return e.rollback(snap, err)
	}

	e.st.CurrentVersion = d.Version
	e.st.Manifest = d

	e.setState(StateDone)
	return StateDone, nil
}

// fetchVerified downloads the artifact and verifies its digest, retrying the
// whole cycle up to the configured bound. A mismatched artifact is discarded
// before the next attempt.
func (e *Executor) fetchVerified(ctx context.Context, d *manifest.Descriptor, workDir string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("update cancelled: %w", err)
		}

		e.setState(StateDownloading)
		path, err := e.fetcher.Artifact(ctx, d.DownloadURL, workDir, e.downloadProgress)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			lastErr = err
			continue
		}

		e.setState(StateVerifying)
		ok, err := integrity.VerifyFile(path, d.SHA256)
		if err != nil {
			_ = os.Remove(path)
			lastErr = err
			continue
		}
		if !ok {
			_ = os.Remove(path)
			lastErr = fmt.Errorf("%w: artifact digest does not match %s", ErrIntegrityCheckFailed, d.SHA256)
			continue
		}

		return path, nil
	}

	return "", lastErr
}

// downloadProgress forwards download percentages to the observer.
func (e *Executor) downloadProgress(percent float64) {
	if e.observe != nil {
		e.observe(Event{Kind: EventDownloadProgress, State: StateDownloading, Percent: percent})
	}
}

// installArtifact extracts the verified artifact over the install tree and
// records the new version in the local manifest.
func (e *Executor) installArtifact(artifactPath string, d *manifest.Descriptor) error {
	if err := e.extract(artifactPath, e.st.Root); err != nil {
		return fmt.Errorf("%w: %v", ErrInstallWriteFailed, err)
	}
	if err := manifest.WriteLocal(e.st.Root, d); err != nil {
		return fmt.Errorf("%w: %v", ErrInstallWriteFailed, err)
	}
	return nil
}

// rollback restores the pre-update snapshot after a failed installation.
// Restoration success yields StateRolledBack with the original failure;
// restoration failure is the fatal ErrRollbackFailed.
func (e *Executor) rollback(snap *backup.Snapshot, cause error) (State, error) {
	if restoreErr := e.backups.Restore(snap.ID, e.st.Root); restoreErr != nil {
		e.setState(StateFailed)
		return StateFailed, fmt.Errorf("%w: %v (after %v)", ErrRollbackFailed, restoreErr, cause)
	}

	e.setState(StateRolledBack)
	return StateRolledBack, fmt.Errorf("update rolled back: %w", cause)
}

// Busy reports whether an update attempt is currently in flight.
func (e *Executor) Busy() bool {
	return e.busy.Load()
}
