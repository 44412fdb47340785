package update

import (
	"errors"

	"github.com/scribeapp/scribeup/internal/fetch"
	"github.com/scribeapp/scribeup/internal/install"
	"github.com/scribeapp/scribeup/internal/integrity"
	"github.com/scribeapp/scribeup/internal/manifest"
	"github.com/scribeapp/scribeup/internal/version"
)

// The full error taxonomy of an update attempt, usable with errors.Is.
// Errors raised by the leaf packages are re-exported here so callers can
// match against a single vocabulary.
var (
	ErrInvalidVersionFormat   = version.ErrInvalidFormat
	ErrManifestUnreachable    = fetch.ErrManifestUnreachable
	ErrManifestMalformed      = manifest.ErrMalformed
	ErrArtifactUnreachable    = fetch.ErrArtifactUnreachable
	ErrInsufficientDiskSpace  = fetch.ErrInsufficientDiskSpace
	ErrMissingIntegrityDigest = integrity.ErrMissingDigest
	ErrAppRunning             = install.ErrAppRunning

	// ErrIntegrityCheckFailed indicates the downloaded artifact's digest
	// did not match the manifest. The artifact is discarded; the install
	// tree is untouched.
	ErrIntegrityCheckFailed = errors.New("integrity check failed")

	// ErrBackupCreationFailed indicates the pre-update snapshot could not
	// be created. Fatal to the attempt: files are never replaced without a
	// verified backup.
	ErrBackupCreationFailed = errors.New("backup creation failed")

	// ErrInstallWriteFailed indicates a failure while replacing install
	// tree files. Triggers an automatic rollback attempt.
	ErrInstallWriteFailed = errors.New("install write failed")

	// ErrRollbackFailed is the most severe error class: the install tree
	// may be in a half-updated state requiring manual intervention.
	ErrRollbackFailed = errors.New("rollback failed")

	// ErrUpdateInProgress indicates another update attempt is already
	// running against this installation.
	ErrUpdateInProgress = errors.New("update already in progress")
)

// Retryable reports whether an error is safe to retry later without manual
// intervention. Everything except a failed rollback qualifies.
func Retryable(err error) bool {
	return !errors.Is(err, ErrRollbackFailed)
}
