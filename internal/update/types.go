package update

import (
	"context"

	"github.com/scribeapp/scribeup/internal/backup"
	"github.com/scribeapp/scribeup/internal/fetch"
	"github.com/scribeapp/scribeup/internal/manifest"
)

// Fetcher retrieves manifests and artifacts.
type Fetcher interface {
	Manifest(ctx context.Context, source string) (*manifest.Descriptor, error)
	Artifact(ctx context.Context, source, destDir string, progress fetch.ProgressFunc) (string, error)
}

// BackupStore snapshots the install tree and restores it on failure.
type BackupStore interface {
	Create(installRoot, version, note string) (*backup.Snapshot, error)
	Restore(id, installRoot string) error
}

// CheckResult describes the outcome of an update check.
type CheckResult struct {
	UpdateAvailable bool
	Mandatory       bool
	CurrentVersion  string
	Descriptor      *manifest.Descriptor
}

// EventKind discriminates progress events.
type EventKind int

const (
	// EventStateChanged reports the pipeline entering a new state.
	EventStateChanged EventKind = iota
	// EventDownloadProgress reports download percentage while downloading.
	EventDownloadProgress
)

// Event is a progress notification from the pipeline. Events are delivered
// synchronously on the goroutine running the pipeline; observers that feed
// a UI must hand them off to their own context.
type Event struct {
	Kind    EventKind
	State   State
	Percent float64
}

// Observer receives progress events.
type Observer func(Event)
