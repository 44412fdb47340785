package update

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"github.com/scribeapp/scribeup/internal/backup"
	"github.com/scribeapp/scribeup/internal/fetch"
	"github.com/scribeapp/scribeup/internal/install"
	"github.com/scribeapp/scribeup/internal/manifest"
)

// buildZip returns an in-memory zip archive of the given entries.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to add zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// seedInstall creates an install tree at 1.0.0 and returns its state.
func seedInstall(t *testing.T, tmpDir string) *install.State {
	t.Helper()

	root := filepath.Join(tmpDir, "install")
	if err := os.MkdirAll(filepath.Join(root, "assets"), 0755); err != nil {
		t.Fatalf("failed to create install root: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "scribe.exe"), []byte("binary v1.0.0"), 0644); err != nil {
		t.Fatalf("failed to seed install: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "assets", "style.css"), []byte("body {}"), 0644); err != nil {
		t.Fatalf("failed to seed install: %v", err)
	}

	local := &manifest.Descriptor{
		Version:     "1.0.0",
		DownloadURL: "https://example.com/scribe-1.0.0.zip",
		SHA256:      digestOf([]byte("v1 artifact")),
	}
	if err := manifest.WriteLocal(root, local); err != nil {
		t.Fatalf("failed to write local manifest: %v", err)
	}

	st, err := install.Load(root, filepath.Join(tmpDir, "backups"))
	if err != nil {
		t.Fatalf("failed to load install state: %v", err)
	}
	return st
}

// readTree returns relative path -> content for all files under root.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()

	tree := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk %s: %v", root, err)
	}
	return tree
}

// releaseServer serves a manifest at /version.json and an artifact at
// /update.zip, counting artifact requests.
type releaseServer struct {
	*httptest.Server
	mu           sync.Mutex
	artifactHits int
}

// newReleaseServer starts a server for one release. manifestJSON may use
// %ARTIFACT_URL% as a placeholder for the served artifact URL.
func newReleaseServer(t *testing.T, manifestJSON string, artifact []byte) *releaseServer {
	t.Helper()

	rs := &releaseServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/version.json":
			body := strings.ReplaceAll(manifestJSON, "%ARTIFACT_URL%", rs.URL+"/update.zip")
			_, _ = w.Write([]byte(body))
		case "/update.zip":
			rs.mu.Lock()
			rs.artifactHits++
			rs.mu.Unlock()
			_, _ = w.Write(artifact)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(rs.Server.Close)
	return rs
}

func (rs *releaseServer) hits() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.artifactHits
}

func releaseManifest(version, digest string) string {
	return fmt.Sprintf(`{
  "version": %q,
  "download_url": "%%ARTIFACT_URL%%",
  "sha256": %q,
  "changelog": ["Improved narration timing"],
  "minimum_version": "1.0.0",
  "critical_update": false
}`, version, digest)
}

// acquireRunLock simulates the application holding its run lock.
func acquireRunLock(t *testing.T, root string) *flock.Flock {
	t.Helper()

	lock := flock.New(filepath.Join(root, install.RunLockName))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("failed to acquire run lock: ok=%v err=%v", ok, err)
	}
	return lock
}

// eventRecorder captures pipeline events.
type eventRecorder struct {
	mu     sync.Mutex
	states []State
	pcts   []float64
}

func (r *eventRecorder) observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Kind {
	case EventStateChanged:
		r.states = append(r.states, ev.State)
	case EventDownloadProgress:
		r.pcts = append(r.pcts, ev.Percent)
	}
}

func (r *eventRecorder) sawState(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}
	return false
}

func TestEndToEndUpdate(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)

	artifact := buildZip(t, map[string]string{
		"scribe.exe":       "binary v1.0.1",
		"assets/style.css": "body { color: red }",
	})
	server := newReleaseServer(t, releaseManifest("1.0.1", digestOf(artifact)), artifact)

	rec := &eventRecorder{}
	exec := NewExecutor(st, server.URL+"/version.json").WithObserver(rec.observe)

	result, err := exec.CheckForUpdate(context.Background())
	if err != nil {
		t.Fatalf("CheckForUpdate() error = %v", err)
	}
	if !result.UpdateAvailable {
		t.Fatal("UpdateAvailable = false, want true")
	}
	if result.Mandatory {
		t.Error("Mandatory = true, want false (minimum_version 1.0.0 <= current)")
	}

	final, err := exec.PerformUpdate(context.Background(), result.Descriptor)
	if err != nil {
		t.Fatalf("PerformUpdate() error = %v", err)
	}
	if final != StateDone {
		t.Fatalf("PerformUpdate() = %s, want %s", final, StateDone)
	}

	// Install tree carries the new files.
	tree := readTree(t, st.Root)
	if tree["scribe.exe"] != "binary v1.0.1" {
		t.Errorf("scribe.exe = %q, want new binary", tree["scribe.exe"])
	}

	// Local manifest reflects the new version.
	local, err := manifest.ReadLocal(st.Root)
	if err != nil {
		t.Fatalf("ReadLocal() error = %v", err)
	}
	if local.Version != "1.0.1" {
		t.Errorf("local manifest version = %s, want 1.0.1", local.Version)
	}
	if st.CurrentVersion != "1.0.1" {
		t.Errorf("state version = %s, want 1.0.1", st.CurrentVersion)
	}

	// A backup of the previous version exists.
	infos, err := backup.NewManager(st.BackupRoot).List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 1 || infos[0].Version != "1.0.0" {
		t.Errorf("backups = %+v, want one snapshot of 1.0.0", infos)
	}

	for _, s := range []State{StateChecking, StateUpdateAvailable, StateDownloading, StateVerifying, StateBackingUp, StateInstalling, StateDone} {
		if !rec.sawState(s) {
			t.Errorf("missing state event %s", s)
		}
	}

	rec.mu.Lock()
	gotProgress := len(rec.pcts) > 0
	rec.mu.Unlock()
	if !gotProgress {
		t.Error("no download progress events delivered")
	}
}

func TestCheckForUpdate_OlderRemote(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)

	artifact := buildZip(t, map[string]string{"scribe.exe": "old"})
	server := newReleaseServer(t, fmt.Sprintf(
		`{"version": "0.9.0", "download_url": "%%ARTIFACT_URL%%", "sha256": %q}`,
		digestOf(artifact)), artifact)

	exec := NewExecutor(st, server.URL+"/version.json")
	result, err := exec.CheckForUpdate(context.Background())
	if err != nil {
		t.Fatalf("CheckForUpdate() error = %v", err)
	}

	if result.UpdateAvailable {
		t.Error("UpdateAvailable = true for an older remote version")
	}
	if server.hits() != 0 {
		t.Errorf("artifact fetched %d times during check, want 0", server.hits())
	}
}

func TestCheckForUpdate_Mandatory(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)

	server := newReleaseServer(t, `{
  "version": "2.0.0",
  "download_url": "https://example.com/update.zip",
  "sha256": "a665a45920422f9d417e4867efdc4fb8a04a1f3fff1fa07e998e86f7f7a27ae3",
  "minimum_version": "1.5.0",
  "critical_update": false
}`, nil)

	exec := NewExecutor(st, server.URL+"/version.json")
	result, err := exec.CheckForUpdate(context.Background())
	if err != nil {
		t.Fatalf("CheckForUpdate() error = %v", err)
	}

	// minimum_version 1.5.0 exceeds current 1.0.0: deferral is not allowed
	// even though critical_update is false.
	if !result.Mandatory {
		t.Error("Mandatory = false, want true")
	}
}

func TestPerformUpdate_MissingDigest(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)

	server := newReleaseServer(t, "", []byte("artifact"))
	d := &manifest.Descriptor{
		Version:     "1.0.1",
		DownloadURL: server.URL + "/update.zip",
		SHA256:      "   ",
	}

	exec := NewExecutor(st, server.URL+"/version.json")
	final, err := exec.PerformUpdate(context.Background(), d)
	if final != StateFailed {
		t.Errorf("PerformUpdate() = %s, want %s", final, StateFailed)
	}
	if !errors.Is(err, ErrMissingIntegrityDigest) {
		t.Errorf("PerformUpdate() error = %v, want ErrMissingIntegrityDigest", err)
	}
	if server.hits() != 0 {
		t.Errorf("artifact fetched %d times despite missing digest, want 0", server.hits())
	}
}

func TestPerformUpdate_IntegrityMismatchRetries(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)
	before := readTree(t, st.Root)

	artifact := buildZip(t, map[string]string{"scribe.exe": "tampered"})
	server := newReleaseServer(t, "", artifact)

	d := &manifest.Descriptor{
		Version:     "1.0.1",
		DownloadURL: server.URL + "/update.zip",
		SHA256:      digestOf([]byte("the real artifact")),
	}

	exec := NewExecutor(st, server.URL+"/version.json").WithMaxRetries(1)
	final, err := exec.PerformUpdate(context.Background(), d)
	if final != StateFailed {
		t.Errorf("PerformUpdate() = %s, want %s", final, StateFailed)
	}
	if !errors.Is(err, ErrIntegrityCheckFailed) {
		t.Errorf("PerformUpdate() error = %v, want ErrIntegrityCheckFailed", err)
	}

	// The fetch-verify cycle ran once plus one retry.
	if server.hits() != 2 {
		t.Errorf("artifact fetched %d times, want 2", server.hits())
	}

	// No filesystem mutation occurred.
	after := readTree(t, st.Root)
	if len(after) != len(before) {
		t.Fatalf("install tree changed: %d files, want %d", len(after), len(before))
	}
	for name, content := range before {
		if after[name] != content {
			t.Errorf("install tree file %s changed", name)
		}
	}
}

// failingBackups wraps a real backup manager with injectable failures.
type failingBackups struct {
	real        *backup.Manager
	failCreate  bool
	failRestore bool
}

func (f *failingBackups) Create(installRoot, version, note string) (*backup.Snapshot, error) {
	if f.failCreate {
		return nil, errors.New("disk quota exceeded")
	}
	return f.real.Create(installRoot, version, note)
}

func (f *failingBackups) Restore(id, installRoot string) error {
	if f.failRestore {
		return errors.New("snapshot unreadable")
	}
	return f.real.Restore(id, installRoot)
}

func TestPerformUpdate_BackupFailureAbortsBeforeMutation(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)
	before := readTree(t, st.Root)

	artifact := buildZip(t, map[string]string{"scribe.exe": "binary v1.0.1"})
	server := newReleaseServer(t, "", artifact)

	d := &manifest.Descriptor{
		Version:     "1.0.1",
		DownloadURL: server.URL + "/update.zip",
		SHA256:      digestOf(artifact),
	}

	exec := NewExecutor(st, server.URL+"/version.json").
		WithBackups(&failingBackups{failCreate: true})

	final, err := exec.PerformUpdate(context.Background(), d)
	if final != StateFailed {
		t.Errorf("PerformUpdate() = %s, want %s", final, StateFailed)
	}
	if !errors.Is(err, ErrBackupCreationFailed) {
		t.Errorf("PerformUpdate() error = %v, want ErrBackupCreationFailed", err)
	}

	after := readTree(t, st.Root)
	for name, content := range before {
		if after[name] != content {
			t.Errorf("install tree file %s changed without a backup", name)
		}
	}
}

func TestPerformUpdate_InstallFailureRollsBack(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)
	before := readTree(t, st.Root)

	artifact := buildZip(t, map[string]string{"scribe.exe": "binary v1.0.1"})
	server := newReleaseServer(t, "", artifact)

	d := &manifest.Descriptor{
		Version:     "1.0.1",
		DownloadURL: server.URL + "/update.zip",
		SHA256:      digestOf(artifact),
	}

	rec := &eventRecorder{}
	exec := NewExecutor(st, server.URL+"/version.json").
		WithObserver(rec.observe).
		WithExtractor(func(src, destDir string) error {
			// Write half an update, then fail, like a mid-replacement I/O error.
			if err := os.WriteFile(filepath.Join(destDir, "scribe.exe"), []byte("binary v1.0.1, trunc"), 0644); err != nil {
				return err
			}
			if err := os.RemoveAll(filepath.Join(destDir, "assets")); err != nil {
				return err
			}
			return errors.New("write error: device reset")
		})

	final, err := exec.PerformUpdate(context.Background(), d)
	if final != StateRolledBack {
		t.Fatalf("PerformUpdate() = %s, want %s", final, StateRolledBack)
	}
	if !errors.Is(err, ErrInstallWriteFailed) {
		t.Errorf("PerformUpdate() error = %v, want ErrInstallWriteFailed", err)
	}
	if !rec.sawState(StateRolledBack) {
		t.Error("missing rolled-back state event")
	}

	// The install tree is byte-identical to its pre-update state.
	after := readTree(t, st.Root)
	if len(after) != len(before) {
		t.Fatalf("restored tree has %d files, want %d", len(after), len(before))
	}
	for name, content := range before {
		if after[name] != content {
			t.Errorf("restored file %s = %q, want %q", name, after[name], content)
		}
	}
}

func TestPerformUpdate_RollbackFailureIsFatal(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)

	artifact := buildZip(t, map[string]string{"scribe.exe": "binary v1.0.1"})
	server := newReleaseServer(t, "", artifact)

	d := &manifest.Descriptor{
		Version:     "1.0.1",
		DownloadURL: server.URL + "/update.zip",
		SHA256:      digestOf(artifact),
	}

	exec := NewExecutor(st, server.URL+"/version.json").
		WithBackups(&failingBackups{real: backup.NewManager(st.BackupRoot), failRestore: true}).
		WithExtractor(func(src, destDir string) error {
			return errors.New("write error")
		})

	final, err := exec.PerformUpdate(context.Background(), d)
	if final != StateFailed {
		t.Errorf("PerformUpdate() = %s, want %s", final, StateFailed)
	}
	if !errors.Is(err, ErrRollbackFailed) {
		t.Errorf("PerformUpdate() error = %v, want ErrRollbackFailed", err)
	}
	if Retryable(err) {
		t.Error("Retryable() = true for a failed rollback")
	}
}

// blockingFetcher parks artifact downloads until released.
type blockingFetcher struct {
	real    Fetcher
	started chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Manifest(ctx context.Context, source string) (*manifest.Descriptor, error) {
	return f.real.Manifest(ctx, source)
}

func (f *blockingFetcher) Artifact(ctx context.Context, source, destDir string, progress fetch.ProgressFunc) (string, error) {
	close(f.started)
	select {
	case <-f.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return f.real.Artifact(ctx, source, destDir, progress)
}

func TestPerformUpdate_ConcurrentAttemptRejected(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)

	artifact := buildZip(t, map[string]string{"scribe.exe": "binary v1.0.1"})
	server := newReleaseServer(t, "", artifact)

	d := &manifest.Descriptor{
		Version:     "1.0.1",
		DownloadURL: server.URL + "/update.zip",
		SHA256:      digestOf(artifact),
	}

	bf := &blockingFetcher{
		real:    fetch.NewClient(0),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	exec := NewExecutor(st, server.URL+"/version.json").WithFetcher(bf)

	type outcome struct {
		state State
		err   error
	}
	first := make(chan outcome, 1)
	go func() {
		s, err := exec.PerformUpdate(context.Background(), d)
		first <- outcome{state: s, err: err}
	}()

	<-bf.started

	// Second attempt while the first is mid-download.
	state, err := exec.PerformUpdate(context.Background(), d)
	if !errors.Is(err, ErrUpdateInProgress) {
		t.Errorf("second PerformUpdate() error = %v, want ErrUpdateInProgress", err)
	}
	if state != StateFailed {
		t.Errorf("second PerformUpdate() = %s, want %s", state, StateFailed)
	}

	close(bf.release)
	got := <-first
	if got.err != nil {
		t.Fatalf("first PerformUpdate() error = %v", got.err)
	}
	if got.state != StateDone {
		t.Errorf("first PerformUpdate() = %s, want %s", got.state, StateDone)
	}
}

func TestPerformUpdate_CancelledDuringDownload(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)
	before := readTree(t, st.Root)

	artifact := buildZip(t, map[string]string{"scribe.exe": "binary v1.0.1"})
	server := newReleaseServer(t, "", artifact)

	d := &manifest.Descriptor{
		Version:     "1.0.1",
		DownloadURL: server.URL + "/update.zip",
		SHA256:      digestOf(artifact),
	}

	bf := &blockingFetcher{
		real:    fetch.NewClient(0),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	defer close(bf.release)

	exec := NewExecutor(st, server.URL+"/version.json").WithFetcher(bf)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-bf.started
		cancel()
	}()

	final, err := exec.PerformUpdate(ctx, d)
	if final != StateFailed {
		t.Errorf("PerformUpdate() = %s, want %s", final, StateFailed)
	}
	if err == nil {
		t.Fatal("PerformUpdate() expected error after cancellation")
	}

	after := readTree(t, st.Root)
	for name, content := range before {
		if after[name] != content {
			t.Errorf("install tree file %s changed after cancelled download", name)
		}
	}
}

func TestPerformUpdate_AppStillRunning(t *testing.T) {
	tmpDir := t.TempDir()
	st := seedInstall(t, tmpDir)

	artifact := buildZip(t, map[string]string{"scribe.exe": "binary v1.0.1"})
	server := newReleaseServer(t, "", artifact)

	d := &manifest.Descriptor{
		Version:     "1.0.1",
		DownloadURL: server.URL + "/update.zip",
		SHA256:      digestOf(artifact),
	}

	exec := NewExecutor(st, server.URL+"/version.json").
		WithExtractor(func(src, destDir string) error {
			t.Error("extractor ran while the application was running")
			return nil
		})

	lock := acquireRunLock(t, st.Root)
	defer func() { _ = lock.Unlock() }()

	final, err := exec.PerformUpdate(context.Background(), d)
	if final != StateFailed {
		t.Errorf("PerformUpdate() = %s, want %s", final, StateFailed)
	}
	if !errors.Is(err, ErrAppRunning) {
		t.Errorf("PerformUpdate() error = %v, want ErrAppRunning", err)
	}
}
