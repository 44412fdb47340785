// Package backup handles snapshot and restore operations for the install tree.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// treeDirName is the subdirectory of a snapshot holding the copied install tree.
const treeDirName = "tree"

// metadataName is the per-snapshot metadata file.
const metadataName = "metadata.json"

// Snapshot represents a single backup of the install tree.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
	Note      string    `json:"note,omitempty"`
}

// Info provides summary information about a snapshot for listing.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
	Note      string    `json:"note,omitempty"`
	Size      int64     `json:"size"`
}

// Manager handles backup operations against a backup directory.
type Manager struct {
	backupDir string
}

// NewManager creates a backup manager rooted at backupDir.
func NewManager(backupDir string) *Manager {
	return &Manager{backupDir: backupDir}
}

// BackupDir returns the backup directory path.
func (m *Manager) BackupDir() string {
	return m.backupDir
}

// Create copies the entire install tree into a new timestamped snapshot,
// tagged with the version it preserves. Nothing in installRoot is modified.
// A partially written snapshot is removed on failure.
func (m *Manager) Create(installRoot, version, note string) (*Snapshot, error) {
	if err := os.MkdirAll(m.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := time.Now()
	snap := &Snapshot{
		ID:        fmt.Sprintf("%s-%s", version, now.Format("20060102-150405")),
		CreatedAt: now,
		Version:   version,
		Note:      note,
	}

	snapDir := filepath.Join(m.backupDir, snap.ID)
	if _, err := os.Stat(snapDir); err == nil {
		return nil, fmt.Errorf("snapshot already exists: %s", snap.ID)
	}

	if err := copyTree(installRoot, filepath.Join(snapDir, treeDirName)); err != nil {
		_ = os.RemoveAll(snapDir)
		return nil, fmt.Errorf("failed to copy install tree: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		_ = os.RemoveAll(snapDir)
		return nil, fmt.Errorf("failed to marshal snapshot metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snapDir, metadataName), data, 0644); err != nil {
		_ = os.RemoveAll(snapDir)
		return nil, fmt.Errorf("failed to write snapshot metadata: %w", err)
	}

	return snap, nil
}

// Restore replaces the install tree with a snapshot's contents, reversing a
// failed update. The existing (possibly half-mutated) tree is discarded.
func (m *Manager) Restore(id, installRoot string) error {
	snap, err := m.Get(id)
	if err != nil {
		return err
	}

	treeDir := filepath.Join(m.backupDir, snap.ID, treeDirName)
	if _, err := os.Stat(treeDir); err != nil {
		return fmt.Errorf("snapshot tree unreadable: %w", err)
	}

	if err := os.RemoveAll(installRoot); err != nil {
		return fmt.Errorf("failed to clear install tree: %w", err)
	}
	if err := copyTree(treeDir, installRoot); err != nil {
		return fmt.Errorf("failed to restore install tree: %w", err)
	}

	return nil
}

// List returns all snapshots sorted by creation time, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		snap, err := m.loadSnapshot(entry.Name())
		if err != nil {
			continue
		}

		size, _ := dirSize(filepath.Join(m.backupDir, entry.Name()))
		infos = append(infos, Info{
			ID:        snap.ID,
			CreatedAt: snap.CreatedAt,
			Version:   snap.Version,
			Note:      snap.Note,
			Size:      size,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})

	return infos, nil
}

// Get retrieves a snapshot by ID. Use "latest" for the most recent one.
func (m *Manager) Get(id string) (*Snapshot, error) {
	if id == "latest" {
		infos, err := m.List()
		if err != nil {
			return nil, err
		}
		if len(infos) == 0 {
			return nil, fmt.Errorf("no backups found")
		}
		id = infos[0].ID
	}

	return m.loadSnapshot(id)
}

// Delete removes a snapshot by ID.
func (m *Manager) Delete(id string) error {
	snapDir := filepath.Join(m.backupDir, id)
	if _, err := os.Stat(snapDir); os.IsNotExist(err) {
		return fmt.Errorf("backup not found: %s", id)
	}

	if err := os.RemoveAll(snapDir); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}

	return nil
}

// loadSnapshot reads and parses a snapshot's metadata.
func (m *Manager) loadSnapshot(id string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(m.backupDir, id, metadataName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("backup not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read snapshot metadata: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot metadata: %w", err)
	}

	return &snap, nil
}

// copyTree recursively copies the directory tree at src to dst, preserving
// file modes.
func copyTree(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	if err := os.MkdirAll(dst, srcInfo.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}

		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}

	return nil
}

// copyFile copies a single regular file, preserving its mode.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}

	return out.Close()
}

// dirSize totals the size of all regular files under dir.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
