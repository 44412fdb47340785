// Package manifest parses and writes the version manifest that describes a
// release: the version identifier, where to download the artifact, and the
// digest to verify it against.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scribeapp/scribeup/internal/version"
)

// LocalName is the manifest file shipped alongside the installed application.
// It is the source of truth for the currently installed version.
const LocalName = "version.json"

// ErrMalformed is returned when a manifest is missing required fields or is
// not valid JSON.
var ErrMalformed = errors.New("malformed manifest")

// Descriptor is the parsed representation of a version manifest.
type Descriptor struct {
	Version        string   `json:"version"`
	ReleaseDate    string   `json:"release_date,omitempty"`
	DownloadURL    string   `json:"download_url"`
	SHA256         string   `json:"sha256"`
	Changelog      []string `json:"changelog,omitempty"`
	MinimumVersion string   `json:"minimum_version,omitempty"`
	CriticalUpdate bool     `json:"critical_update"`
}

// Parse decodes and validates manifest JSON. A Descriptor is only returned
// when all required fields are present and the version strings parse; no
// partially populated descriptor ever escapes this boundary.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := d.validate(); err != nil {
		return nil, err
	}

	return &d, nil
}

// validate checks required fields and version syntax.
func (d *Descriptor) validate() error {
	if d.Version == "" {
		return fmt.Errorf("%w: missing version", ErrMalformed)
	}
	if d.DownloadURL == "" {
		return fmt.Errorf("%w: missing download_url", ErrMalformed)
	}
	if d.SHA256 == "" {
		return fmt.Errorf("%w: missing sha256", ErrMalformed)
	}

	if _, err := version.Parse(d.Version); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	if d.MinimumVersion != "" {
		if _, err := version.Parse(d.MinimumVersion); err != nil {
			return fmt.Errorf("minimum_version: %w", err)
		}
	}

	return nil
}

// ReadLocal loads the local manifest from an install directory.
func ReadLocal(dir string) (*Descriptor, error) {
	path := filepath.Join(dir, LocalName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read local manifest: %w", err)
	}

	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("local manifest %s: %w", path, err)
	}

	return d, nil
}

// WriteLocal records a descriptor as the install directory's local manifest.
// Called after a successful update so the next run sees the new version.
func WriteLocal(dir string, d *Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, LocalName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write local manifest: %w", err)
	}

	return nil
}
