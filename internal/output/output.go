// Package output handles formatting command results in different formats.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Writer renders command results in the configured format.
type Writer struct {
	format Format
	w      io.Writer
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{format: format, w: w}
}

// Write outputs the given value in the configured format. Text mode uses
// the value's String method when it has one.
func (w *Writer) Write(v interface{}) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w.w)
		enc.SetIndent(2)
		return enc.Encode(v)
	default:
		if s, ok := v.(fmt.Stringer); ok {
			_, err := fmt.Fprintln(w.w, s.String())
			return err
		}
		_, err := fmt.Fprintf(w.w, "%+v\n", v)
		return err
	}
}

// ParseFormat parses a format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// CheckReport is the result of `scribeup check`.
type CheckReport struct {
	CurrentVersion  string   `json:"current_version" yaml:"current_version"`
	LatestVersion   string   `json:"latest_version" yaml:"latest_version"`
	UpdateAvailable bool     `json:"update_available" yaml:"update_available"`
	Mandatory       bool     `json:"mandatory" yaml:"mandatory"`
	ReleaseDate     string   `json:"release_date,omitempty" yaml:"release_date,omitempty"`
	Changelog       []string `json:"changelog,omitempty" yaml:"changelog,omitempty"`
}

func (r CheckReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Installed: %s\n", r.CurrentVersion)
	fmt.Fprintf(&b, "Latest:    %s\n", r.LatestVersion)
	switch {
	case !r.UpdateAvailable:
		b.WriteString("Scribe is up to date.")
	case r.Mandatory:
		b.WriteString("A mandatory update is available.")
	default:
		b.WriteString("An update is available.")
	}
	if r.ReleaseDate != "" {
		fmt.Fprintf(&b, "\nReleased:  %s", r.ReleaseDate)
	}
	if len(r.Changelog) > 0 {
		b.WriteString("\n\nChanges:")
		for _, line := range r.Changelog {
			fmt.Fprintf(&b, "\n  - %s", line)
		}
	}
	return b.String()
}

// UpdateReport is the result of `scribeup update`.
type UpdateReport struct {
	PreviousVersion string `json:"previous_version" yaml:"previous_version"`
	NewVersion      string `json:"new_version" yaml:"new_version"`
	Outcome         string `json:"outcome" yaml:"outcome"`
	BackupID        string `json:"backup_id,omitempty" yaml:"backup_id,omitempty"`
}

func (r UpdateReport) String() string {
	switch r.Outcome {
	case "up-to-date":
		return fmt.Sprintf("Scribe %s is already up to date.", r.PreviousVersion)
	case "rolled-back":
		return fmt.Sprintf("Update to %s failed; restored %s from backup.", r.NewVersion, r.PreviousVersion)
	default:
		return fmt.Sprintf("Updated Scribe %s -> %s.", r.PreviousVersion, r.NewVersion)
	}
}

// BackupEntry describes one snapshot in `scribeup backup list`.
type BackupEntry struct {
	ID        string `json:"id" yaml:"id"`
	Version   string `json:"version" yaml:"version"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
}

// BackupList is the result of `scribeup backup list`.
type BackupList struct {
	Backups []BackupEntry `json:"backups" yaml:"backups"`
}

func (l BackupList) String() string {
	if len(l.Backups) == 0 {
		return "No backups found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-32s %-12s %s", "ID", "VERSION", "CREATED")
	for _, e := range l.Backups {
		fmt.Fprintf(&b, "\n%-32s %-12s %s", e.ID, e.Version, e.CreatedAt)
	}
	return b.String()
}
