// Package archive extracts update packages into an install tree.
// Supports the formats the release pipeline produces: .zip and .tar.gz.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for artifacts that are not .zip or
// .tar.gz archives.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// Extract unpacks the archive at src into destDir, creating directories as
// needed. The format is detected from the file extension, falling back to
// the file's magic bytes when the name carries no usable extension (download
// URLs do not always end in one).
func Extract(src, destDir string) error {
	switch {
	case strings.HasSuffix(src, ".zip"):
		return extractZip(src, destDir)
	case strings.HasSuffix(src, ".tar.gz"), strings.HasSuffix(src, ".tgz"):
		return extractTarGz(src, destDir)
	}

	switch sniffFormat(src) {
	case formatZip:
		return extractZip(src, destDir)
	case formatTarGz:
		return extractTarGz(src, destDir)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(src))
	}
}

type format int

const (
	formatUnknown format = iota
	formatZip
	formatTarGz
)

// sniffFormat inspects the leading magic bytes: "PK\x03\x04" for zip,
// 0x1f 0x8b for gzip.
func sniffFormat(src string) format {
	f, err := os.Open(src)
	if err != nil {
		return formatUnknown
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return formatUnknown
	}

	switch {
	case magic[0] == 'P' && magic[1] == 'K' && magic[2] == 0x03 && magic[3] == 0x04:
		return formatZip
	case magic[0] == 0x1f && magic[1] == 0x8b:
		return formatTarGz
	default:
		return formatUnknown
	}
}

// securePath resolves an archive entry name inside destDir, rejecting
// absolute names and path traversal.
func securePath(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return filepath.Join(destDir, cleaned), nil
}

func extractZip(src, destDir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer func() { _ = r.Close() }()

	for _, file := range r.File {
		target, err := securePath(destDir, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open archive entry %s: %w", file.Name, err)
		}

		if err := writeEntry(target, rc, file.Mode()); err != nil {
			_ = rc.Close()
			return err
		}
		_ = rc.Close()
	}

	return nil
}

func extractTarGz(src, destDir string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar stream: %w", err)
		}

		target, err := securePath(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			if err := writeEntry(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		default:
			// Symlinks and special files are not part of release archives.
			continue
		}
	}
}

// writeEntry writes one extracted file, truncating any existing file at the
// target path.
func writeEntry(target string, src io.Reader, mode os.FileMode) error {
	dst, err := os.OpenFile(target, os.O_RDWR|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	return dst.Close()
}
