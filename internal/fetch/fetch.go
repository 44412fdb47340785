// Package fetch retrieves update manifests and artifacts over HTTP or from
// the local filesystem.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/scribeapp/scribeup/internal/manifest"
)

var (
	// ErrManifestUnreachable indicates a network or filesystem failure
	// while retrieving the manifest.
	ErrManifestUnreachable = errors.New("manifest unreachable")
	// ErrArtifactUnreachable indicates a network or filesystem failure
	// while retrieving the update artifact.
	ErrArtifactUnreachable = errors.New("artifact unreachable")
	// ErrInsufficientDiskSpace indicates the artifact could not be written
	// to the destination volume.
	ErrInsufficientDiskSpace = errors.New("insufficient disk space")
)

// ProgressFunc receives download progress as a percentage in [0, 100].
// Only called when the total transfer size is known.
type ProgressFunc func(percent float64)

// Client fetches manifests and artifacts. Retry policy belongs to the
// caller; a Client makes exactly one attempt per call.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a fetch client. The timeout applies per request;
// zero means no timeout beyond context cancellation.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "scribeup",
	}
}

// isRemote reports whether source is an HTTP(S) URL rather than a local path.
func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Manifest retrieves and parses a version manifest from a URL or local path.
func (c *Client) Manifest(ctx context.Context, source string) (*manifest.Descriptor, error) {
	var data []byte

	if isRemote(source) {
		body, err := c.get(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifestUnreachable, err)
		}
		defer func() { _ = body.Close() }()

		data, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifestUnreachable, err)
		}
	} else {
		var err error
		data, err = os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifestUnreachable, err)
		}
	}

	d, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", source, err)
	}

	return d, nil
}

// Artifact streams the update artifact to a fresh temporary file in destDir
// and returns its path. A previous successful download is never overwritten
// in place. Cancellation via ctx aborts the transfer and discards partial
// data.
func (c *Client) Artifact(ctx context.Context, source, destDir string, progress ProgressFunc) (string, error) {
	var (
		body io.ReadCloser
		size int64
	)

	if isRemote(source) {
		resp, err := c.get(ctx, source)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrArtifactUnreachable, err)
		}
		body = resp
		size = resp.contentLength
	} else {
		f, err := os.Open(source)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrArtifactUnreachable, err)
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return "", fmt.Errorf("%w: %v", ErrArtifactUnreachable, err)
		}
		body = f
		size = info.Size()
	}
	defer func() { _ = body.Close() }()

	tmp, err := os.CreateTemp(destDir, "scribeup-*"+artifactExt(source))
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	if err := copyWithProgress(ctx, tmp, body, size, progress); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to finalize download: %w", err)
	}

	return tmp.Name(), nil
}

// response pairs a body with the advertised content length.
type response struct {
	io.ReadCloser
	contentLength int64
}

// get issues a GET request and returns the body on a 200 response.
func (c *Client) get(ctx context.Context, url string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return &response{ReadCloser: resp.Body, contentLength: resp.ContentLength}, nil
}

// copyWithProgress copies src to dst, reporting percentage progress when the
// total size is known and honoring context cancellation between chunks.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress ProgressFunc) error {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("download cancelled: %w", err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				if errors.Is(err, syscall.ENOSPC) {
					return fmt.Errorf("%w: %v", ErrInsufficientDiskSpace, err)
				}
				return fmt.Errorf("%w: %v", ErrArtifactUnreachable, err)
			}
			written += int64(n)

			if progress != nil && total > 0 {
				pct := float64(written) / float64(total) * 100
				if pct > 100 {
					pct = 100
				}
				progress(pct)
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("download cancelled: %w", ctx.Err())
			}
			return fmt.Errorf("%w: %v", ErrArtifactUnreachable, readErr)
		}
	}
}

// artifactExt preserves the archive extension of a source URL or path so the
// extraction step can detect the format from the temporary file's name.
func artifactExt(source string) string {
	name := path.Base(strings.SplitN(source, "?", 2)[0])
	switch {
	case strings.HasSuffix(name, ".tar.gz"):
		return ".tar.gz"
	case strings.HasSuffix(name, ".tgz"):
		return ".tgz"
	default:
		return path.Ext(name)
	}
}
