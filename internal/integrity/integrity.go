// Package integrity verifies downloaded artifacts against an expected
// SHA-256 digest.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMissingDigest is returned when a manifest carries no expected digest.
// An absent digest never means "skip verification"; the update must abort
// before the artifact is downloaded.
var ErrMissingDigest = errors.New("missing integrity digest")

// CheckDigest validates that an expected digest is present and is a
// plausible SHA-256 hex string. Performed before any artifact download.
func CheckDigest(expectedHex string) error {
	trimmed := strings.TrimSpace(expectedHex)
	if trimmed == "" {
		return ErrMissingDigest
	}

	decoded, err := hex.DecodeString(strings.ToLower(trimmed))
	if err != nil {
		return fmt.Errorf("invalid integrity digest %q: %w", expectedHex, err)
	}
	if len(decoded) != sha256.Size {
		return fmt.Errorf("invalid integrity digest length: got %d bytes, want %d", len(decoded), sha256.Size)
	}

	return nil
}

// Verify computes the SHA-256 digest of data and compares it to the
// expected hex string. The comparison is case-insensitive and constant
// time. Returns false on mismatch or on an undecodable expected value.
func Verify(data []byte, expectedHex string) bool {
	sum := sha256.Sum256(data)
	return digestsEqual(sum[:], expectedHex)
}

// VerifyFile streams a file through SHA-256 and compares the result to the
// expected hex string. Returns false (without error) on mismatch; an error
// is only returned on I/O failure while reading the file.
func VerifyFile(path, expectedHex string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("failed to read artifact: %w", err)
	}

	return digestsEqual(h.Sum(nil), expectedHex), nil
}

func digestsEqual(sum []byte, expectedHex string) bool {
	expected, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(expectedHex)))
	if err != nil || len(expected) != len(sum) {
		return false
	}
	return subtle.ConstantTimeCompare(sum, expected) == 1
}
