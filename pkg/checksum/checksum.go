// Package checksum provides SHA-256 helpers used for the intake audit trail.
// Every accepted archive is hashed before extraction so the log line for a
// publish can be correlated with the exact artifact bytes that produced it,
// whether they arrived by direct upload or from the build system.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// SHA256 computes the hex-encoded SHA-256 digest of everything read from r.
func SHA256(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SHA256File computes the hex-encoded SHA-256 digest of the file at path.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return SHA256(f)
}
