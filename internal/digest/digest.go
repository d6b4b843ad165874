package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// File computes the SHA-256 digest of a file and returns it as a hex-encoded string.
func File(path string) (string, error) {
	file, err := os.Open(path) //nolint:gosec // Path is provided by trusted source
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close() //nolint:errcheck // Deferred close error is non-critical for read operation

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to compute digest: %w", err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Bytes computes the SHA-256 digest of byte data and returns it as a hex-encoded string.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyFile checks if a file matches the expected SHA-256 digest (hex-encoded).
// Returns an error if the digests don't match or if the file cannot be read.
func VerifyFile(path string, expected string) error {
	actual, err := File(path)
	if err != nil {
		return err
	}

	if actual != expected {
		return fmt.Errorf("digest mismatch: expected %s, got %s", expected, actual)
	}

	return nil
}
