// Package hashing computes content digests for backup files: a streaming
// SHA-256 over fixed 64 KiB chunks so memory use stays flat regardless
// of file size, plus a cheap, non-persisted fingerprint for logging.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// BufferSize is the fixed chunk size used while streaming a file through
// the hasher.
const BufferSize = 64 * 1024

// HashFile returns the lowercase hex SHA-256 digest of path's contents, or
// an error if the file could not be opened or read. Callers decide whether
// a failure here means "skip this file" (change detector) or "fatal"
// (nothing in this engine treats it as fatal).
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, BufferSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, err := h.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("hashing: write digest for %s: %w", path, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("hashing: read %s: %w", path, readErr)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// QuickFingerprint combines a file's size and modification-time
// nanoseconds into a short string for logging and debugging only. It is
// never persisted to the catalog and never used as a substitute for the
// digest comparisons in internal/changedetect.
func QuickFingerprint(size int64, mtimeNanos int64) string {
	return fmt.Sprintf("%d:%d", size, mtimeNanos)
}
