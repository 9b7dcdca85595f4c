// Package changedetect decides, for a single live source file and an
// optional reference manifest entry, whether the backup executor must
// copy the file and which digest to record for it. The check is cheap
// metadata first (size, then modification time within a tolerance), with
// a confirming content hash only when the metadata is ambiguous.
package changedetect

import (
	"os"
	"time"

	"backupvault/internal/catalog"
	"backupvault/internal/hashing"
)

// mtimeTolerance is the window within which two modification times are
// treated as equal, absorbing filesystem timestamp granularity across
// platforms. Two writes within the same second may go undetected unless
// the size also changes.
const mtimeTolerance = time.Second

// Decision is the outcome of evaluating one file against its reference.
type Decision struct {
	// Copy indicates the executor must copy the file's bytes.
	Copy bool
	// Digest is the content digest to record in the new manifest entry.
	// Empty when Skip is true.
	Digest string
	// Skip indicates the file could not be stat'd or hashed and should be
	// counted as skipped without a manifest entry.
	Skip bool
}

// Decide evaluates a live source file against the requested mode and an
// optional reference manifest entry. A nil ref covers both "no reference
// manifest at all" (full mode, or promoted-to-full) and "this path has no
// entry in the reference manifest"; both degrade to a full per-file copy,
// so the signature takes the already-resolved entry rather than the whole
// manifest.
func Decide(path string, full bool, ref *catalog.ManifestEntry) Decision {
	if full || ref == nil {
		digest, err := hashing.HashFile(path)
		if err != nil {
			return Decision{Skip: true}
		}
		return Decision{Copy: true, Digest: digest}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Decision{Skip: true}
	}

	if info.Size() != ref.Size {
		digest, err := hashing.HashFile(path)
		if err != nil {
			return Decision{Skip: true}
		}
		return Decision{Copy: true, Digest: digest}
	}

	if absDuration(info.ModTime().Sub(ref.ModifiedAt)) < mtimeTolerance {
		// Size matches, mtime matches within tolerance: reuse the
		// recorded digest without rehashing a quiescent file.
		return Decision{Copy: false, Digest: ref.Digest}
	}

	digest, err := hashing.HashFile(path)
	if err != nil {
		return Decision{Skip: true}
	}
	if digest == ref.Digest {
		// mtime moved (e.g. a tool touched the file) but content didn't.
		return Decision{Copy: false, Digest: digest}
	}
	return Decision{Copy: true, Digest: digest}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
