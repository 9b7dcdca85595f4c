package changedetect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backupvault/internal/catalog"
	"backupvault/internal/hashing"
)

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestDecideFullModeAlwaysCopies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello", time.Now())

	d := Decide(path, true, nil)
	assert.True(t, d.Copy)
	assert.NotEmpty(t, d.Digest)
}

func TestDecideNoReferenceActsLikeFull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello", time.Now())

	d := Decide(path, false, nil)
	assert.True(t, d.Copy)
}

func TestDecideSizeChangedForcesCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	mtime := time.Now().Add(-time.Hour)
	writeFile(t, path, "hello world, longer now", mtime)

	ref := &catalog.ManifestEntry{Digest: "stale", Size: 3, ModifiedAt: mtime}
	d := Decide(path, false, ref)
	assert.True(t, d.Copy)
	assert.NotEqual(t, "stale", d.Digest)
}

func TestDecideUnchangedWithinMtimeTolerance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	mtime := time.Now().Truncate(time.Second)
	writeFile(t, path, "hello", mtime)

	digest, err := hashing.HashFile(path)
	require.NoError(t, err)

	ref := &catalog.ManifestEntry{Digest: digest, Size: 5, ModifiedAt: mtime.Add(200 * time.Millisecond)}
	d := Decide(path, false, ref)
	assert.False(t, d.Copy)
	assert.Equal(t, digest, d.Digest)
}

func TestDecideMtimeDriftButSameContentSkipsCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	oldMtime := time.Now().Add(-24 * time.Hour)
	newMtime := time.Now()
	writeFile(t, path, "hello", newMtime)

	digest, err := hashing.HashFile(path)
	require.NoError(t, err)

	ref := &catalog.ManifestEntry{Digest: digest, Size: 5, ModifiedAt: oldMtime}
	d := Decide(path, false, ref)
	assert.False(t, d.Copy)
	assert.Equal(t, digest, d.Digest)
}

func TestDecideMtimeDriftWithChangedContentCopies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	oldMtime := time.Now().Add(-24 * time.Hour)
	newMtime := time.Now()
	writeFile(t, path, "hello", newMtime)

	ref := &catalog.ManifestEntry{Digest: "not-the-real-digest", Size: 5, ModifiedAt: oldMtime}
	d := Decide(path, false, ref)
	assert.True(t, d.Copy)
}

func TestDecideMissingFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.txt")
	d := Decide(path, false, &catalog.ManifestEntry{Digest: "x", Size: 1})
	assert.True(t, d.Skip)
	assert.False(t, d.Copy)
}
