package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backupvault/internal/backup"
	"backupvault/internal/catalog"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

// Restoring an incremental snapshot pulls the unchanged file's bytes
// from the earlier full folder while the changed file comes from the
// incremental's own folder.
func TestRestoreIncrementalResolvesUnchangedFileFromOlderFolder(t *testing.T) {
	source := t.TempDir()
	destRoot := t.TempDir()
	restoreDir := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "A")
	writeFile(t, filepath.Join(source, "b.txt"), "B")

	cat := newTestCatalog(t)
	exec := backup.NewExecutor(cat)

	_, err := exec.Run(context.Background(), backup.Request{Source: source, Destination: destRoot, Mode: backup.Full}, nil)
	require.NoError(t, err)

	time.Sleep(2 * time.Second)
	writeFile(t, filepath.Join(source, "a.txt"), "A2")
	inc, err := exec.Run(context.Background(), backup.Request{Source: source, Destination: destRoot, Mode: backup.Incremental}, nil)
	require.NoError(t, err)

	resolver := NewResolver(cat)
	result, err := resolver.Run(context.Background(), Request{
		BackupFolderPath: inc.BackupFolder,
		Destination:      restoreDir,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, 2, result.FilesRestored)
	assert.Empty(t, result.Unresolved)

	assert.Equal(t, "A2", readFile(t, filepath.Join(restoreDir, "a.txt")))
	assert.Equal(t, "B", readFile(t, filepath.Join(restoreDir, "b.txt")))
}

// When the older folder holding an unchanged file's bytes has been
// deleted, restore still recovers everything else and reports that file
// as unresolved rather than failing.
func TestRestoreWithDeletedFullFolderYieldsUnresolvedEntry(t *testing.T) {
	source := t.TempDir()
	destRoot := t.TempDir()
	restoreDir := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "A")
	writeFile(t, filepath.Join(source, "b.txt"), "B")

	cat := newTestCatalog(t)
	exec := backup.NewExecutor(cat)

	full, err := exec.Run(context.Background(), backup.Request{Source: source, Destination: destRoot, Mode: backup.Full}, nil)
	require.NoError(t, err)

	time.Sleep(2 * time.Second)
	writeFile(t, filepath.Join(source, "a.txt"), "A2")
	inc, err := exec.Run(context.Background(), backup.Request{Source: source, Destination: destRoot, Mode: backup.Incremental}, nil)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(full.BackupFolder))

	resolver := NewResolver(cat)
	result, err := resolver.Run(context.Background(), Request{
		BackupFolderPath: inc.BackupFolder,
		Destination:      restoreDir,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, 1, result.FilesRestored)
	assert.Equal(t, []string{"b.txt"}, result.Unresolved)

	assert.Equal(t, "A2", readFile(t, filepath.Join(restoreDir, "a.txt")))
	assert.NoFileExists(t, filepath.Join(restoreDir, "b.txt"))
}

func TestRestoreFullBackupRoundTrip(t *testing.T) {
	source := t.TempDir()
	destRoot := t.TempDir()
	restoreDir := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "A")
	writeFile(t, filepath.Join(source, "nested", "b.txt"), "B")

	cat := newTestCatalog(t)
	exec := backup.NewExecutor(cat)
	full, err := exec.Run(context.Background(), backup.Request{Source: source, Destination: destRoot, Mode: backup.Full}, nil)
	require.NoError(t, err)

	resolver := NewResolver(cat)
	result, err := resolver.Run(context.Background(), Request{BackupFolderPath: full.BackupFolder, Destination: restoreDir}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesRestored)
	assert.Equal(t, "A", readFile(t, filepath.Join(restoreDir, "a.txt")))
	assert.Equal(t, "B", readFile(t, filepath.Join(restoreDir, "nested", "b.txt")))
}

func TestRestoreVerifyFlagDetectsMismatch(t *testing.T) {
	source := t.TempDir()
	destRoot := t.TempDir()
	restoreDir := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "A")

	cat := newTestCatalog(t)
	exec := backup.NewExecutor(cat)
	full, err := exec.Run(context.Background(), backup.Request{Source: source, Destination: destRoot, Mode: backup.Full}, nil)
	require.NoError(t, err)

	// Corrupt the stored bytes after the backup completed, before restore.
	writeFile(t, filepath.Join(full.BackupFolder, "a.txt"), "CORRUPTED")

	resolver := NewResolver(cat)
	result, err := resolver.Run(context.Background(), Request{
		BackupFolderPath: full.BackupFolder, Destination: restoreDir, Verify: true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, result.Mismatched)
}

func TestRestoreLegacyFallbackWhenNoCatalogSession(t *testing.T) {
	destRoot := t.TempDir()
	restoreDir := t.TempDir()
	folder := filepath.Join(destRoot, "Completo_Lunes_5_Enero_0900")
	writeFile(t, filepath.Join(folder, "a.txt"), "A")
	writeFile(t, filepath.Join(folder, "sub", "b.txt"), "B")

	cat := newTestCatalog(t)
	resolver := NewResolver(cat)

	result, err := resolver.Run(context.Background(), Request{BackupFolderPath: folder, Destination: restoreDir}, nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, 2, result.FilesRestored)
	assert.Equal(t, "A", readFile(t, filepath.Join(restoreDir, "a.txt")))
	assert.Equal(t, "B", readFile(t, filepath.Join(restoreDir, "sub", "b.txt")))
}
