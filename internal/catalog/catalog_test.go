package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCreateAndCompleteSession(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	id, err := c.CreateSession(ctx, "/src", "/dst", "full", "Completo_Lunes_1_Enero_0900")
	require.NoError(t, err)
	assert.NotZero(t, id)

	copied := 3
	require.NoError(t, c.UpdateSessionProgress(ctx, id, ProgressUpdate{FilesCopied: &copied}))
	require.NoError(t, c.CompleteSession(ctx, id, "completed", ""))

	sess, err := c.GetLastSession(ctx, "/src", "")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "completed", sess.Status)
	assert.Equal(t, 3, sess.FilesCopied)
	assert.Equal(t, "Completo_Lunes_1_Enero_0900", sess.BackupFolder)
}

func TestGetLastSessionFiltersByModeAndStatus(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	fullID, err := c.CreateSession(ctx, "/src", "/dst", "full", "Completo_a")
	require.NoError(t, err)
	require.NoError(t, c.CompleteSession(ctx, fullID, "completed", ""))

	incID, err := c.CreateSession(ctx, "/src", "/dst", "incremental", "Incremental_b")
	require.NoError(t, err)
	require.NoError(t, c.CompleteSession(ctx, incID, "completed", ""))

	runningID, err := c.CreateSession(ctx, "/src", "/dst", "incremental", "Incremental_c")
	require.NoError(t, err)
	_ = runningID // left running; must not be returned as "last completed"

	last, err := c.GetLastSession(ctx, "/src", "")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, incID, last.ID)

	lastFull, err := c.GetLastSession(ctx, "/src", "full")
	require.NoError(t, err)
	require.NotNil(t, lastFull)
	assert.Equal(t, fullID, lastFull.ID)
}

func TestGetSessionByFolderExactThenSubstring(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	id, err := c.CreateSession(ctx, "/src", "/dst", "full", "Completo_Lunes_1_Enero_0900")
	require.NoError(t, err)
	require.NoError(t, c.CompleteSession(ctx, id, "completed", ""))

	exact, err := c.GetSessionByFolder(ctx, "Completo_Lunes_1_Enero_0900")
	require.NoError(t, err)
	require.NotNil(t, exact)
	assert.Equal(t, id, exact.ID)

	fuzzy, err := c.GetSessionByFolder(ctx, "Lunes_1_Enero")
	require.NoError(t, err)
	require.NotNil(t, fuzzy)
	assert.Equal(t, id, fuzzy.ID)

	none, err := c.GetSessionByFolder(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestManifestBatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	id, err := c.CreateSession(ctx, "/src", "/dst", "full", "Completo_a")
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	entries := []ManifestEntry{
		{RelativePath: "a.txt", Digest: "deadbeef", Size: 3, ModifiedAt: now},
		{RelativePath: "b.txt", Digest: "cafebabe", Size: 5, ModifiedAt: now},
	}
	require.NoError(t, c.StoreManifestBatch(ctx, id, entries))

	manifest, err := c.GetSessionManifest(ctx, id)
	require.NoError(t, err)
	require.Len(t, manifest, 2)
	assert.Equal(t, "deadbeef", manifest["a.txt"].Digest)
	assert.Equal(t, int64(5), manifest["b.txt"].Size)
}

func TestSessionsHistoryOrderedNewestFirstAndBeforeFilter(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := c.CreateSession(ctx, "/src", "/dst", "full", "Completo_"+string(rune('a'+i)))
		require.NoError(t, err)
		require.NoError(t, c.CompleteSession(ctx, id, "completed", ""))
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	history, err := c.GetSessionsHistory(ctx, "/src", nil)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[0], history[2].ID)

	before := history[0].StartedAt
	truncated, err := c.GetSessionsHistory(ctx, "/src", &before)
	require.NoError(t, err)
	assert.Len(t, truncated, 2)
}

func TestCompleteSessionRecordsError(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	id, err := c.CreateSession(ctx, "/src", "/dst", "full", "Completo_a")
	require.NoError(t, err)
	require.NoError(t, c.CompleteSession(ctx, id, "error", "disk full"))

	sess, err := c.GetSessionByFolder(ctx, "Completo_a")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "error", sess.Status)
	assert.Equal(t, "disk full", sess.ErrorMessage)
}

func TestReopenCatalogIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c1, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	id, err := c1.CreateSession(ctx, "/src", "/dst", "full", "Completo_a")
	require.NoError(t, err)
	require.NoError(t, c1.CompleteSession(ctx, id, "completed", ""))
	require.NoError(t, c1.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()

	sess, err := c2.GetLastSession(ctx, "/src", "")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, id, sess.ID)
}
