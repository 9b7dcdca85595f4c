package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFolderName(t *testing.T) {
	// Wednesday 2026-01-07 09:00 UTC.
	when := time.Date(2026, time.January, 7, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, "Completo_Miercoles_7_Enero_0900", FolderName(Full, when))
	assert.Equal(t, "Incremental_Miercoles_7_Enero_0900", FolderName(Incremental, when))
	assert.Equal(t, "Diferencial_Miercoles_7_Enero_0900", FolderName(Differential, when))
}

func TestFolderNameSundayMapsToIndexSix(t *testing.T) {
	sunday := time.Date(2026, time.January, 4, 15, 30, 0, 0, time.UTC)
	name := FolderName(Full, sunday)
	assert.Contains(t, name, "Domingo")
}

func TestDisambiguateNoCollision(t *testing.T) {
	dir := t.TempDir()
	name, err := Disambiguate(dir, "Completo_Lunes_5_Enero_0900")
	require.NoError(t, err)
	assert.Equal(t, "Completo_Lunes_5_Enero_0900", name)
}

func TestDisambiguateAppendsSuffixOnCollision(t *testing.T) {
	dir := t.TempDir()
	base := "Completo_Lunes_5_Enero_0900"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, base), 0o755))

	name, err := Disambiguate(dir, base)
	require.NoError(t, err)
	assert.Equal(t, base+"_2", name)
}

func TestDisambiguateSkipsMultipleCollisions(t *testing.T) {
	dir := t.TempDir()
	base := "Completo_Lunes_5_Enero_0900"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, base), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, base+"_2"), 0o755))

	name, err := Disambiguate(dir, base)
	require.NoError(t, err)
	assert.Equal(t, base+"_3", name)
}
