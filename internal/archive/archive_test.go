package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestZipUnzipRoundTrip(t *testing.T) {
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "hello")
	writeFile(t, filepath.Join(source, "sub", "b.txt"), "world")

	zipPath := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, Zip(source, zipPath))

	extractDir := t.TempDir()
	require.NoError(t, Unzip(zipPath, extractDir))

	a, err := os.ReadFile(filepath.Join(extractDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(a))

	b, err := os.ReadFile(filepath.Join(extractDir, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(b))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "plain.bin")
	writeFile(t, plainPath, "secret contents")

	encPath := filepath.Join(dir, "plain.bin.enc")
	require.NoError(t, EncryptFile(plainPath, encPath, "correct horse battery staple"))

	encrypted, err := os.ReadFile(encPath)
	require.NoError(t, err)
	assert.NotContains(t, string(encrypted), "secret contents")

	decPath := filepath.Join(dir, "plain.bin.dec")
	require.NoError(t, DecryptFile(encPath, decPath, "correct horse battery staple"))

	decrypted, err := os.ReadFile(decPath)
	require.NoError(t, err)
	assert.Equal(t, "secret contents", string(decrypted))
}

func TestDecryptWithWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "plain.bin")
	writeFile(t, plainPath, "secret contents")

	encPath := filepath.Join(dir, "plain.bin.enc")
	require.NoError(t, EncryptFile(plainPath, encPath, "right-password"))

	_, err := os.Stat(encPath)
	require.NoError(t, err)

	decPath := filepath.Join(dir, "plain.bin.dec")
	err = DecryptFile(encPath, decPath, "wrong-password")
	assert.Error(t, err)
}

func TestEncryptedFileBeginsWithSaltOfExpectedSize(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "plain.bin")
	writeFile(t, plainPath, "x")

	encPath := filepath.Join(dir, "plain.bin.enc")
	require.NoError(t, EncryptFile(plainPath, encPath, "pw"))

	data, err := os.ReadFile(encPath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(data), saltSize)
}
