// Package archive is the optional post-processing collaborator the
// backup executor never calls directly: it zips a completed backup
// folder (deflate, level 6) and optionally password-encrypts the zip
// (PBKDF2-HMAC-SHA256 key derivation, per-file random salt, AEAD).
// Its caller is the scheduler's post-processing step, which passes it
// the path of a completed backup folder; archive state never couples
// into a session.
package archive

import (
	"archive/zip"
	"compress/flate"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

func newDeflateWriter(w io.Writer, level int) (io.WriteCloser, error) {
	return flate.NewWriter(w, level)
}

const (
	saltSize   = 16
	kdfIters   = 480_000
	keySize    = 32
	deflateLvl = 6
)

// Zip writes a zip archive of sourceDir (recursively) to destZipPath
// using deflate at a fixed compression level.
func Zip(sourceDir, destZipPath string) error {
	out, err := os.Create(destZipPath)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", destZipPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return newDeflateWriter(w, deflateLvl)
	})
	defer zw.Close()

	err = filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("archive: add entry %s: %w", rel, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("archive: open %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("archive: write entry %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

// Unzip extracts srcZipPath into destDir.
func Unzip(srcZipPath, destDir string) error {
	r, err := zip.OpenReader(srcZipPath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", srcZipPath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		destPath := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("archive: create directory %s: %w", destPath, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("archive: create parent for %s: %w", destPath, err)
		}
		if err := extractOne(f, destPath); err != nil {
			return err
		}
	}
	return nil
}

func extractOne(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("archive: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("archive: extract %s: %w", f.Name, err)
	}
	return nil
}

// EncryptFile reads srcPath, derives a key from password via
// PBKDF2-HMAC-SHA256 with a fresh random salt, and writes
// salt||nonce||ciphertext to destPath using ChaCha20-Poly1305 AEAD.
func EncryptFile(srcPath, destPath, password string) error {
	plaintext, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("archive: read %s: %w", srcPath, err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("archive: generate salt: %w", err)
	}
	key := deriveKey(password, salt)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("archive: init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("archive: generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, 0, saltSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, ciphertext...)
	if err := os.WriteFile(destPath, out, 0o600); err != nil {
		return fmt.Errorf("archive: write %s: %w", destPath, err)
	}
	return nil
}

// DecryptFile reverses EncryptFile.
func DecryptFile(srcPath, destPath, password string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("archive: read %s: %w", srcPath, err)
	}
	if len(data) < saltSize {
		return fmt.Errorf("archive: %s is too short to contain a salt", srcPath)
	}
	salt, rest := data[:saltSize], data[saltSize:]
	key := deriveKey(password, salt)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("archive: init aead: %w", err)
	}
	if len(rest) < aead.NonceSize() {
		return fmt.Errorf("archive: %s is too short to contain a nonce", srcPath)
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("archive: decrypt %s: wrong password or corrupted file: %w", srcPath, err)
	}
	if err := os.WriteFile(destPath, plaintext, 0o644); err != nil {
		return fmt.Errorf("archive: write %s: %w", destPath, err)
	}
	return nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIters, keySize, sha256.New)
}
