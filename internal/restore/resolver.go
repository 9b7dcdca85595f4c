// Package restore implements the chain resolver: given a target backup
// folder, it reconstructs the logical snapshot by walking the chain of
// prior sessions for that source and copying each manifest entry's bytes
// from the newest session that actually has them on disk. Folders with no
// catalog session fall back to a verbatim copy, so restores survive
// catalog loss.
package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"backupvault/internal/catalog"
	"backupvault/internal/hashing"
	"backupvault/internal/logging"
	"backupvault/internal/progress"
)

// Request describes one restore invocation.
type Request struct {
	// BackupFolderPath is the absolute path to the snapshot's backup
	// folder, e.g. <destination>/Completo_Lunes_5_Enero_0900.
	BackupFolderPath string
	Destination      string
	// Verify enables the optional post-copy digest verification pass.
	Verify bool
}

// Result is the terminal outcome of a restore invocation.
type Result struct {
	FilesTotal    int
	FilesRestored int
	Unresolved    []string
	Mismatched    []string // Verify-only: files whose restored bytes didn't match the recorded digest
	Status        string   // completed | cancelled | error
	Error         string
}

// Resolver runs restores against a shared catalog.
type Resolver struct {
	Catalog *catalog.Catalog
}

// NewResolver constructs a Resolver bound to cat.
func NewResolver(cat *catalog.Catalog) *Resolver {
	return &Resolver{Catalog: cat}
}

// Run restores req.BackupFolderPath's logical snapshot into
// req.Destination, preferring the catalog-driven chain resolution and
// falling back to a verbatim folder copy when no catalog session matches.
func (r *Resolver) Run(ctx context.Context, req Request, rep *progress.Reporter) (*Result, error) {
	folderName := filepath.Base(req.BackupFolderPath)
	session, err := r.Catalog.GetSessionByFolder(ctx, folderName)
	if err != nil {
		return nil, fmt.Errorf("restore: lookup session for folder %s: %w", folderName, err)
	}

	if session == nil {
		logging.Warn().Str("folder", folderName).Msg("restore: no catalog session matched, falling back to verbatim folder copy")
		return r.runLegacy(ctx, req, rep)
	}
	return r.runCatalogDriven(ctx, req, session, rep)
}

func (r *Resolver) runCatalogDriven(ctx context.Context, req Request, session *catalog.Session, rep *progress.Reporter) (*Result, error) {
	manifest, err := r.Catalog.GetSessionManifest(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("restore: manifest for session %d: %w", session.ID, err)
	}

	history, err := r.Catalog.GetSessionsHistory(ctx, session.Source, &session.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("restore: history for %s: %w", session.Source, err)
	}
	chain := append([]catalog.Session{*session}, history...)

	rootBackupDir := filepath.Dir(req.BackupFolderPath)
	result := &Result{FilesTotal: len(manifest)}

	processed := 0
	for rel, entry := range manifest {
		if ctx.Err() != nil {
			result.Status = "cancelled"
			r.emitTerminal(rep, result)
			return result, nil
		}
		processed++

		srcPath, found := locateInChain(chain, rootBackupDir, rel)
		if !found {
			result.Unresolved = append(result.Unresolved, rel)
			if rep != nil {
				rep.Send(progress.Event{Update: &progress.Update{CurrentFile: rel, FilesTotal: result.FilesTotal, FilesProcessed: processed}})
			}
			continue
		}

		destPath := filepath.Join(req.Destination, rel)
		if err := copyPreservingMetadata(srcPath, destPath); err != nil {
			logging.Warn().Err(err).Str("path", rel).Msg("restore: copy failed, treating as unresolved")
			result.Unresolved = append(result.Unresolved, rel)
			continue
		}
		result.FilesRestored++

		if req.Verify {
			digest, err := hashing.HashFile(destPath)
			if err != nil || digest != entry.Digest {
				result.Mismatched = append(result.Mismatched, rel)
				logging.Warn().Str("path", rel).Msg("restore: verified-but-differs")
			}
		}

		if rep != nil {
			rep.Send(progress.Event{Update: &progress.Update{
				CurrentFile: rel, FilesTotal: result.FilesTotal, FilesProcessed: processed,
				FilesCopied: result.FilesRestored,
			}})
		}
	}

	result.Status = "completed"
	r.emitTerminal(rep, result)
	logging.Info().Int64("session_id", session.ID).Int("restored", result.FilesRestored).
		Int("unresolved", len(result.Unresolved)).Msg("restore: finished")
	return result, nil
}

// locateInChain probes the chain newest-first (chain[0] is the target
// session itself) for rel's physical bytes.
func locateInChain(chain []catalog.Session, rootBackupDir, rel string) (string, bool) {
	for _, sess := range chain {
		if sess.BackupFolder == "" {
			continue
		}
		candidate := filepath.Join(rootBackupDir, sess.BackupFolder, rel)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// runLegacy copies a backup folder's contents verbatim, for folders with
// no matching catalog session (catalog loss, or a folder moved/renamed
// beyond the substring-match fallback).
func (r *Resolver) runLegacy(ctx context.Context, req Request, rep *progress.Reporter) (*Result, error) {
	var files []string
	err := filepath.WalkDir(req.BackupFolderPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restore: walk legacy folder %s: %w", req.BackupFolderPath, err)
	}

	result := &Result{FilesTotal: len(files)}
	for i, path := range files {
		if ctx.Err() != nil {
			result.Status = "cancelled"
			r.emitTerminal(rep, result)
			return result, nil
		}

		rel, err := filepath.Rel(req.BackupFolderPath, path)
		if err != nil {
			result.Unresolved = append(result.Unresolved, path)
			continue
		}
		destPath := filepath.Join(req.Destination, rel)
		if err := copyPreservingMetadata(path, destPath); err != nil {
			logging.Warn().Err(err).Str("path", rel).Msg("restore: legacy copy failed")
			result.Unresolved = append(result.Unresolved, rel)
			continue
		}
		result.FilesRestored++

		if rep != nil {
			rep.Send(progress.Event{Update: &progress.Update{
				CurrentFile: rel, FilesTotal: result.FilesTotal, FilesProcessed: i + 1, FilesCopied: result.FilesRestored,
			}})
		}
	}

	result.Status = "completed"
	r.emitTerminal(rep, result)
	return result, nil
}

func (r *Resolver) emitTerminal(rep *progress.Reporter, result *Result) {
	if rep == nil {
		return
	}
	rep.Send(progress.Event{Terminal: &progress.Terminal{
		Status:     result.Status,
		Error:      result.Error,
		Unresolved: result.Unresolved,
	}})
}

// copyPreservingMetadata copies src to dst via a temp-file-then-rename,
// preserving the source's modification time and permission bits.
func copyPreservingMetadata(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	buf := make([]byte, 64*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(tmp)
				return fmt.Errorf("write temp file: %w", werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("read source: %w", rerr)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chtimes(tmp, info.ModTime(), info.ModTime()); err != nil {
		logging.Warn().Err(err).Str("path", dst).Msg("restore: failed to preserve mtime")
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
