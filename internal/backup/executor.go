// Package backup implements the backup-strategy decision engine: the
// state machine that walks a source tree, asks internal/changedetect
// what needs copying, writes the new manifest through internal/catalog,
// and reports progress through internal/progress. It supports three
// strategies (full/incremental/differential) with promote-to-full
// fallback when the reference chain is broken on disk.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"backupvault/internal/catalog"
	"backupvault/internal/changedetect"
	"backupvault/internal/diskspace"
	"backupvault/internal/logging"
	"backupvault/internal/progress"
)

// safetyMarginBytes is the fixed padding added to the estimated source
// size before comparing against free space on the destination volume.
// A fixed minimum cushion rather than a percentage, since small backups
// still need headroom.
const safetyMarginBytes = 10 * 1024 * 1024

// flushEvery is how many processed files trigger a manifest/counter
// checkpoint in the catalog.
const flushEvery = 100

// Request describes one backup invocation.
type Request struct {
	Source      string
	Destination string
	Mode        Mode
	// Workers bounds the internal per-file worker pool. Zero means
	// runtime.NumCPU().
	Workers int
}

// Result is the terminal outcome of a backup invocation.
type Result struct {
	SessionID     int64
	EffectiveMode Mode
	BackupFolder  string
	FilesTotal    int
	FilesCopied   int
	FilesSkipped  int
	BytesCopied   int64
	Status        string // completed | cancelled | error
	Error         string
	Duration      time.Duration
}

// Executor runs backup sessions against a shared catalog.
type Executor struct {
	Catalog *catalog.Catalog
}

// NewExecutor constructs an Executor bound to cat.
func NewExecutor(cat *catalog.Catalog) *Executor {
	return &Executor{Catalog: cat}
}

// Run executes req to completion (or cancellation via ctx), emitting
// progress through rep if non-nil. The returned error is non-nil only for
// failures before any catalog session is created (preflight validation,
// reference lookup, backup folder naming or creation, session creation);
// all later failure modes are reported in Result.
func (e *Executor) Run(ctx context.Context, req Request, rep *progress.Reporter) (*Result, error) {
	start := time.Now()

	// Catalog I/O must outlive cancellation: a cancelled session still has
	// to flush its partial manifest and record status=cancelled.
	dbCtx := context.WithoutCancel(ctx)

	if err := validate(req); err != nil {
		return nil, err
	}
	warnIfTight(req.Source, req.Destination)

	effectiveMode, referenceManifest, err := e.resolveReference(dbCtx, req)
	if err != nil {
		return nil, fmt.Errorf("backup: resolve reference: %w", err)
	}

	folderName := FolderName(effectiveMode, start)
	folderName, err = Disambiguate(req.Destination, folderName)
	if err != nil {
		return nil, fmt.Errorf("backup: disambiguate folder name: %w", err)
	}
	backupPath := filepath.Join(req.Destination, folderName)
	if err := os.MkdirAll(backupPath, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create backup folder %s: %w", backupPath, err)
	}

	sessionID, err := e.Catalog.CreateSession(dbCtx, req.Source, req.Destination, string(effectiveMode), folderName)
	if err != nil {
		return nil, fmt.Errorf("backup: create session: %w", err)
	}

	logging.Info().Int64("session_id", sessionID).Str("mode", string(effectiveMode)).
		Str("folder", folderName).Str("source", req.Source).Msg("backup: session started")

	result := &Result{SessionID: sessionID, EffectiveMode: effectiveMode, BackupFolder: backupPath}

	files, walkErrs := enumerateFiles(req.Source)
	for _, werr := range walkErrs {
		logging.Warn().Err(werr).Msg("backup: walk error")
	}
	result.FilesTotal = len(files)

	filesTotal := result.FilesTotal
	if err := e.Catalog.UpdateSessionProgress(dbCtx, sessionID, catalog.ProgressUpdate{FilesTotal: &filesTotal}); err != nil {
		return finalizeError(dbCtx, e.Catalog, rep, result, start, err)
	}

	if effectiveMode == Full {
		if err := precreateDirectories(req.Source, backupPath); err != nil {
			logging.Warn().Err(err).Msg("backup: pre-create directories")
		}
	}

	status, procErr := e.processFiles(ctx, dbCtx, req, files, effectiveMode, referenceManifest, backupPath, sessionID, result, rep)
	if procErr != nil {
		return finalizeError(dbCtx, e.Catalog, rep, result, start, procErr)
	}

	result.Status = status
	result.Duration = time.Since(start)
	if err := e.Catalog.CompleteSession(dbCtx, sessionID, status, ""); err != nil {
		logging.Error().Err(err).Msg("backup: complete session")
	}

	if rep != nil {
		rep.Send(progress.Event{Terminal: &progress.Terminal{
			Status: status, SessionID: sessionID, BackupFolder: backupPath,
		}})
	}
	logging.Info().Int64("session_id", sessionID).Str("status", status).
		Int("copied", result.FilesCopied).Int("skipped", result.FilesSkipped).Msg("backup: session finished")
	return result, nil
}

func validate(req Request) error {
	info, err := os.Stat(req.Source)
	if err != nil {
		return fmt.Errorf("backup: source %s does not exist: %w", req.Source, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup: source %s is not a directory", req.Source)
	}
	srcAbs, err1 := filepath.Abs(req.Source)
	dstAbs, err2 := filepath.Abs(req.Destination)
	if err1 == nil && err2 == nil && srcAbs == dstAbs {
		return fmt.Errorf("backup: source and destination must differ")
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("backup: invalid mode %q", req.Mode)
	}
	return nil
}

// warnIfTight estimates the source tree's size and compares it against
// free space on the destination volume, logging a warning (never a hard
// failure, since for incremental/differential the real copy volume is
// usually far smaller than the full source).
func warnIfTight(source, destination string) {
	var total int64
	filepath.WalkDir(source, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, ierr := d.Info(); ierr == nil {
			total += info.Size()
		}
		return nil
	})
	free, err := diskspace.Free(destination)
	if err != nil {
		logging.Warn().Err(err).Msg("backup: could not determine free disk space")
		return
	}
	if total+safetyMarginBytes > int64(free) {
		logging.Warn().Int64("estimated_bytes", total).Uint64("free_bytes", free).
			Msg("backup: destination free space is tight for the estimated source size")
	}
}

// resolveReference picks the reference session for the declared mode
// (incremental: last completed session of any mode; differential: last
// completed full), validates that its physical folder is still present
// under the destination root, and promotes to full when it isn't.
// Restoring from a broken chain is strictly worse than a redundant full
// backup, so the on-disk check is unconditional.
func (e *Executor) resolveReference(ctx context.Context, req Request) (Mode, map[string]catalog.ManifestEntry, error) {
	if req.Mode == Full {
		return Full, nil, nil
	}

	lookupMode := ""
	if req.Mode == Differential {
		lookupMode = string(Full)
	}
	ref, err := e.Catalog.GetLastSession(ctx, req.Source, lookupMode)
	if err != nil {
		return Full, nil, err
	}
	if ref == nil {
		logging.Warn().Str("source", req.Source).Msg("backup: no previous backup found, promoting to full")
		return Full, nil, nil
	}
	if ref.BackupFolder == "" {
		logging.Warn().Int64("session_id", ref.ID).Msg("backup: legacy reference session has no folder name, promoting to full")
		return Full, nil, nil
	}
	refPath := filepath.Join(req.Destination, ref.BackupFolder)
	if _, err := os.Stat(refPath); err != nil {
		logging.Warn().Str("folder", ref.BackupFolder).Msg("backup: reference backup folder missing on disk, promoting to full")
		return Full, nil, nil
	}

	manifest, err := e.Catalog.GetSessionManifest(ctx, ref.ID)
	if err != nil {
		return Full, nil, err
	}
	logging.Info().Int64("reference_session_id", ref.ID).Str("mode", string(req.Mode)).Msg("backup: using reference session")
	return req.Mode, manifest, nil
}

func enumerateFiles(root string) ([]string, []error) {
	var files []string
	var errs []error
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	return files, errs
}

func precreateDirectories(source, backupPath string) error {
	return filepath.WalkDir(source, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(source, path)
		if relErr != nil {
			return nil
		}
		return os.MkdirAll(filepath.Join(backupPath, rel), 0o755)
	})
}

type fileOutcome struct {
	relPath string
	copied  bool
	skipped bool
	size    int64
	digest  string
	mtime   time.Time
}

// processFiles runs the bounded worker pool over the enumerated files,
// each worker consulting internal/changedetect and copying bytes when
// needed, and drains results on the caller goroutine so manifest batching
// and counter updates stay single-threaded. ctx carries cancellation for
// the per-file work; dbCtx is used for catalog writes so a cancelled
// session can still flush its residual batch.
func (e *Executor) processFiles(
	ctx context.Context,
	dbCtx context.Context,
	req Request,
	files []string,
	effectiveMode Mode,
	referenceManifest map[string]catalog.ManifestEntry,
	backupPath string,
	sessionID int64,
	result *Result,
	rep *progress.Reporter,
) (string, error) {
	workers := req.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 1 {
			workers = 1
		}
	}

	jobs := make(chan string, workers*2)
	results := make(chan fileOutcome, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				results <- e.processOne(req.Source, path, effectiveMode, referenceManifest, backupPath)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, f := range files {
			select {
			case jobs <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var batch []catalog.ManifestEntry
	processed := 0
	cancelled := false

	flush := func() error {
		if len(batch) > 0 {
			if err := e.Catalog.StoreManifestBatch(dbCtx, sessionID, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
		copied, skipped, bytesCopied := result.FilesCopied, result.FilesSkipped, result.BytesCopied
		return e.Catalog.UpdateSessionProgress(dbCtx, sessionID, catalog.ProgressUpdate{
			FilesCopied: &copied, FilesSkipped: &skipped, BytesCopied: &bytesCopied,
		})
	}

	for outcome := range results {
		if ctx.Err() != nil {
			cancelled = true
		}

		processed++
		if outcome.copied {
			result.FilesCopied++
			result.BytesCopied += outcome.size
		} else {
			result.FilesSkipped++
		}
		if !outcome.skipped {
			batch = append(batch, catalog.ManifestEntry{
				RelativePath: outcome.relPath, Digest: outcome.digest, Size: outcome.size, ModifiedAt: outcome.mtime,
			})
		}

		if rep != nil {
			rep.Send(progress.Event{Update: &progress.Update{
				CurrentFile: outcome.relPath, FilesTotal: result.FilesTotal, FilesProcessed: processed,
				FilesCopied: result.FilesCopied, FilesSkipped: result.FilesSkipped, BytesCopied: result.BytesCopied,
			}})
		}

		if processed%flushEvery == 0 {
			if err := flush(); err != nil {
				return "", err
			}
		}
	}

	if err := flush(); err != nil {
		return "", err
	}

	if cancelled || ctx.Err() != nil {
		return "cancelled", nil
	}
	return "completed", nil
}

func (e *Executor) processOne(
	sourceRoot, path string, effectiveMode Mode, referenceManifest map[string]catalog.ManifestEntry, backupPath string,
) fileOutcome {
	rel, err := filepath.Rel(sourceRoot, path)
	if err != nil {
		return fileOutcome{skipped: true}
	}

	var ref *catalog.ManifestEntry
	if effectiveMode != Full {
		if entry, ok := referenceManifest[rel]; ok {
			ref = &entry
		}
	}

	decision := changedetect.Decide(path, effectiveMode == Full, ref)
	if decision.Skip {
		logging.Warn().Str("path", rel).Msg("backup: could not read file, skipping")
		return fileOutcome{relPath: rel, skipped: true}
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return fileOutcome{relPath: rel, skipped: true}
	}

	if !decision.Copy {
		return fileOutcome{relPath: rel, copied: false, size: info.Size(), digest: decision.Digest, mtime: info.ModTime()}
	}

	dest := filepath.Join(backupPath, rel)
	if err := copyFile(path, dest); err != nil {
		logging.Warn().Err(err).Str("path", rel).Msg("backup: copy failed, skipping")
		return fileOutcome{relPath: rel, skipped: true}
	}
	return fileOutcome{relPath: rel, copied: true, size: info.Size(), digest: decision.Digest, mtime: info.ModTime()}
}

// copyFile copies src to dst atomically (via a temp file + rename),
// preserving modification time and, where supported, permission bits.
// The digest is already known from changedetect.Decide, so no hashing
// happens here.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp := dst + ".tmp"
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy bytes: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chtimes(tmp, info.ModTime(), info.ModTime()); err != nil {
		logging.Warn().Err(err).Str("path", dst).Msg("backup: failed to preserve mtime")
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func finalizeError(ctx context.Context, cat *catalog.Catalog, rep *progress.Reporter, result *Result, start time.Time, err error) (*Result, error) {
	result.Status = "error"
	result.Error = err.Error()
	result.Duration = time.Since(start)
	if completeErr := cat.CompleteSession(ctx, result.SessionID, "error", err.Error()); completeErr != nil {
		logging.Error().Err(completeErr).Msg("backup: failed to record error status")
	}
	if rep != nil {
		rep.Send(progress.Event{Terminal: &progress.Terminal{
			Status: "error", Error: err.Error(), SessionID: result.SessionID, BackupFolder: result.BackupFolder,
		}})
	}
	logging.Error().Err(err).Int64("session_id", result.SessionID).Msg("backup: session failed")
	return result, nil
}
