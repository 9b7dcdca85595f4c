// Package catalog is the durable store of backup sessions and the
// per-file manifests they produced. It is the authority the backup
// executor consults to decide what to copy and the restore resolver
// consults to find where each file's bytes live.
//
// The store is a single SQLite file owned by one process. Every write is
// transactional per call; manifest entries are inserted in batches and
// never mutated after their session completes.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"backupvault/internal/logging"
)

// Session is one row of backup_sessions: a single backup attempt.
type Session struct {
	ID           int64
	Source       string
	Destination  string
	Mode         string
	StartedAt    time.Time
	CompletedAt  sql.NullTime
	Status       string
	FilesTotal   int
	FilesCopied  int
	FilesSkipped int
	BytesCopied  int64
	ErrorMessage string
	BackupFolder string
}

// ManifestEntry is one row of file_hashes: the logical description of a
// single file within a session's snapshot.
type ManifestEntry struct {
	RelativePath string
	Digest       string
	Size         int64
	ModifiedAt   time.Time
}

// ProgressUpdate is a partial update to a session's running counters;
// nil fields are left unchanged.
type ProgressUpdate struct {
	FilesTotal   *int
	FilesCopied  *int
	FilesSkipped *int
	BytesCopied  *int64
}

// Catalog wraps the SQLite-backed store. All operations are transactional
// per call; a single process is assumed to own the database file (no
// multi-process writers).
type Catalog struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the catalog database at path and runs
// schema bootstrap plus the one-shot backup_folder migration.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-process writer; avoid sqlite lock contention

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS backup_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_path TEXT NOT NULL,
		dest_path TEXT NOT NULL,
		mode TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL DEFAULT 'running',
		files_total INTEGER NOT NULL DEFAULT 0,
		files_copied INTEGER NOT NULL DEFAULT 0,
		files_skipped INTEGER NOT NULL DEFAULT 0,
		bytes_copied INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		backup_folder TEXT
	);
	CREATE TABLE IF NOT EXISTS file_hashes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES backup_sessions(id),
		relative_path TEXT NOT NULL,
		file_hash TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		modified_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_file_hashes_path ON file_hashes(relative_path);
	CREATE INDEX IF NOT EXISTS idx_file_hashes_session ON file_hashes(session_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_source ON backup_sessions(source_path);
	CREATE INDEX IF NOT EXISTS idx_sessions_folder ON backup_sessions(backup_folder);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("catalog: schema bootstrap: %w", err)
	}

	// One-shot migration: older catalogs predating backup_folder.
	rows, err := c.db.Query(`PRAGMA table_info(backup_sessions)`)
	if err != nil {
		return fmt.Errorf("catalog: inspect schema: %w", err)
	}
	hasFolderColumn := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("catalog: scan table_info: %w", err)
		}
		if name == "backup_folder" {
			hasFolderColumn = true
		}
	}
	rows.Close()
	if !hasFolderColumn {
		if _, err := c.db.Exec(`ALTER TABLE backup_sessions ADD COLUMN backup_folder TEXT`); err != nil {
			return fmt.Errorf("catalog: migrate backup_folder column: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// CreateSession inserts a new running session and returns its ID.
func (c *Catalog) CreateSession(ctx context.Context, source, destination, effectiveMode, folderName string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO backup_sessions (source_path, dest_path, mode, started_at, status, backup_folder)
		VALUES (?, ?, ?, ?, 'running', ?)`,
		source, destination, effectiveMode, time.Now(), folderName)
	if err != nil {
		return 0, fmt.Errorf("catalog: create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("catalog: create session: %w", err)
	}
	logging.Debug().Int64("session_id", id).Str("mode", effectiveMode).Str("folder", folderName).Msg("catalog: session created")
	return id, nil
}

// UpdateSessionProgress applies a partial update to a session's counters.
func (c *Catalog) UpdateSessionProgress(ctx context.Context, sessionID int64, upd ProgressUpdate) error {
	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)

	if upd.FilesTotal != nil {
		sets = append(sets, "files_total = ?")
		args = append(args, *upd.FilesTotal)
	}
	if upd.FilesCopied != nil {
		sets = append(sets, "files_copied = ?")
		args = append(args, *upd.FilesCopied)
	}
	if upd.FilesSkipped != nil {
		sets = append(sets, "files_skipped = ?")
		args = append(args, *upd.FilesSkipped)
	}
	if upd.BytesCopied != nil {
		sets = append(sets, "bytes_copied = ?")
		args = append(args, *upd.BytesCopied)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, sessionID)

	query := "UPDATE backup_sessions SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE id = ?"

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("catalog: update session %d progress: %w", sessionID, err)
	}
	return nil
}

// CompleteSession sets a session's terminal status and completed_at.
func (c *Catalog) CompleteSession(ctx context.Context, sessionID int64, status, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errVal interface{}
	if errMsg != "" {
		errVal = errMsg
	}
	if _, err := c.db.ExecContext(ctx, `
		UPDATE backup_sessions SET completed_at = ?, status = ?, error_message = ? WHERE id = ?`,
		time.Now(), status, errVal, sessionID); err != nil {
		return fmt.Errorf("catalog: complete session %d: %w", sessionID, err)
	}
	return nil
}

// GetLastSession returns the most recent completed session for source,
// optionally filtered to a specific stored (effective) mode. mode="" means
// any mode. Returns (nil, nil) if no session matches.
func (c *Catalog) GetLastSession(ctx context.Context, source, mode string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var row *sql.Row
	if mode != "" {
		row = c.db.QueryRowContext(ctx, `
			SELECT id, source_path, dest_path, mode, started_at, completed_at, status,
			       files_total, files_copied, files_skipped, bytes_copied, error_message, backup_folder
			FROM backup_sessions
			WHERE source_path = ? AND mode = ? AND status = 'completed'
			ORDER BY completed_at DESC LIMIT 1`, source, mode)
	} else {
		row = c.db.QueryRowContext(ctx, `
			SELECT id, source_path, dest_path, mode, started_at, completed_at, status,
			       files_total, files_copied, files_skipped, bytes_copied, error_message, backup_folder
			FROM backup_sessions
			WHERE source_path = ? AND status = 'completed'
			ORDER BY completed_at DESC LIMIT 1`, source)
	}
	return scanSession(row)
}

// GetSessionByFolder finds a session whose backup_folder matches
// folderName exactly, falling back to a substring match for legacy
// renamed/moved folders.
func (c *Catalog) GetSessionByFolder(ctx context.Context, folderName string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	row := c.db.QueryRowContext(ctx, `
		SELECT id, source_path, dest_path, mode, started_at, completed_at, status,
		       files_total, files_copied, files_skipped, bytes_copied, error_message, backup_folder
		FROM backup_sessions WHERE backup_folder = ? LIMIT 1`, folderName)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	row = c.db.QueryRowContext(ctx, `
		SELECT id, source_path, dest_path, mode, started_at, completed_at, status,
		       files_total, files_copied, files_skipped, bytes_copied, error_message, backup_folder
		FROM backup_sessions WHERE backup_folder LIKE ? LIMIT 1`, "%"+folderName+"%")
	return scanSession(row)
}

// GetSessionsHistory returns completed sessions for source, newest first,
// optionally restricted to those started strictly before 'before'.
func (c *Catalog) GetSessionsHistory(ctx context.Context, source string, before *time.Time) ([]Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	query := `
		SELECT id, source_path, dest_path, mode, started_at, completed_at, status,
		       files_total, files_copied, files_skipped, bytes_copied, error_message, backup_folder
		FROM backup_sessions WHERE source_path = ? AND status = 'completed'`
	args := []interface{}{source}
	if before != nil {
		query += " AND started_at < ?"
		args = append(args, *before)
	}
	query += " ORDER BY started_at DESC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: sessions history for %s: %w", source, err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// StoreManifestBatch appends manifest entries for a session. Entries are
// append-only and immutable once the session completes.
func (c *Catalog) StoreManifestBatch(ctx context.Context, sessionID int64, entries []ManifestEntry) error {
	if len(entries) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin manifest batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_hashes (session_id, relative_path, file_hash, file_size, modified_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("catalog: prepare manifest batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, sessionID, e.RelativePath, e.Digest, e.Size, e.ModifiedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("catalog: insert manifest entry %s: %w", e.RelativePath, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit manifest batch: %w", err)
	}
	logging.Debug().Int64("session_id", sessionID).Int("entries", len(entries)).Msg("catalog: manifest batch stored")
	return nil
}

// GetSessionManifest returns the full manifest of a session keyed by
// relative path.
func (c *Catalog) GetSessionManifest(ctx context.Context, sessionID int64) (map[string]ManifestEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, `
		SELECT relative_path, file_hash, file_size, modified_at
		FROM file_hashes WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("catalog: manifest for session %d: %w", sessionID, err)
	}
	defer rows.Close()

	out := make(map[string]ManifestEntry)
	for rows.Next() {
		var e ManifestEntry
		if err := rows.Scan(&e.RelativePath, &e.Digest, &e.Size, &e.ModifiedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan manifest entry: %w", err)
		}
		out[e.RelativePath] = e
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row *sql.Row) (*Session, error) {
	return scanSessionGeneric(row)
}

func scanSessionRows(rows *sql.Rows) (*Session, error) {
	return scanSessionGeneric(rows)
}

func scanSessionGeneric(s rowScanner) (*Session, error) {
	var sess Session
	var completedAt sql.NullTime
	var errMsg sql.NullString
	var folder sql.NullString

	err := s.Scan(
		&sess.ID, &sess.Source, &sess.Destination, &sess.Mode, &sess.StartedAt, &completedAt, &sess.Status,
		&sess.FilesTotal, &sess.FilesCopied, &sess.FilesSkipped, &sess.BytesCopied, &errMsg, &folder,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: scan session: %w", err)
	}
	sess.CompletedAt = completedAt
	sess.ErrorMessage = errMsg.String
	sess.BackupFolder = folder.String
	return &sess, nil
}
