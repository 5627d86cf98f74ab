package storage

import (
	"database/sql"

	"github.com/baecheolhan/sari/pkg/types"
)

// AllFilesForEngine streams every undeleted file's path, root, and
// content for one root (or every root when rootID is ""), the read
// path a search engine rebuild reconstructs its index from.
func (s *Store) AllFilesForEngine(rootID string) ([]types.File, error) {
	query := `SELECT path, root_id, repo, content, fts_content FROM files WHERE deleted_ts = 0`
	args := []any{}
	if rootID != "" {
		query += ` AND root_id = ?`
		args = append(args, rootID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.File
	for rows.Next() {
		var f types.File
		if err := rows.Scan(&f.DBPath, &f.RootID, &f.Repo, &f.Content, &f.FTSContent); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// StalePaths returns every undeleted path under rootID whose
// last_seen_ts falls behind sinceTS, the set scan_once soft-deletes
// once a full pass has observed everything currently on disk.
func (s *Store) StalePaths(rootID string, sinceTS int64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT path FROM files WHERE root_id = ? AND deleted_ts = 0 AND last_seen_ts < ?`,
		rootID, sinceTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FileStat is the lightweight (mtime, size) pair scan_once compares
// against the filesystem to decide whether a file needs re-indexing.
type FileStat struct {
	Mtime int64
	Size  int64
}

// FileStatByPath returns the last recorded (mtime, size) for dbPath, or
// ok=false if the path has no row (or is soft-deleted).
func (s *Store) FileStatByPath(dbPath string) (FileStat, bool, error) {
	var fs FileStat
	err := s.db.QueryRow(`
		SELECT mtime, size FROM files WHERE path = ? AND deleted_ts = 0`, dbPath).
		Scan(&fs.Mtime, &fs.Size)
	if err != nil {
		if err == sql.ErrNoRows {
			return FileStat{}, false, nil
		}
		return FileStat{}, false, err
	}
	return fs, true, nil
}

// DueFailedTasks returns every DLQ row whose next_retry_ts has elapsed,
// the set the DLQ retry loop re-enqueues as INDEX tasks each poll.
func (s *Store) DueFailedTasks(now int64) ([]types.FailedTask, error) {
	rows, err := s.db.Query(`
		SELECT path, attempts, last_error, ts, next_retry_ts FROM failed_tasks
		WHERE next_retry_ts <= ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.FailedTask
	for rows.Next() {
		var t types.FailedTask
		if err := rows.Scan(&t.DBPath, &t.Attempts, &t.LastError, &t.TS, &t.NextRetryTS); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FailedTaskCount reports the current DLQ depth, read by the metrics
// collector to set the sari_dlq_depth gauge.
func (s *Store) FailedTaskCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT count(*) FROM failed_tasks`).Scan(&n)
	return n, err
}

// FailedTaskAttempts returns the attempt count already recorded for
// dbPath, or 0 if it has no dead-letter row yet. The DLQ retry loop
// uses this to pick up the ladder where a prior cycle left off rather
// than resetting to rung one on every failure.
func (s *Store) FailedTaskAttempts(dbPath string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT attempts FROM failed_tasks WHERE path = ?`, dbPath).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}
