package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/baecheolhan/sari/pkg/dbwriter"
	"github.com/baecheolhan/sari/pkg/types"
	_ "modernc.org/sqlite"
)

// Store wraps a workspace's SQLite database and implements
// dbwriter.Store against it. A single *sql.DB handles both the lone
// write connection and several read connections, matching SQLite's own
// single-writer model rather than trying to serialize writes in Go.
type Store struct {
	db *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting every
// per-kind write function run either standalone (its own transaction)
// or as one step inside a caller-supplied transaction.
type execer interface {
	Prepare(query string) (*sql.Stmt, error)
	Exec(query string, args ...any) (sql.Result, error)
}

// Open creates (if absent) and migrates the database at path, applying
// the WAL/synchronous/cache PRAGMAs once at startup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=NORMAL`,
		`PRAGMA busy_timeout=15000`,
		`PRAGMA cache_size=-10000`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection pool for read-only callers
// outside this package, namely pkg/search's SQLite-mode engine, which
// needs to run FTS5 MATCH queries the Store interface itself has no
// reason to carry. Callers must not open a write transaction against
// it: the dbwriter goroutine is the only writer, and concurrent
// writers would trip the busy_timeout or corrupt WAL state.
func (s *Store) DB() *sql.DB {
	return s.db
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RunBatch implements dbwriter.Store: it opens one transaction, hands a
// TxStore bound to it to fn, and commits only if fn returns nil. Any
// error rolls the whole transaction back, so a dbwriter batch spanning
// several task kinds either lands entirely or not at all.
func (s *Store) RunBatch(fn func(dbwriter.TxStore) error) error {
	if err := s.ensureStaging(); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore implements dbwriter.TxStore by running every per-kind write
// against the same *sql.Tx, so RunBatch's caller controls the commit.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) DeletePath(path string) error               { return deletePath(t.tx, path) }
func (t *txStore) UpsertFiles(rows []types.File) error         { return upsertFiles(t.tx, rows) }
func (t *txStore) UpsertSymbols(rows []types.Symbol) error     { return upsertSymbols(t.tx, rows) }
func (t *txStore) UpsertRelations(rows []types.Relation) error { return upsertRelations(t.tx, rows) }
func (t *txStore) UpdateLastSeen(paths []string, ts int64) error {
	return updateLastSeen(t.tx, paths, ts)
}
func (t *txStore) UpsertRepoMeta(meta map[string]string) error { return upsertRepoMeta(t.tx, meta) }
func (t *txStore) UpsertSnippets(rows []dbwriter.Snippet) error {
	return upsertSnippets(t.tx, rows)
}
func (t *txStore) UpsertContexts(rows []dbwriter.Context) error {
	return upsertContexts(t.tx, rows)
}
func (t *txStore) DLQUpsert(rows []types.FailedTask) error { return dlqUpsert(t.tx, rows) }
func (t *txStore) DLQClear(paths []string) error            { return dlqClear(t.tx, paths) }
func (t *txStore) UpsertFilesStaging(rows []types.File) error {
	return upsertFilesStaging(t.tx, rows)
}
func (t *txStore) FinalizeTurboBatch() error { return finalizeTurboBatch(t.tx) }

// UpsertFiles implements dbwriter.Store for standalone (non-batch)
// callers, such as the initial scan path and tests; it commits its own
// transaction immediately.
func (s *Store) UpsertFiles(rows []types.File) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertFiles(tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertFiles(ex execer, rows []types.File) error {
	stmt, err := ex.Prepare(`
		INSERT INTO files (path, rel_path, root_id, repo, mtime, size, content, hash,
			fts_content, last_seen_ts, deleted_ts, parse_status, parse_reason, ast_status,
			ast_reason, is_binary, is_minified, sampled, metadata_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(path) DO UPDATE SET
			rel_path=excluded.rel_path, root_id=excluded.root_id, repo=excluded.repo,
			mtime=excluded.mtime, size=excluded.size, content=excluded.content,
			hash=excluded.hash, fts_content=excluded.fts_content,
			last_seen_ts=excluded.last_seen_ts, deleted_ts=0,
			parse_status=excluded.parse_status, parse_reason=excluded.parse_reason,
			ast_status=excluded.ast_status, ast_reason=excluded.ast_reason,
			is_binary=excluded.is_binary, is_minified=excluded.is_minified,
			sampled=excluded.sampled, metadata_json=excluded.metadata_json`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(r.DBPath, r.RelPath, r.RootID, r.Repo, r.Mtime, r.Size, r.Content,
			r.Hash, r.FTSContent, r.LastSeenTS, r.DeletedTS, string(r.ParseStatus), string(r.ParseReason),
			string(r.ASTStatus), string(r.ASTReason), boolToInt(r.IsBinary), boolToInt(r.IsMinified),
			boolToInt(r.Sampled), string(metaJSON)); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSymbols implements dbwriter.Store for standalone callers.
func (s *Store) UpsertSymbols(rows []types.Symbol) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertSymbols(tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertSymbols(ex execer, rows []types.Symbol) error {
	stmt, err := ex.Prepare(`
		INSERT INTO symbols (symbol_id, path, root_id, name, kind, line, end_line, content,
			parent, meta_json, doc_comment, qualname, importance_score)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(symbol_id) DO UPDATE SET
			line=excluded.line, end_line=excluded.end_line, content=excluded.content,
			parent=excluded.parent, meta_json=excluded.meta_json, doc_comment=excluded.doc_comment,
			qualname=excluded.qualname, importance_score=excluded.importance_score`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.SymbolID, r.DBPath, r.RootID, r.Name, r.Kind, r.Line, r.EndLine,
			r.Content, r.Parent, r.MetaJSON, r.Doc, r.Qualname, r.ImportanceScore); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRelations implements dbwriter.Store for standalone callers.
func (s *Store) UpsertRelations(rows []types.Relation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertRelations(tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertRelations(ex execer, rows []types.Relation) error {
	stmt, err := ex.Prepare(`
		INSERT INTO symbol_relations (from_path, from_root_id, from_symbol, from_symbol_id,
			to_path, to_root_id, to_symbol, to_symbol_id, rel_type, line, meta_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.FromPath, r.FromRootID, r.FromSymbol, r.FromSymbolID,
			r.ToPath, r.ToRootID, r.ToSymbol, r.ToSymbolID, string(r.RelType), r.Line, r.Meta); err != nil {
			return err
		}
	}
	return nil
}

// UpdateLastSeen implements dbwriter.Store for standalone callers.
func (s *Store) UpdateLastSeen(paths []string, ts int64) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := updateLastSeen(tx, paths, ts); err != nil {
		return err
	}
	return tx.Commit()
}

func updateLastSeen(ex execer, paths []string, ts int64) error {
	if len(paths) == 0 {
		return nil
	}
	stmt, err := ex.Prepare(`UPDATE files SET last_seen_ts = ? WHERE path = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.Exec(ts, p); err != nil {
			return err
		}
	}
	return nil
}

// DeletePath implements dbwriter.Store: a soft delete, matching the
// original schema's deleted_ts column rather than a row removal, so
// FTS trigger bookkeeping and symbol foreign keys stay consistent.
func (s *Store) DeletePath(path string) error {
	return deletePath(s.db, path)
}

func deletePath(ex execer, path string) error {
	_, err := ex.Exec(`UPDATE files SET deleted_ts = ? WHERE path = ?`, time.Now().Unix(), path)
	return err
}

// UpsertRepoMeta implements dbwriter.Store against the meta_stats
// table, one row per key.
func (s *Store) UpsertRepoMeta(meta map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertRepoMeta(tx, meta); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertRepoMeta(ex execer, meta map[string]string) error {
	stmt, err := ex.Prepare(`
		INSERT INTO meta_stats (key, value, updated_ts) VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_ts=excluded.updated_ts`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for k, v := range meta {
		if _, err := stmt.Exec(k, v); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSnippets implements dbwriter.Store for standalone callers.
func (s *Store) UpsertSnippets(rows []dbwriter.Snippet) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertSnippets(tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertSnippets(ex execer, rows []dbwriter.Snippet) error {
	stmt, err := ex.Prepare(`
		INSERT INTO snippets (tag, root_id, path, start_line, end_line, content, created_ts, updated_ts)
		VALUES (?,?,?,?,?,?,strftime('%s','now'),strftime('%s','now'))
		ON CONFLICT(tag, root_id, path, start_line, end_line) DO UPDATE SET
			content=excluded.content, updated_ts=strftime('%s','now')`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.Tag, r.RootID, r.Path, r.StartLine, r.EndLine, r.Content); err != nil {
			return err
		}
	}
	return nil
}

// UpsertContexts implements dbwriter.Store for standalone callers.
func (s *Store) UpsertContexts(rows []dbwriter.Context) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertContexts(tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertContexts(ex execer, rows []dbwriter.Context) error {
	stmt, err := ex.Prepare(`
		INSERT INTO contexts (topic, content, created_ts, updated_ts)
		VALUES (?,?,strftime('%s','now'),strftime('%s','now'))
		ON CONFLICT(topic) DO UPDATE SET content=excluded.content, updated_ts=strftime('%s','now')`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.Topic, r.Content); err != nil {
			return err
		}
	}
	return nil
}

// DLQUpsert implements dbwriter.Store for standalone callers.
func (s *Store) DLQUpsert(rows []types.FailedTask) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := dlqUpsert(tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func dlqUpsert(ex execer, rows []types.FailedTask) error {
	stmt, err := ex.Prepare(`
		INSERT INTO failed_tasks (path, attempts, last_error, ts, next_retry_ts)
		VALUES (?,?,?,?,?)
		ON CONFLICT(path) DO UPDATE SET
			attempts=excluded.attempts, last_error=excluded.last_error,
			ts=excluded.ts, next_retry_ts=excluded.next_retry_ts`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.DBPath, r.Attempts, r.LastError, r.TS, r.NextRetryTS); err != nil {
			return err
		}
	}
	return nil
}

// DLQClear implements dbwriter.Store for standalone callers.
func (s *Store) DLQClear(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := dlqClear(tx, paths); err != nil {
		return err
	}
	return tx.Commit()
}

func dlqClear(ex execer, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	stmt, err := ex.Prepare(`DELETE FROM failed_tasks WHERE path = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

// UpsertFilesStaging writes rows into an attached in-memory staging
// table, created lazily on first use, for the bulk initial-scan turbo
// path.
func (s *Store) UpsertFilesStaging(rows []types.File) error {
	if err := s.ensureStaging(); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertFilesStaging(tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertFilesStaging(ex execer, rows []types.File) error {
	stmt, err := ex.Prepare(`
		INSERT INTO staging.files (path, rel_path, root_id, repo, mtime, size, content, hash,
			fts_content, last_seen_ts, deleted_ts, parse_status, parse_reason, ast_status,
			ast_reason, is_binary, is_minified, sampled, metadata_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(path) DO UPDATE SET
			rel_path=excluded.rel_path, mtime=excluded.mtime, size=excluded.size,
			content=excluded.content, hash=excluded.hash, fts_content=excluded.fts_content,
			last_seen_ts=excluded.last_seen_ts`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(r.DBPath, r.RelPath, r.RootID, r.Repo, r.Mtime, r.Size, r.Content,
			r.Hash, r.FTSContent, r.LastSeenTS, r.DeletedTS, string(r.ParseStatus), string(r.ParseReason),
			string(r.ASTStatus), string(r.ASTReason), boolToInt(r.IsBinary), boolToInt(r.IsMinified),
			boolToInt(r.Sampled), string(metaJSON)); err != nil {
			return err
		}
	}
	return nil
}

// FinalizeTurboBatch merges the staging table into files with a
// one-shot `INSERT OR REPLACE ... SELECT` (mirroring
// `finalize_turbo_batch`) and then empties staging.files; the staging
// attachment stays in place. Called on the Store directly, the two
// statements do not share a transaction.
func (s *Store) FinalizeTurboBatch() error {
	if err := s.ensureStaging(); err != nil {
		return err
	}
	return finalizeTurboBatch(s.db)
}

func finalizeTurboBatch(ex execer) error {
	if _, err := ex.Exec(`INSERT OR REPLACE INTO main.files SELECT * FROM staging.files`); err != nil {
		return err
	}
	_, err := ex.Exec(`DELETE FROM staging.files`)
	return err
}

func (s *Store) ensureStaging() error {
	var name string
	err := s.db.QueryRow(`SELECT name FROM pragma_database_list WHERE name='staging'`).Scan(&name)
	if err == nil {
		return nil
	}
	if _, err := s.db.Exec(`ATTACH DATABASE ':memory:' AS staging`); err != nil {
		return err
	}
	return copySchemaToStaging(s.db)
}

func copySchemaToStaging(db *sql.DB) error {
	stmt := createTableStatements[filesTableIndex()]
	stmt = strings.Replace(stmt, "CREATE TABLE IF NOT EXISTS files", "CREATE TABLE IF NOT EXISTS staging.files", 1)
	_, err := db.Exec(stmt)
	return err
}

func filesTableIndex() int {
	for i, stmt := range createTableStatements {
		if strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS files (") {
			return i
		}
	}
	return 0
}
