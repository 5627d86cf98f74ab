package storage

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is the schema version this package creates on a
// fresh database and migrates every older database up to.
const CurrentSchemaVersion = 5

const createSchemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_ts INTEGER NOT NULL
)`

var createTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS roots (
		root_id TEXT PRIMARY KEY,
		root_path TEXT NOT NULL,
		real_path TEXT,
		last_scan_ts INTEGER DEFAULT 0,
		file_count INTEGER DEFAULT 0,
		symbol_count INTEGER DEFAULT 0,
		config_json TEXT,
		label TEXT,
		state TEXT DEFAULT 'ready',
		created_ts INTEGER,
		updated_ts INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		rel_path TEXT NOT NULL,
		root_id TEXT NOT NULL,
		repo TEXT,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL,
		content BLOB,
		hash TEXT,
		fts_content TEXT,
		last_seen_ts INTEGER DEFAULT 0,
		deleted_ts INTEGER DEFAULT 0,
		parse_status TEXT DEFAULT 'ok',
		parse_reason TEXT DEFAULT 'none',
		ast_status TEXT DEFAULT 'skipped',
		ast_reason TEXT DEFAULT 'none',
		is_binary INTEGER DEFAULT 0,
		is_minified INTEGER DEFAULT 0,
		sampled INTEGER DEFAULT 0,
		metadata_json TEXT DEFAULT '{}',
		FOREIGN KEY(root_id) REFERENCES roots(root_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_root ON files(root_id)`,
	`CREATE INDEX IF NOT EXISTS idx_files_rel_path ON files(rel_path)`,
	`CREATE TABLE IF NOT EXISTS symbols (
		symbol_id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		root_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		content TEXT,
		parent TEXT,
		meta_json TEXT,
		doc_comment TEXT,
		qualname TEXT,
		importance_score REAL DEFAULT 0.0,
		FOREIGN KEY(path) REFERENCES files(path) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_path ON symbols(path)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name)`,
	`CREATE TABLE IF NOT EXISTS symbol_relations (
		from_path TEXT NOT NULL,
		from_root_id TEXT NOT NULL,
		from_symbol TEXT NOT NULL,
		from_symbol_id TEXT,
		to_path TEXT NOT NULL,
		to_root_id TEXT NOT NULL,
		to_symbol TEXT NOT NULL,
		to_symbol_id TEXT,
		rel_type TEXT NOT NULL,
		line INTEGER,
		meta_json TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_symbol_relations_identity ON symbol_relations(
		from_path, from_root_id, from_symbol, IFNULL(from_symbol_id, ''),
		to_path, to_root_id, to_symbol, IFNULL(to_symbol_id, ''),
		rel_type, IFNULL(line, -1), IFNULL(meta_json, '')
	)`,
	`CREATE INDEX IF NOT EXISTS idx_symbol_relations_to_symbol ON symbol_relations(to_symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_symbol_relations_to_symbol_id ON symbol_relations(to_symbol_id)`,
	`CREATE INDEX IF NOT EXISTS idx_symbol_relations_from_symbol ON symbol_relations(from_symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_symbol_relations_from_symbol_id ON symbol_relations(from_symbol_id)`,
	`CREATE TABLE IF NOT EXISTS contexts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT UNIQUE,
		content TEXT NOT NULL,
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS snippets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tag TEXT NOT NULL,
		root_id TEXT NOT NULL,
		path TEXT NOT NULL,
		start_line INTEGER,
		end_line INTEGER,
		content TEXT,
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL,
		UNIQUE(tag, root_id, path, start_line, end_line)
	)`,
	`CREATE TABLE IF NOT EXISTS snippet_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		snippet_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_ts INTEGER NOT NULL,
		FOREIGN KEY(snippet_id) REFERENCES snippets(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snippet_versions_snippet_id ON snippet_versions(snippet_id)`,
	`CREATE TABLE IF NOT EXISTS failed_tasks (
		path TEXT PRIMARY KEY,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		ts INTEGER,
		next_retry_ts INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS meta_stats (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_ts INTEGER
	)`,
}

// initSchema creates every table if absent, migrates an existing
// database up to CurrentSchemaVersion, and ensures the FTS5 shadow
// table and its sync triggers exist.
func initSchema(db *sql.DB) error {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking schema_version: %w", err)
	}

	if exists == 0 {
		if err := createAllTables(db); err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO schema_version(version, applied_ts) VALUES (?, strftime('%s','now'))`, CurrentSchemaVersion); err != nil {
			return fmt.Errorf("seeding schema_version: %w", err)
		}
	} else {
		if err := migrate(db); err != nil {
			return err
		}
	}

	return initFTS(db)
}

func createAllTables(db *sql.DB) error {
	if _, err := db.Exec(createSchemaVersionTable); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}
	for _, stmt := range createTableStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// migrate applies the version ladder to an existing database. Each
// step best-effort-applies: a column or table that already exists is
// not an error, matching the original's tolerant ALTER/CREATE-IF retry
// pattern for databases that were hand-patched or partially migrated.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		version = 1
	}

	if version < 2 {
		_, _ = db.Exec(`ALTER TABLE symbols ADD COLUMN importance_score REAL DEFAULT 0.0`)
	}
	if version < 3 {
		_, _ = db.Exec(`ALTER TABLE roots ADD COLUMN file_count INTEGER DEFAULT 0`)
		_, _ = db.Exec(`ALTER TABLE roots ADD COLUMN symbol_count INTEGER DEFAULT 0`)
		_, _ = db.Exec(`CREATE TABLE IF NOT EXISTS meta_stats (key TEXT PRIMARY KEY, value TEXT, updated_ts INTEGER)`)
	}
	if version < 4 {
		_, _ = db.Exec(createTableStatements[snippetVersionsTableIndex])
	}
	if version < 5 {
		if err := deduplicateSymbolRelations(db); err != nil {
			return err
		}
	}

	// Recovery checks: ensure columns/tables this binary depends on
	// exist even if an earlier partial migration skipped them.
	if _, err := db.Exec(`SELECT metadata_json FROM files LIMIT 1`); err != nil {
		_, _ = db.Exec(`ALTER TABLE files ADD COLUMN metadata_json TEXT DEFAULT '{}'`)
	}
	if _, err := db.Exec(`SELECT id FROM snippet_versions LIMIT 1`); err != nil {
		_, _ = db.Exec(createTableStatements[snippetVersionsTableIndex])
	}

	_, err := db.Exec(`UPDATE schema_version SET version = ?`, CurrentSchemaVersion)
	return err
}

// snippetVersionsTableIndex is the position of the snippet_versions
// CREATE TABLE statement in createTableStatements, reused by both the
// v4 migration step and the recovery check.
var snippetVersionsTableIndex = indexOfSnippetVersions()

func indexOfSnippetVersions() int {
	for i, stmt := range createTableStatements {
		if containsSnippetVersions(stmt) {
			return i
		}
	}
	return -1
}

func containsSnippetVersions(stmt string) bool {
	const needle = "CREATE TABLE IF NOT EXISTS snippet_versions"
	return len(stmt) >= len(needle) && stmt[:len(needle)] == needle
}

func deduplicateSymbolRelations(db *sql.DB) error {
	_, err := db.Exec(`
		DELETE FROM symbol_relations
		WHERE rowid NOT IN (
			SELECT MIN(rowid) FROM symbol_relations
			GROUP BY from_path, from_root_id, from_symbol, IFNULL(from_symbol_id, ''),
				to_path, to_root_id, to_symbol, IFNULL(to_symbol_id, ''),
				rel_type, IFNULL(line, -1), IFNULL(meta_json, '')
		)`)
	return err
}

// initFTS creates the files_fts external-content virtual table and its
// sync triggers if they don't already exist.
func initFTS(db *sql.DB) error {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='files_fts'`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking files_fts: %w", err)
	}
	if exists > 0 {
		return nil
	}

	stmts := []string{
		`CREATE VIRTUAL TABLE files_fts USING fts5(path, rel_path, fts_content, content='files', content_rowid='rowid')`,
		`CREATE TRIGGER files_ai AFTER INSERT ON files BEGIN
			INSERT INTO files_fts(rowid, path, rel_path, fts_content) VALUES (new.rowid, new.path, new.rel_path, new.fts_content);
		END`,
		`CREATE TRIGGER files_ad AFTER DELETE ON files BEGIN
			INSERT INTO files_fts(files_fts, rowid, path, rel_path, fts_content) VALUES('delete', old.rowid, old.path, old.rel_path, old.fts_content);
		END`,
		`CREATE TRIGGER files_au AFTER UPDATE ON files BEGIN
			INSERT INTO files_fts(files_fts, rowid, path, rel_path, fts_content) VALUES('delete', old.rowid, old.path, old.rel_path, old.fts_content);
			INSERT INTO files_fts(rowid, path, rel_path, fts_content) VALUES (new.rowid, new.path, new.rel_path, new.fts_content);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing FTS: %w", err)
		}
	}
	return nil
}
