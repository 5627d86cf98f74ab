package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/baecheolhan/sari/pkg/types"
)

// ErrRootNotFound is returned by GetRoot when no row matches root_id.
var ErrRootNotFound = errors.New("storage: root not found")

// UpsertRoot registers or updates a workspace root, mirroring the
// original's `upsert_root`.
func (s *Store) UpsertRoot(r types.Root) error {
	_, err := s.db.Exec(`
		INSERT INTO roots (root_id, root_path, real_path, label, file_count, symbol_count, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(root_id) DO UPDATE SET
			root_path=excluded.root_path, real_path=excluded.real_path, label=excluded.label,
			file_count=excluded.file_count, symbol_count=excluded.symbol_count, updated_ts=excluded.updated_ts`,
		r.RootID, r.CanonicalPath, r.CanonicalPath, r.Label, r.FileCount, r.SymbolCount,
		nowOrUnix(r.CreatedAt), time.Now().Unix())
	return err
}

// GetRoot reads one registered root by id.
func (s *Store) GetRoot(rootID string) (types.Root, error) {
	var r types.Root
	var createdTS, updatedTS int64
	err := s.db.QueryRow(`
		SELECT root_id, root_path, label, file_count, symbol_count, created_ts, updated_ts
		FROM roots WHERE root_id = ?`, rootID).
		Scan(&r.RootID, &r.CanonicalPath, &r.Label, &r.FileCount, &r.SymbolCount, &createdTS, &updatedTS)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Root{}, ErrRootNotFound
	}
	if err != nil {
		return types.Root{}, err
	}
	r.CreatedAt = time.Unix(createdTS, 0).UTC()
	r.UpdatedAt = time.Unix(updatedTS, 0).UTC()
	return r, nil
}

// ListRoots returns every registered root, ordered by creation time.
func (s *Store) ListRoots() ([]types.Root, error) {
	rows, err := s.db.Query(`
		SELECT root_id, root_path, label, file_count, symbol_count, created_ts, updated_ts
		FROM roots ORDER BY created_ts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Root
	for rows.Next() {
		var r types.Root
		var createdTS, updatedTS int64
		if err := rows.Scan(&r.RootID, &r.CanonicalPath, &r.Label, &r.FileCount, &r.SymbolCount, &createdTS, &updatedTS); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdTS, 0).UTC()
		r.UpdatedAt = time.Unix(updatedTS, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRoot removes a root and every file/symbol row scoped to it.
func (s *Store) DeleteRoot(rootID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM symbols WHERE root_id = ?`, rootID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE root_id = ?`, rootID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM roots WHERE root_id = ?`, rootID); err != nil {
		return err
	}
	return tx.Commit()
}

// RepoStats returns file_count/symbol_count per root, recomputed from
// the files/symbols tables rather than trusted from the roots row
// cache, matching `get_repo_stats`'s live-count semantics.
func (s *Store) RepoStats(rootIDs []string) (map[string]int64, error) {
	query := `SELECT root_id, count(*) FROM files WHERE deleted_ts = 0 GROUP BY root_id`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	want := make(map[string]bool, len(rootIDs))
	for _, id := range rootIDs {
		want[id] = true
	}

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		if len(want) == 0 || want[id] {
			out[id] = count
		}
	}
	return out, rows.Err()
}

// FileByPath reads one file row by its db_path, or sql.ErrNoRows.
func (s *Store) FileByPath(dbPath string) (types.File, error) {
	var f types.File
	var parseStatus, parseReason, astStatus, astReason string
	var isBinary, isMinified, sampled int
	err := s.db.QueryRow(`
		SELECT path, rel_path, root_id, repo, mtime, size, hash, fts_content, last_seen_ts, deleted_ts,
			parse_status, parse_reason, ast_status, ast_reason, is_binary, is_minified, sampled
		FROM files WHERE path = ?`, dbPath).Scan(
		&f.DBPath, &f.RelPath, &f.RootID, &f.Repo, &f.Mtime, &f.Size, &f.Hash, &f.FTSContent,
		&f.LastSeenTS, &f.DeletedTS, &parseStatus, &parseReason, &astStatus, &astReason,
		&isBinary, &isMinified, &sampled)
	if err != nil {
		return types.File{}, err
	}
	f.ParseStatus = types.ParseStatus(parseStatus)
	f.ParseReason = types.Reason(parseReason)
	f.ASTStatus = types.ASTStatus(astStatus)
	f.ASTReason = types.Reason(astReason)
	f.IsBinary = isBinary != 0
	f.IsMinified = isMinified != 0
	f.Sampled = sampled != 0
	return f, nil
}

// SymbolsByPath returns every symbol extracted from one file.
func (s *Store) SymbolsByPath(dbPath string) ([]types.Symbol, error) {
	rows, err := s.db.Query(`
		SELECT symbol_id, path, root_id, name, kind, line, end_line, content, parent, qualname,
			meta_json, doc_comment, importance_score
		FROM symbols WHERE path = ? ORDER BY line`, dbPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Symbol
	for rows.Next() {
		var sym types.Symbol
		if err := rows.Scan(&sym.SymbolID, &sym.DBPath, &sym.RootID, &sym.Name, &sym.Kind, &sym.Line,
			&sym.EndLine, &sym.Content, &sym.Parent, &sym.Qualname, &sym.MetaJSON, &sym.Doc,
			&sym.ImportanceScore); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// RelationsFrom returns every outgoing relation for a symbol id.
func (s *Store) RelationsFrom(symbolID string) ([]types.Relation, error) {
	return s.queryRelations(`WHERE from_symbol_id = ?`, symbolID)
}

// RelationsTo returns every incoming relation for a symbol id, the
// read path `get_symbol_fan_in_stats` drives.
func (s *Store) RelationsTo(symbolID string) ([]types.Relation, error) {
	return s.queryRelations(`WHERE to_symbol_id = ?`, symbolID)
}

func (s *Store) queryRelations(where string, arg string) ([]types.Relation, error) {
	rows, err := s.db.Query(`
		SELECT from_path, from_root_id, from_symbol, from_symbol_id, to_path, to_root_id,
			to_symbol, to_symbol_id, rel_type, line, meta_json
		FROM symbol_relations `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Relation
	for rows.Next() {
		var r types.Relation
		var relType string
		if err := rows.Scan(&r.FromPath, &r.FromRootID, &r.FromSymbol, &r.FromSymbolID, &r.ToPath,
			&r.ToRootID, &r.ToSymbol, &r.ToSymbolID, &relType, &r.Line, &r.Meta); err != nil {
			return nil, err
		}
		r.RelType = types.RelationType(relType)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nowOrUnix(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().Unix()
	}
	return t.Unix()
}
