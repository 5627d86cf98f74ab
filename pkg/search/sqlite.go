package search

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/baecheolhan/sari/pkg/dbwriter"
)

// SQLiteEngine answers search requests against the files_fts FTS5
// shadow table pkg/storage maintains, joined with symbols for a
// per-path importance score. It never buffers documents of its own:
// the files table is the document store, so UpsertDocuments/
// DeleteDocuments are no-ops here (the DB writer's store-phase commit
// already wrote the row that feeds FTS via trigger).
type SQLiteEngine struct {
	db *sql.DB
}

// NewSQLiteEngine wraps db, the same *sql.DB pkg/storage.Store opened,
// for read-only FTS queries.
func NewSQLiteEngine(db *sql.DB) *SQLiteEngine {
	return &SQLiteEngine{db: db}
}

// UpsertDocuments is a no-op: SQLite mode's "index" is the files/
// files_fts tables, already kept current by pkg/storage's triggers.
func (e *SQLiteEngine) UpsertDocuments(docs []dbwriter.EngineDoc) error { return nil }

// DeleteDocuments is a no-op for the same reason.
func (e *SQLiteEngine) DeleteDocuments(docIDs []string) error { return nil }

// Status reports SQLite mode as always ready: it has no install-time
// dependency beyond the database connection itself.
func (e *SQLiteEngine) Status() Status {
	return Status{Mode: ModeSQLite, Ready: true, Reason: ReasonOK, Hint: "sqlite fts5"}
}

// Close is a no-op: the engine does not own the *sql.DB.
func (e *SQLiteEngine) Close() error { return nil }

// Search runs a keyword match against files_fts, left-joined with a
// per-path max importance_score from symbols, filtered by root/repo/
// path-glob/exclude-globs.
func (e *SQLiteEngine) Search(q Query) (Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Result{Total: -1}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []any
	where = append(where, "f.deleted_ts = 0")
	if q.RootID != "" {
		where = append(where, "f.root_id = ?")
		args = append(args, q.RootID)
	}
	if q.Repo != "" {
		where = append(where, "f.repo = ?")
		args = append(args, q.Repo)
	}
	if q.PathGlob != "" {
		where = append(where, "f.rel_path GLOB ?")
		args = append(args, q.PathGlob)
	}
	for _, g := range q.ExcludeGlobs {
		where = append(where, "f.rel_path NOT GLOB ?")
		args = append(args, g)
	}

	matchArgs := append([]any{q.Text}, args...)
	query := fmt.Sprintf(`
		SELECT f.path, f.root_id, f.rel_path, f.repo,
			snippet(files_fts, 2, '', '', ' … ', 12) AS preview,
			bm25(files_fts) AS rank,
			COALESCE((SELECT MAX(importance_score) FROM symbols s WHERE s.path = f.path), 0.0) AS importance
		FROM files_fts
		JOIN files f ON f.rowid = files_fts.rowid
		WHERE files_fts MATCH ? AND %s
		ORDER BY rank, importance DESC
		LIMIT ? OFFSET ?`, strings.Join(where, " AND "))

	args2 := append(matchArgs, limit, q.Offset)
	rows, err := e.db.Query(query, args2...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	res := Result{Total: -1}
	for rows.Next() {
		var h Hit
		var rank float64
		if err := rows.Scan(&h.DBPath, &h.RootID, &h.RelPath, &h.Repo, &h.Preview, &rank, &h.Importance); err != nil {
			return Result{}, err
		}
		h.DocID = h.DBPath
		h.Score = -rank // bm25 is "lower is better"; invert so callers sort descending uniformly
		res.Hits = append(res.Hits, h)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	if q.WithTotal {
		countQuery := fmt.Sprintf(`
			SELECT count(*) FROM files_fts JOIN files f ON f.rowid = files_fts.rowid
			WHERE files_fts MATCH ? AND %s`, strings.Join(where, " AND "))
		var total int
		if err := e.db.QueryRow(countQuery, matchArgs...).Scan(&total); err != nil {
			return Result{}, err
		}
		res.Total = total
	}
	return res, nil
}

// RepoCandidate is one ranked repo match for the repo-candidates
// endpoint.
type RepoCandidate struct {
	Repo  string
	Count int64
}

// RepoCandidates returns up to limit repos ranked by the count of
// file/rel_path matches for substring q within rootIDs (all roots if
// empty), escaping LIKE metacharacters in q.
func RepoCandidates(db *sql.DB, q string, rootIDs []string, limit int) ([]RepoCandidate, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + escapeLike(q) + "%"

	var where []string
	args := []any{like, like}
	where = append(where, "deleted_ts = 0", "(path LIKE ? ESCAPE '\\' OR rel_path LIKE ? ESCAPE '\\')")
	if len(rootIDs) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(rootIDs)), ",")
		where = append(where, fmt.Sprintf("root_id IN (%s)", placeholders))
		for _, id := range rootIDs {
			args = append(args, id)
		}
	}

	query := fmt.Sprintf(`
		SELECT repo, count(*) AS c FROM files
		WHERE %s AND repo != ''
		GROUP BY repo ORDER BY c DESC LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RepoCandidate
	for rows.Next() {
		var rc RepoCandidate
		if err := rows.Scan(&rc.Repo, &rc.Count); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
