package search

import (
	"fmt"
	"os"
	"sync"

	"github.com/baecheolhan/sari/pkg/dbwriter"
	"github.com/baecheolhan/sari/pkg/log"
	"github.com/blevesearch/bleve/v2"
)

// bleveDoc is the per-file document shape for embedded mode:
// path/repo/root_id/rel_path for filtering, path_text/body_text for
// matching, preview/mtime/size for display.
type bleveDoc struct {
	Path     string `json:"path"`
	Repo     string `json:"repo"`
	RootID   string `json:"root_id"`
	RelPath  string `json:"rel_path"`
	PathText string `json:"path_text"`
	BodyText string `json:"body_text"`
	Preview  string `json:"preview"`
	Mtime    int64  `json:"mtime"`
	Size     int64  `json:"size"`
}

// EmbeddedEngine is a single bleve full-text index, the Tantivy-style
// embedded backend for one workspace root. pkg/search.Router owns one
// instance per root_id and dispatches by doc_id prefix.
type EmbeddedEngine struct {
	mu          sync.RWMutex
	idx         bleve.Index
	dir         string
	maxDocBytes int
	previewLen  int
}

// NewEmbeddedEngine opens (or creates) a bleve index at dir. An empty
// dir builds an ephemeral in-memory index, used by tests and by any
// root whose on-disk embedded index could not be created.
func NewEmbeddedEngine(dir string, maxDocBytes, previewLen int) (*EmbeddedEngine, error) {
	mapping := bleveIndexMapping()

	var idx bleve.Index
	var err error
	if dir == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(dir)
		if err != nil {
			idx, err = bleve.New(dir, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("search: opening embedded index: %w", err)
	}
	return &EmbeddedEngine{idx: idx, dir: dir, maxDocBytes: maxDocBytes, previewLen: previewLen}, nil
}

func bleveIndexMapping() *bleve.IndexMapping {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = "standard"
	return m
}

// Status reports readiness based on whether the index handle is live.
func (e *EmbeddedEngine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.idx == nil {
		return Status{Mode: ModeEmbedded, Ready: false, Reason: ReasonIndexMissing, Hint: "index not open"}
	}
	return Status{Mode: ModeEmbedded, Ready: true, Reason: ReasonOK, Hint: e.dir}
}

// Close releases the index's file handles, if any.
func (e *EmbeddedEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idx == nil {
		return nil
	}
	err := e.idx.Close()
	e.idx = nil
	return err
}

// UpsertDocuments indexes each EngineDoc, normalizing and truncating
// body text to maxDocBytes with a head+tail budget, matching spec
// section 4.7's body-truncation rule.
func (e *EmbeddedEngine) UpsertDocuments(docs []dbwriter.EngineDoc) error {
	e.mu.RLock()
	idx := e.idx
	e.mu.RUnlock()
	if idx == nil {
		return fmt.Errorf("search: embedded index not open")
	}

	batch := idx.NewBatch()
	for _, d := range docs {
		body := d.Content
		if e.maxDocBytes > 0 && len(body) > e.maxDocBytes {
			half := e.maxDocBytes / 2
			body = TruncatePreview(body, half, half)
		}
		previewLen := e.previewLen
		if previewLen <= 0 {
			previewLen = 400
		}
		preview := body
		if len(preview) > previewLen {
			preview = preview[:previewLen]
		}

		doc := bleveDoc{
			Path:     d.DBPath,
			RootID:   d.RootID,
			PathText: Normalize(d.DBPath),
			BodyText: Normalize(body),
			Preview:  preview,
		}
		if err := batch.Index(d.DocID, doc); err != nil {
			return err
		}
	}
	return idx.Batch(batch)
}

// DeleteDocuments removes a set of documents by their doc_id.
func (e *EmbeddedEngine) DeleteDocuments(docIDs []string) error {
	e.mu.RLock()
	idx := e.idx
	e.mu.RUnlock()
	if idx == nil {
		return fmt.Errorf("search: embedded index not open")
	}

	batch := idx.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	return idx.Batch(batch)
}

// Search runs a disjunction match query over body_text and path_text,
// loading the stored preview/root_id/rel_path fields for each hit.
func (e *EmbeddedEngine) Search(q Query) (Result, error) {
	e.mu.RLock()
	idx := e.idx
	e.mu.RUnlock()
	if idx == nil {
		return Result{}, fmt.Errorf("search: embedded index not open")
	}
	if q.Text == "" {
		return Result{Total: -1}, nil
	}

	norm := Normalize(q.Text)
	bodyQ := bleve.NewMatchQuery(norm)
	bodyQ.SetField("body_text")
	pathQ := bleve.NewMatchQuery(norm)
	pathQ.SetField("path_text")
	disjunction := bleve.NewDisjunctionQuery(bodyQ, pathQ)

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	req := bleve.NewSearchRequestOptions(disjunction, limit, q.Offset, false)
	req.Fields = []string{"path", "root_id", "rel_path", "repo", "preview"}

	sr, err := idx.Search(req)
	if err != nil {
		return Result{}, err
	}

	res := Result{Total: -1}
	if q.WithTotal {
		res.Total = int(sr.Total)
	}
	for _, hit := range sr.Hits {
		h := Hit{DocID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["path"].(string); ok {
			h.DBPath = v
		}
		if v, ok := hit.Fields["root_id"].(string); ok {
			h.RootID = v
		}
		if v, ok := hit.Fields["rel_path"].(string); ok {
			h.RelPath = v
		}
		if v, ok := hit.Fields["repo"].(string); ok {
			h.Repo = v
		}
		if v, ok := hit.Fields["preview"].(string); ok {
			h.Preview = v
		}
		if q.RootID != "" && h.RootID != "" && h.RootID != q.RootID {
			continue
		}
		res.Hits = append(res.Hits, h)
	}
	return res, nil
}

// installed reports whether the embedded backend can be constructed at
// all in this process. bleve is linked in statically, so it is always
// "installed"; the check exists so selection logic has a single place
// to extend if that ever stops being true.
func installed() bool { return true }

// dirExists is used by the selection policy to distinguish a fresh
// embedded root (INDEX_MISSING, not yet built) from a configuration
// problem.
func dirExists(dir string) bool {
	if dir == "" {
		return true
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func logEmbeddedFallback(reason, hint string) {
	log.WithComponent("search").Warn().Str("reason", reason).Str("hint", hint).Msg("embedded engine fallback to sqlite")
}
