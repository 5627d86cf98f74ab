package search

import (
	"strings"
	"unicode"

	"github.com/baecheolhan/sari/pkg/dbwriter"
	"golang.org/x/text/unicode/norm"
)

// Mode selects which backing engine answers search requests.
type Mode string

const (
	ModeSQLite   Mode = "sqlite"
	ModeEmbedded Mode = "embedded"
)

// ReadyReason explains why an engine is or isn't ready.
type ReadyReason string

const (
	ReasonOK             ReadyReason = "OK"
	ReasonNotInstalled   ReadyReason = "NOT_INSTALLED"
	ReasonIndexMissing   ReadyReason = "INDEX_MISSING"
	ReasonConfigMismatch ReadyReason = "CONFIG_MISMATCH"
)

// Status reports one engine's current operating mode.
type Status struct {
	Mode   Mode
	Ready  bool
	Reason ReadyReason
	Hint   string
}

// Query is one search request, independent of backing mode.
type Query struct {
	Text         string
	RootID       string // "" searches every known root
	Repo         string
	PathGlob     string
	ExcludeGlobs []string
	Limit        int
	Offset       int
	WithTotal    bool
}

// Hit is one matched document.
type Hit struct {
	DocID      string
	DBPath     string
	RootID     string
	RelPath    string
	Repo       string
	Preview    string
	Score      float64
	Importance float64
}

// Result is the outcome of one Search call.
type Result struct {
	Hits  []Hit
	Total int // -1 when WithTotal was false
}

// Engine is the uniform surface every search backend implements. It
// also satisfies dbwriter.Engine, so the DB writer can drive it
// directly after a successful commit.
type Engine interface {
	UpsertDocuments(docs []dbwriter.EngineDoc) error
	DeleteDocuments(docIDs []string) error
	Search(q Query) (Result, error)
	Status() Status
	Close() error
}

var _ dbwriter.Engine = Engine(nil)

// Normalize applies the embedded mode's tokenization-adjacent text
// normalization: NFKC, lowercasing, whitespace collapse, and CJK
// segmentation (one space-separated token per run, since no Lindera
// binding is linked into this build — this char-by-char fallback
// stands in for the richer CJK segmenter).
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)

	var b strings.Builder
	lastWasSpace := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				b.WriteByte(' ')
				lastWasSpace = true
			}
			continue
		}
		if isCJK(r) {
			if !lastWasSpace {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			b.WriteByte(' ')
			lastWasSpace = true
			continue
		}
		b.WriteRune(r)
		lastWasSpace = false
	}
	return strings.TrimSpace(b.String())
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// TruncatePreview keeps headBytes from the start and tailBytes from
// the end of body, joined by a marker, so large files still produce a
// bounded preview for the embedded mode's document index.
func TruncatePreview(body string, headBytes, tailBytes int) string {
	if len(body) <= headBytes+tailBytes {
		return body
	}
	head := body[:headBytes]
	tail := body[len(body)-tailBytes:]
	return head + " … " + tail
}

// escapeLike escapes SQL LIKE metacharacters in a user-supplied
// substring, matching the original's wildcard-escaping for the repo
// candidates query.
func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}
