package parser

import (
	"strings"
	"sync"
)

// extToLanguage mirrors the original factory's extension-to-tree-sitter
// -grammar table; only entries that newTreeSitterParser has a grammar
// for (go, python) are used for AST parsing, the rest fall through to
// the regex configs below.
var extToLanguage = map[string]string{
	".py":  "python",
	".go":  "go",
	".js":  "javascript",
	".jsx": "javascript",
	".ts":  "typescript",
	".tsx": "tsx",
	".vue": "javascript",
	".rb":  "ruby",
}

var regexConfigs = map[string]RegexConfig{
	".java": {
		ClassPattern:  `\b(class|interface|enum|record|@interface)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `\b(\w+)\s*\(`,
		KindNorm:      map[string]string{"record": "class", "interface": "class"},
	},
	".kt": {
		ClassPattern:  `\b(class|interface|enum|object|data\s+class|sealed\s+class)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `\bfun\s+(?:<[^>]+>\s+)?([a-zA-Z0-9_]+)\b\s*\(`,
		KindNorm:      map[string]string{"interface": "class", "object": "class", "data class": "class"},
	},
	".go": {
		ClassPattern:  `\b(type|struct|interface)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `\bfunc\s+(?:\([^)]+\)\s+)?([a-zA-Z0-9_]+)\b\s*\(`,
		MethodKind:    "function",
	},
	".cpp": {
		ClassPattern:  `\b(class|struct|enum|namespace)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `\b([a-zA-Z0-9_]+)\b\s*\(`,
	},
	".c": {
		ClassPattern:  `\b(struct|enum)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `\b([a-zA-Z0-9_]+)\b\s*\(`,
	},
	".h": {
		ClassPattern:  `\b(class|struct|enum|namespace)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `\b([a-zA-Z0-9_]+)\b\s*\(`,
	},
	".cs": {
		ClassPattern:  `\b(class|struct|interface|enum|record)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `\b([a-zA-Z0-9_]+)\s*\(`,
	},
	".rs": {
		ClassPattern:  `\b(struct|enum|trait|union|mod)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `\bfn\s+([a-zA-Z0-9_]+)\b\s*[<(]`,
	},
	".ex": {
		ClassPattern:  `\bdefmodule\s+([a-zA-Z0-9_.]+)`,
		MethodPattern: `\bdef(?:p)?\s+([a-zA-Z0-9_!?]+)\b\s*[({]`,
	},
	".exs": {
		ClassPattern:  `\bdefmodule\s+([a-zA-Z0-9_.]+)`,
		MethodPattern: `\bdef(?:p)?\s+([a-zA-Z0-9_!?]+)\b\s*[({]`,
	},
	".rb": {
		ClassPattern:  `\b(class|module)\s+([a-zA-Z0-9_:]+)`,
		MethodPattern: `\bdef\s+([a-zA-Z0-9_!?]+)`,
	},
	".yaml": {
		ClassPattern:  `^kind:\s*([a-zA-Z0-9_]+)`,
		MethodPattern: `^\s*name:\s*([a-zA-Z0-9_-]+)`,
	},
	".yml": {
		ClassPattern:  `^kind:\s*([a-zA-Z0-9_]+)`,
		MethodPattern: `^\s*name:\s*([a-zA-Z0-9_-]+)`,
	},
	".sql": {
		ClassPattern:  `\bCREATE\s+(?:OR\s+REPLACE\s+)?(TABLE|VIEW|INDEX|PROCEDURE|FUNCTION)\s+(?:IF\s+NOT\s+EXISTS\s+)?([a-zA-Z0-9_]+)`,
		MethodPattern: `\bCONSTRAINT\s+([a-zA-Z0-9_]+)`,
	},
	".tf": {
		ClassPattern:  `^(resource|module|variable|output|data)\s+(?:"[^"]+"\s+)?"([a-zA-Z0-9_-]+)"`,
		MethodPattern: `^\s*(source|type)\s*=\s*"([^"]+)"`,
	},
	".hcl": {
		ClassPattern:  `^(resource|module|variable|output|data)\s+(?:"[^"]+"\s+)?"([a-zA-Z0-9_-]+)"`,
		MethodPattern: `^\s*(source|type)\s*=\s*"([^"]+)"`,
	},
	".js": {
		ClassPattern:  `\b(class)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `(?:async\s+)?function\s+([a-zA-Z0-9_]+)\b\s*\(`,
	},
	".jsx": {
		ClassPattern:  `\b(class)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `(?:async\s+)?function\s+([a-zA-Z0-9_]+)\b\s*\(`,
	},
	".ts": {
		ClassPattern:  `\b(class|interface|enum)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `(?:async\s+)?function\s+([a-zA-Z0-9_]+)\b\s*\(`,
		KindNorm:      map[string]string{"interface": "class"},
	},
	".tsx": {
		ClassPattern:  `\b(class|interface|enum)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `(?:async\s+)?function\s+([a-zA-Z0-9_]+)\b\s*\(`,
		KindNorm:      map[string]string{"interface": "class"},
	},
	".vue": {
		ClassPattern:  `\b(class)\s+([a-zA-Z0-9_]+)`,
		MethodPattern: `(?:async\s+)?function\s+([a-zA-Z0-9_]+)\b\s*\(`,
	},
}

// Registry caches one Parser instance per extension, the same
// singleton-per-key strategy the original factory uses.
type Registry struct {
	mu      sync.Mutex
	parsers map[string]Parser
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Get returns the Parser for ext (leading dot, case-insensitive),
// or nil if no parser (tree-sitter or regex) covers it.
func (r *Registry) Get(ext string) Parser {
	ext = strings.ToLower(ext)

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.parsers[ext]; ok {
		return p
	}

	var p Parser
	if lang, ok := extToLanguage[ext]; ok {
		if ts := newTreeSitterParser(lang); ts != nil {
			p = ts
		}
	}
	if p == nil {
		if cfg, ok := regexConfigs[ext]; ok {
			p = NewGenericRegexParser(ext, cfg)
		}
	}

	r.parsers[ext] = p // cache the miss too, including nil
	return p
}

// Language returns the tree-sitter grammar identifier for ext, or ""
// if none is registered.
func Language(ext string) string {
	return extToLanguage[strings.ToLower(ext)]
}
