package parser

import (
	"path/filepath"
	"regexp"
	"strings"
)

// RegexConfig describes one extension's class/method detection
// patterns for GenericRegexParser.
type RegexConfig struct {
	ClassPattern  string
	MethodPattern string
	MethodKind    string // defaults to "method"
	KindNorm      map[string]string
}

// GenericRegexParser extracts symbols from any text file using two
// regexes (class-like declarations, method-like declarations) plus a
// running brace-balance count to find each symbol's end line. It makes
// no attempt to understand the language's actual grammar: it is the
// fallback for extensions listed in regexConfigs that have no
// tree-sitter grammar; other extensions get no parser at all.
type GenericRegexParser struct {
	ext        string
	reClass    *regexp.Regexp
	reMethod   *regexp.Regexp
	methodKind string
	kindNorm   map[string]string
}

type scopeEntry struct {
	balance int
	sym     Symbol
}

// NewGenericRegexParser compiles cfg's patterns for the given
// extension (including the leading dot, e.g. ".go").
func NewGenericRegexParser(ext string, cfg RegexConfig) *GenericRegexParser {
	kind := cfg.MethodKind
	if kind == "" {
		kind = "method"
	}
	return &GenericRegexParser{
		ext:        strings.ToLower(ext),
		reClass:    safeCompile(cfg.ClassPattern),
		reMethod:   safeCompile(cfg.MethodPattern),
		methodKind: kind,
		kindNorm:   cfg.KindNorm,
	}
}

func (p *GenericRegexParser) normalizeKind(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if p.kindNorm != nil {
		if mapped, ok := p.kindNorm[raw]; ok {
			return mapped
		}
	}
	return "class"
}

// Extract walks content line by line, opening a pending symbol whenever
// a class/method pattern matches and closing it once the running
// brace-balance count returns to (or below) the balance observed when
// it was opened — the same heuristic the original regex-based parser
// uses since it has no real AST to consult.
func (p *GenericRegexParser) Extract(path string, content string) (Result, error) {
	lines := strings.Split(content, "\n")
	var active []scopeEntry
	var out []Symbol
	balance := 0

	for i, raw := range lines {
		lineNo := i + 1
		clean := sanitizeLine(raw)
		if strings.TrimSpace(clean) == "" {
			balance += strings.Count(clean, "{") - strings.Count(clean, "}")
			continue
		}

		type match struct {
			name string
			kind string
		}
		var matches []match
		seen := map[string]bool{}

		for _, m := range p.reClass.FindAllStringSubmatch(clean, -1) {
			var name, kindRaw string
			switch {
			case len(m) >= 3 && m[2] != "":
				kindRaw, name = m[1], m[2]
			case len(m) >= 2:
				kindRaw, name = "", m[1]
			}
			if name == "" {
				continue
			}
			matches = append(matches, match{name: name, kind: p.normalizeKind(kindRaw)})
			seen[name] = true
		}

		for _, m := range p.reMethod.FindAllStringSubmatch(clean, -1) {
			name := firstNonEmptyGroup(m)
			if name == "" || seen[name] {
				continue
			}
			matches = append(matches, match{name: name, kind: p.methodKind})
			seen[name] = true
		}

		for _, m := range matches {
			qual := Qualname(currentParent(active), m.name)
			active = append(active, scopeEntry{
				balance: balance,
				sym: Symbol{
					Name:     m.name,
					Kind:     m.kind,
					Line:     lineNo,
					Content:  strings.TrimSpace(raw),
					Qualname: qual,
				},
			})
		}

		balance += strings.Count(clean, "{") - strings.Count(clean, "}")

		var still []scopeEntry
		for _, e := range active {
			if balance <= e.balance {
				e.sym.EndLine = lineNo
				out = append(out, e.sym)
			} else {
				still = append(still, e)
			}
		}
		active = still
	}

	for _, e := range active {
		e.sym.EndLine = len(lines)
		out = append(out, e.sym)
	}

	// .vue single-file components get an implicit class symbol named
	// after the file stem, matching the original parser's special case
	// for files with no top-level class declaration of their own.
	if p.ext == ".vue" {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		out = append(out, Symbol{
			Name:     stem,
			Kind:     "class",
			Line:     1,
			EndLine:  len(lines),
			Content:  stem,
			Qualname: stem,
		})
	}

	return Result{Symbols: out}, nil
}

func firstNonEmptyGroup(groups []string) string {
	for _, g := range groups[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func currentParent(active []scopeEntry) string {
	if len(active) == 0 {
		return ""
	}
	return active[len(active)-1].sym.Qualname
}
