package indexer

import (
	"regexp"
	"unicode/utf8"

	"github.com/baecheolhan/sari/pkg/config"
	"github.com/baecheolhan/sari/pkg/types"
)

// maxFileBytesHardCap is an absolute ceiling applied before any content
// is even sampled, distinct from the configurable parse_limit
// (cfg.MaxParseBytes) which gates full-content persistence. No
// environment variable governs it: a file past this size is not a
// candidate for indexing under any size profile.
const maxFileBytesHardCap = 64 << 20

// sampleWindow is the head+tail byte budget classification reads before
// deciding binary/minified, independent of the full parse_limit.
const sampleWindow = 8 * 1024

// classification is the outcome of running one file's content through
// the ordered gates of the per-file classification table.
type classification struct {
	ParseStatus types.ParseStatus
	ParseReason types.Reason
	IsBinary    bool
	IsMinified  bool
	Sampled     bool
	Content     []byte // final bytes to persist; nil when nothing survives classification
}

// classify runs raw through the ordered gates: excluded -> size cap ->
// binary sniff -> minified sniff -> parse_limit (with optional
// sampling) -> decode -> redact. size is the on-disk size, which may
// exceed len(raw) if the caller already truncated the read.
func classify(cfg *config.Config, size int64, raw []byte, excluded bool) classification {
	if excluded {
		return classification{ParseStatus: types.ParseStatusSkipped, ParseReason: types.ReasonExcluded}
	}
	if size > maxFileBytesHardCap {
		return classification{ParseStatus: types.ParseStatusSkipped, ParseReason: types.ReasonTooLarge}
	}

	sample := headTailSample(raw, sampleWindow)
	if looksBinary(sample) {
		return classification{ParseStatus: types.ParseStatusSkipped, ParseReason: types.ReasonBinary, IsBinary: true}
	}
	if looksMinified(sample) {
		return classification{ParseStatus: types.ParseStatusSkipped, ParseReason: types.ReasonMinified, IsMinified: true}
	}

	if size > cfg.MaxParseBytes {
		if !cfg.SampleLargeFiles {
			return classification{ParseStatus: types.ParseStatusSkipped, ParseReason: types.ReasonTooLarge}
		}
		budget := int(cfg.MaxParseBytes)
		if budget <= 0 || budget > len(raw) {
			budget = len(raw)
		}
		sampled := headTailSample(raw, budget)
		decoded := decodeContent(sampled, cfg.UTF8DecodePolicy)
		if decoded == "" {
			return classification{ParseStatus: types.ParseStatusSkipped, ParseReason: types.ReasonNoParse, Sampled: true}
		}
		return classification{
			ParseStatus: types.ParseStatusSkipped,
			ParseReason: types.ReasonSampled,
			Sampled:     true,
			Content:     redact([]byte(decoded)),
		}
	}

	decoded := decodeContent(raw, cfg.UTF8DecodePolicy)
	if decoded == "" {
		return classification{ParseStatus: types.ParseStatusSkipped, ParseReason: types.ReasonNoParse}
	}
	return classification{
		ParseStatus: types.ParseStatusOK,
		ParseReason: types.ReasonNone,
		Content:     redact([]byte(decoded)),
	}
}

// astAllowed reports whether size clears the separate ast_limit gate;
// callers only reach this after classify has already returned
// ParseStatusOK.
func astAllowed(cfg *config.Config, size int64) bool {
	return cfg.MaxASTBytes <= 0 || size <= cfg.MaxASTBytes
}

// headTailSample returns up to budget/2 bytes from the start and end of
// b, concatenated; the whole slice if it already fits in budget.
func headTailSample(b []byte, budget int) []byte {
	if budget <= 0 || len(b) <= budget {
		return b
	}
	half := budget / 2
	out := make([]byte, 0, budget)
	out = append(out, b[:half]...)
	out = append(out, b[len(b)-half:]...)
	return out
}

// looksBinary reports whether sample contains a NUL byte or is less
// than 80% printable ASCII/UTF-8, mirroring the original's fast binary
// sniff.
func looksBinary(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}
	printable := 0
	for _, b := range sample {
		if b == 0 {
			return true
		}
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7f) || b >= 0x80 {
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) < 0.8
}

// looksMinified reports whether sample's average line length exceeds
// 300 bytes, the original's heuristic for bundled/minified assets.
func looksMinified(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}
	lines := 1
	for _, b := range sample {
		if b == '\n' {
			lines++
		}
	}
	return len(sample)/lines > 300
}

// decodeContent applies the configured UTF-8 decode policy. Strict
// returns "" on any invalid byte sequence (caller treats that as
// no_parse); lossy drops invalid sequences via toValidUTF8, without
// inserting a replacement rune.
func decodeContent(raw []byte, policy config.UTF8DecodePolicy) string {
	if len(raw) == 0 {
		return ""
	}
	if policy == config.DecodeStrong {
		if !utf8.Valid(raw) {
			return ""
		}
		return string(raw)
	}
	return toValidUTF8(string(raw))
}

// toValidUTF8 is a small stand-in for strings.ToValidUTF8 (replacement
// string ""), dropping invalid sequences rather than inserting U+FFFD,
// since a literal replacement character would itself corrupt searches
// for the surrounding token.
func toValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		out = append(out, s[i:i+size]...)
		i += size
	}
	return string(out)
}

// redactionPatterns strips recognized secret material before
// persistence: assignments to password/token/secret-shaped names,
// bearer auth headers, and PEM private key blocks.
var redactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|token|secret|api[_-]?key)\s*[:=]\s*["']?[^"'\n]{3,}["']?`),
	regexp.MustCompile(`(?i)(Authorization:\s*Bearer)\s+\S+`),
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
}

// redact replaces every match of redactionPatterns with a masked form
// that keeps the assignment's left-hand side (where one exists)
// visible for search but destroys the secret value itself.
func redact(content []byte) []byte {
	s := string(content)
	s = redactionPatterns[0].ReplaceAllString(s, "$1=\"***\"")
	s = redactionPatterns[1].ReplaceAllString(s, "$1 ***")
	s = redactionPatterns[2].ReplaceAllString(s, "-----REDACTED PRIVATE KEY-----")
	return []byte(s)
}
