package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// IndexerMode gates which role this process plays in single-leader
// indexing when several daemons share a workspace.
type IndexerMode string

const (
	ModeAuto     IndexerMode = "auto"
	ModeLeader   IndexerMode = "leader"
	ModeFollower IndexerMode = "follower"
	ModeOff      IndexerMode = "off"
)

// SizeProfile selects a bundled set of size-gate defaults.
type SizeProfile string

const (
	SizeProfileDefault SizeProfile = "default"
	SizeProfileHeavy   SizeProfile = "heavy"
)

// UTF8DecodePolicy controls how file content is decoded during indexing.
type UTF8DecodePolicy string

const (
	DecodeStrong UTF8DecodePolicy = "strong"
	DecodeLossy  UTF8DecodePolicy = "lossy"
)

// HTTPPortStrategy controls what the HTTP API does when its configured
// port is already bound.
type HTTPPortStrategy string

const (
	PortStrategyStrict HTTPPortStrategy = "strict"
	PortStrategyAuto   HTTPPortStrategy = "auto"
)

// Config is the fully resolved set of environment-controlled knobs for
// one daemon process. Zero value is not meaningful; use Load().
type Config struct {
	IndexerMode  IndexerMode
	StartupIndex bool

	CoalesceShards int
	CoalesceMaxKeys int

	ParseTimeout        time.Duration
	ParseTimeoutWorkers int

	GitCheckoutDebounce   time.Duration
	NonGitDebounce        time.Duration
	WatcherMonitorSeconds time.Duration
	DLQPollSeconds        time.Duration

	SizeProfile        SizeProfile
	MaxParseBytes      int64
	MaxASTBytes        int64
	ExcludeAppliesToParse bool
	ExcludeAppliesToAST   bool
	ExcludeAppliesToMeta  bool
	SampleLargeFiles      bool
	UTF8DecodePolicy      UTF8DecodePolicy
	ExcludeGlobs          []string
	IncludeGlobs          []string

	EngineMode         string // "" (auto), "embedded", or "sqlite" — search engine selection policy
	EngineMaxDocBytes  int
	EnginePreviewBytes int
	PurgeLegacyPaths   bool

	RegistryFile  string
	WorkspaceRoot string

	DaemonHost     string
	DaemonPort     int
	DaemonOverride bool

	HTTPAPIHost         string
	HTTPAPIPort         int
	HTTPAPIPortStrategy HTTPPortStrategy

	DBWriterMaxBatch int
	DBWriterMaxWait  time.Duration
	DBWriterMaxRetries int
}

// Load resolves a Config from the process environment, falling back to
// the documented defaults for anything unset or unparsable.
func Load() *Config {
	c := &Config{
		IndexerMode:  IndexerMode(getenvLower("INDEXER_MODE", string(ModeAuto))),
		StartupIndex: getenvBool("STARTUP_INDEX", true),

		CoalesceShards:  getenvInt("COALESCE_SHARDS", 16),
		CoalesceMaxKeys: getenvInt("COALESCE_MAX_KEYS", 100_000),

		ParseTimeout:        getenvSeconds("PARSE_TIMEOUT_SECONDS", 0),
		ParseTimeoutWorkers: getenvInt("PARSE_TIMEOUT_WORKERS", 2),

		GitCheckoutDebounce:   getenvSeconds("GIT_CHECKOUT_DEBOUNCE", 3),
		NonGitDebounce:        getenvSecondsFloat("FS_DEBOUNCE_SECONDS", 1.0),
		WatcherMonitorSeconds: getenvSeconds("WATCHER_MONITOR_SECONDS", 10),
		DLQPollSeconds:        getenvSeconds("DLQ_POLL_SECONDS", 60),

		SizeProfile:           SizeProfile(getenvLower("SIZE_PROFILE", string(SizeProfileDefault))),
		ExcludeAppliesToParse: getenvBool("EXCLUDE_APPLIES_TO_PARSE", true),
		ExcludeAppliesToAST:   getenvBool("EXCLUDE_APPLIES_TO_AST", true),
		ExcludeAppliesToMeta:  getenvBool("EXCLUDE_APPLIES_TO_META", false),
		SampleLargeFiles:      getenvBool("SAMPLE_LARGE_FILES", false),
		UTF8DecodePolicy:      UTF8DecodePolicy(getenvLower("UTF8_DECODE_POLICY", string(DecodeLossy))),
		ExcludeGlobs:          getenvList("EXCLUDE_GLOBS", defaultExcludeGlobs),
		IncludeGlobs:          getenvList("INCLUDE_GLOBS", nil),

		EngineMode:         getenvLower("ENGINE_MODE", ""),
		EngineMaxDocBytes:  getenvInt("ENGINE_MAX_DOC_BYTES", 1<<20),
		EnginePreviewBytes: getenvInt("ENGINE_PREVIEW_BYTES", 400),
		PurgeLegacyPaths:   getenvBool("PURGE_LEGACY_PATHS", false),

		RegistryFile:  os.Getenv("REGISTRY_FILE"),
		WorkspaceRoot: os.Getenv("WORKSPACE_ROOT"),

		DaemonHost:     getenvDefault("DAEMON_HOST", "127.0.0.1"),
		DaemonPort:     getenvInt("DAEMON_PORT", 7469),
		DaemonOverride: getenvBool("DAEMON_OVERRIDE", false),

		HTTPAPIHost:         getenvDefault("HTTP_API_HOST", "127.0.0.1"),
		HTTPAPIPort:         getenvInt("HTTP_API_PORT", 7470),
		HTTPAPIPortStrategy: HTTPPortStrategy(getenvLower("HTTP_API_PORT_STRATEGY", string(PortStrategyAuto))),

		DBWriterMaxBatch:   getenvInt("DB_WRITER_MAX_BATCH", 100),
		DBWriterMaxWait:    getenvMillis("DB_WRITER_MAX_WAIT_MS", 150),
		DBWriterMaxRetries: getenvInt("DB_WRITER_MAX_RETRIES", 1),
	}

	c.applySizeProfile()

	if v := getenvInt64("MAX_PARSE_BYTES", 0); v > 0 {
		c.MaxParseBytes = v
	}
	if v := getenvInt64("MAX_AST_BYTES", 0); v > 0 {
		c.MaxASTBytes = v
	}

	return c
}

// applySizeProfile sets the parse/AST byte ceilings from SizeProfile
// before any explicit MAX_PARSE_BYTES/MAX_AST_BYTES override is applied.
func (c *Config) applySizeProfile() {
	switch c.SizeProfile {
	case SizeProfileHeavy:
		c.MaxParseBytes = 32 << 20
		c.MaxASTBytes = 8 << 20
	default:
		c.MaxParseBytes = 16 << 20
		c.MaxASTBytes = 2 << 20
	}
}

// defaultExcludeGlobs keeps the common VCS/dependency/build directories
// out of every scan unless the operator overrides EXCLUDE_GLOBS
// explicitly.
var defaultExcludeGlobs = []string{
	"**/.git/**", "**/node_modules/**", "**/vendor/**",
	"**/.venv/**", "**/dist/**", "**/build/**", "**/target/**",
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvLower(key, def string) string {
	return strings.ToLower(getenvDefault(key, def))
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getenvInt(key, defSeconds)) * time.Second
}

func getenvSecondsFloat(key string, defSeconds float64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(defSeconds * float64(time.Second))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return time.Duration(defSeconds * float64(time.Second))
	}
	return time.Duration(f * float64(time.Second))
}

func getenvMillis(key string, defMillis int) time.Duration {
	return time.Duration(getenvInt(key, defMillis)) * time.Millisecond
}

// getenvList splits a comma-separated env var into a trimmed,
// non-empty-entry slice, falling back to def when unset.
func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
