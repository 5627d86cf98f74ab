package types

import "time"

// TaskAction is the action a CoalesceTask or FailedTask will perform
// against the database on dispatch.
type TaskAction string

const (
	ActionIndex  TaskAction = "INDEX"
	ActionDelete TaskAction = "DELETE"
)

// FsEventKind classifies a raw filesystem notification.
type FsEventKind string

const (
	FsEventCreated  FsEventKind = "CREATED"
	FsEventModified FsEventKind = "MODIFIED"
	FsEventDeleted  FsEventKind = "DELETED"
	FsEventMoved    FsEventKind = "MOVED"
)

// ParseStatus records the outcome of the text-extraction phase of indexing.
type ParseStatus string

const (
	ParseStatusOK      ParseStatus = "ok"
	ParseStatusSkipped ParseStatus = "skipped"
)

// ASTStatus records the outcome of symbol/relation extraction.
type ASTStatus string

const (
	ASTStatusOK      ASTStatus = "ok"
	ASTStatusSkipped ASTStatus = "skipped"
	ASTStatusTimeout ASTStatus = "timeout"
	ASTStatusError   ASTStatus = "error"
)

// Reason is the shared vocabulary for parse_reason / ast_reason.
type Reason string

const (
	ReasonNone     Reason = "none"
	ReasonBinary   Reason = "binary"
	ReasonMinified Reason = "minified"
	ReasonTooLarge Reason = "too_large"
	ReasonSampled  Reason = "sampled"
	ReasonNoParse  Reason = "no_parse"
	ReasonExcluded Reason = "excluded"
	ReasonTimeout  Reason = "timeout"
	ReasonError    Reason = "error"
)

// RelationType enumerates the kinds of edges the parser registry emits
// between symbols.
type RelationType string

const (
	RelationCalls      RelationType = "calls"
	RelationExtends    RelationType = "extends"
	RelationImplements RelationType = "implements"
)

// DeploymentState is a node in the daemon registry's upgrade state machine.
type DeploymentState string

const (
	DeploymentIdle     DeploymentState = "idle"
	DeploymentStarting DeploymentState = "starting"
	DeploymentReady    DeploymentState = "ready"
	DeploymentSwitched DeploymentState = "switched"
)

// Root is a registered workspace root.
type Root struct {
	RootID        string    `json:"root_id"`
	CanonicalPath string    `json:"canonical_path"`
	Label         string    `json:"label"`
	FileCount     int64     `json:"file_count"`
	SymbolCount   int64     `json:"symbol_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// File is the persisted representation of one source file under a root.
type File struct {
	DBPath      string // primary key: "<root_id>/<rel_path>"
	RelPath     string
	RootID      string
	Repo        string
	Mtime       int64
	Size        int64
	Content     []byte // optionally zlib-framed
	Hash        string
	FTSContent  string
	LastSeenTS  int64
	DeletedTS   int64
	ParseStatus ParseStatus
	ParseReason Reason
	ASTStatus   ASTStatus
	ASTReason   Reason
	IsBinary    bool
	IsMinified  bool
	Sampled     bool
	Metadata    map[string]string
}

// Symbol is one extracted code symbol (function, class, method, ...).
type Symbol struct {
	SymbolID        string // sha1(db_path|kind|qualname)
	DBPath          string
	RootID          string
	Name            string
	Kind            string
	Line            int
	EndLine         int
	Content         string
	Parent          string
	Qualname        string
	MetaJSON        string
	Doc             string
	ImportanceScore float64
}

// Relation is a directed edge between two symbols.
type Relation struct {
	FromPath     string
	FromRootID   string
	FromSymbol   string
	FromSymbolID string
	ToPath       string
	ToRootID     string
	ToSymbol     string
	ToSymbolID   string
	RelType      RelationType
	Line         int
	Meta         string
}

// FailedTask is a recoverable-but-currently-failing indexing task sitting
// in the dead-letter queue.
type FailedTask struct {
	DBPath      string // primary key
	Attempts    int
	LastError   string
	TS          int64
	NextRetryTS int64
}

// CoalesceTask is the in-memory representation of pending work against a
// single db_path, merged across bursts of filesystem events.
type CoalesceTask struct {
	Action     TaskAction
	DBPath     string
	Attempts   int
	EnqueueTS  int64
	LastSeenTS int64
}

// FsEvent is a raw, classified filesystem notification.
type FsEvent struct {
	Kind     FsEventKind
	Path     string
	DestPath string // set only for FsEventMoved
	TS       time.Time
}

// DaemonRegistryEntry describes one live daemon process.
type DaemonRegistryEntry struct {
	BootID     string `json:"boot_id"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	PID        int    `json:"pid"`
	Version    string `json:"version"`
	HTTPHost   string `json:"http_host,omitempty"`
	HTTPPort   int    `json:"http_port,omitempty"`
	LastSeenTS int64  `json:"last_seen_ts"`
	Draining   bool   `json:"draining"`
}

// WorkspaceBinding records which daemon currently owns a workspace.
type WorkspaceBinding struct {
	CanonicalRoot string `json:"canonical_root"`
	BootID        string `json:"boot_id"`
	HTTPHost      string `json:"http_host,omitempty"`
	HTTPPort      int    `json:"http_port,omitempty"`
}

// Deployment is the generation-tracked hot-upgrade state machine.
type Deployment struct {
	Generation       int64           `json:"generation"`
	ActiveBootID     string          `json:"active_boot_id"`
	CandidateBootID  string          `json:"candidate_boot_id"`
	State            DeploymentState `json:"state"`
	HealthFailStreak int             `json:"health_fail_streak"`
	RollbackReason   string          `json:"rollback_reason,omitempty"`
}
