// Package store implements the process-local relational store of runs,
// tasks, logs, errors, pins, work items, and inout blobs described by the
// engine's data model. It is backed by an in-memory modernc.org/sqlite
// database: a real relational store (transactions, batch inserts) without
// a cross-process durability guarantee, matching the engine's Non-goals.
package store

import "time"

// EndState is the terminal state of a Run or Task.
type EndState string

const (
	EndNone   EndState = ""
	EndOk     EndState = "Ok"
	EndErr    EndState = "Err"
	EndCancel EndState = "Cancel"
	EndSkip   EndState = "Skip"
)

// ContentKind distinguishes plain text content from JSON content.
type ContentKind string

const (
	ContentText ContentKind = "Text"
	ContentJSON ContentKind = "Json"
)

// BlobDirection marks whether an Inout Blob holds task input or output.
type BlobDirection string

const (
	BlobIn  BlobDirection = "In"
	BlobOut BlobDirection = "Out"
)

// LogKind classifies a Log row.
type LogKind string

const (
	LogRunStep   LogKind = "RunStep"
	LogSysInfo   LogKind = "SysInfo"
	LogSysWarn   LogKind = "SysWarn"
	LogSysError  LogKind = "SysError"
	LogSysDebug  LogKind = "SysDebug"
	LogAgentPrint LogKind = "AgentPrint"
	LogAgentSkip LogKind = "AgentSkip"
)

// WorkKind classifies a Work row (currently only pack installation).
type WorkKind string

const WorkInstall WorkKind = "Install"

// ShortPreviewLen is the maximum length (in runes) of an inline short
// preview before the full content is materialized into an Inout Blob.
// See spec Invariant 5.
const ShortPreviewLen = 64

// TypedContent is the unit of content the Store accepts for task
// input/output: either plain text or JSON, always paired with its kind so
// the short/long policy (spec §4.1) can decide whether JSON must always be
// offloaded to a blob.
type TypedContent struct {
	Kind    ContentKind
	Content string
}

// Session is created once per process; it owns the store trim scope and
// the session tmp directory.
type Session struct {
	ID         int64
	UID        string
	StartedAt  time.Time
}

// Run is one execution of an Agent against an initial input list.
type Run struct {
	ID            int64
	UID           string
	SessionID     int64
	ParentRunID   *int64
	AgentName     string
	AgentPath     string
	Model         string
	Concurrency   int
	Label         string

	Start      *time.Time // epoch-microsecond timestamps
	BaStart    *time.Time
	BaEnd      *time.Time
	TasksStart *time.Time
	TasksEnd   *time.Time
	AaStart    *time.Time
	AaEnd      *time.Time
	End        *time.Time

	EndState    EndState
	TotalCostUSD float64
	TotalTaskMs  int64
}

// Task is the per-input execution of Data -> Prompt -> AI -> Output.
type Task struct {
	ID    int64
	UID   string
	RunID int64
	Idx   int
	Label string

	InputShort  string
	InputUID    string // set when input was materialized to a blob
	OutputShort string
	OutputUID   string

	InputTokens  int
	OutputTokens int
	CostUSD      float64
	ModelOv      string

	DataStart   *time.Time
	DataEnd     *time.Time
	AiStart     *time.Time
	AiEnd       *time.Time
	OutputStart *time.Time
	OutputEnd   *time.Time
	End         *time.Time

	EndState EndState
}

// InoutBlob holds the full content for a Task input/output that exceeded
// the short-preview threshold.
type InoutBlob struct {
	ID      int64
	TaskUID string
	Kind    BlobDirection
	Typ     ContentKind
	Content string
}

// Log is an append-only log row.
type Log struct {
	ID      int64
	RunID   int64
	TaskID  *int64
	Kind    LogKind
	Step    string
	Stage   string
	Message string
	At      time.Time
}

// Err is an append-only error row.
type Err struct {
	ID      int64
	RunID   int64
	TaskID  *int64
	Stage   string
	Typ     string
	Content string
	At      time.Time
}

// Pin is an upserted annotation keyed by (run_id, task_id, iden).
type Pin struct {
	ID       int64
	RunID    int64
	TaskID   *int64
	Iden     string
	Priority *float64
	Content  string // JSON
}

// Work tracks deferred work such as pack installation.
type Work struct {
	ID              int64
	UID             string
	Kind            WorkKind
	Start           *time.Time
	End             *time.Time
	EndState        EndState
	Data            string // JSON; the Executor records only the agent_ref
	Message         string
	NeedsUserConfirm bool
}

// TaskInput is the payload batch-inserted by the engine's task-creation
// phase: one row per input already paired with its derived label.
type TaskInput struct {
	Idx   int
	Label string
	Input TypedContent
}
