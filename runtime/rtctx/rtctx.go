// Package rtctx implements the Runtime Context (C8): a clonable handle
// carried through every stage of a Run, bundling the shared
// infrastructure (Store, Hub, Path Resolver, AI Client, Script Host
// factory, Executor sender for sub-agent recursion) with the current
// Session/Run/Task coordinates and the Run's cancellation token (spec
// §4.8).
package rtctx

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aipack-run/aipack/runtime/aiclient"
	"github.com/aipack-run/aipack/runtime/hub"
	"github.com/aipack-run/aipack/runtime/pathresolve"
	"github.com/aipack-run/aipack/runtime/scripthost"
	"github.com/aipack-run/aipack/runtime/store"
)

// SubAgentSender forwards a sub-agent invocation to the Executor and
// blocks until it completes (spec §4.10.3). The Executor implements this
// with its RunSubAgent action path; rtctx only needs the
// narrow function-shaped capability. relativeTo is the calling agent's
// own directory, so name resolves relative to its caller (spec §4.10.3
// step 1) before falling back to workspace-root resolution.
type SubAgentSender func(parentRunID int64, relativeTo string, name string, opts scripthost.Value) (scripthost.Value, error)

// CancelToken is a watchable single-producer multi-consumer flag (spec
// §4.8). Flip is idempotent; Done returns a channel that closes exactly
// once, when flipped.
type CancelToken struct {
	flag int32
	done chan struct{}
	once sync.Once
}

// NewCancelToken returns an unflipped token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel flips the token. Safe to call more than once and from multiple
// goroutines.
func (t *CancelToken) Cancel() {
	if atomic.CompareAndSwapInt32(&t.flag, 0, 1) {
		t.once.Do(func() { close(t.done) })
	}
}

// Cancelled reports whether the token has been flipped.
func (t *CancelToken) Cancelled() bool {
	return atomic.LoadInt32(&t.flag) == 1
}

// Done returns a channel closed when the token is flipped, for use in a
// select alongside other suspension points (spec §5 "Suspension
// points").
func (t *CancelToken) Done() <-chan struct{} { return t.done }

// Ctx is the Runtime Context handle. Zero value is not usable; construct
// via New.
type Ctx struct {
	Store    *store.Store
	Hub      *hub.Hub
	Resolver *pathresolve.Resolver
	AI       aiclient.Client
	NewHost  func(scripthost.Ctx, scripthost.AgentRunner, scripthost.RunSink, scripthost.TaskSink) *scripthost.Host
	SendSub  SubAgentSender

	// Meta carries the static, per-agent-invocation fields of the CTX
	// table (workspace/base dirs, agent file identity, pack scoping, tmp
	// dir) — everything scripthost.Ctx needs besides the dynamic
	// Session/Run/Task coordinates already tracked on Ctx itself.
	Meta scripthost.Ctx

	Session store.Session

	RunID  int64
	RunUID string

	TaskID  int64 // zero when no current task
	TaskUID string

	Stage string // "before_all" | "data" | "output" | "after_all" | ""

	Cancel *CancelToken

	// DryMode is "", "req", or "res" (spec §6 `--dry`). "req" skips the AI
	// call itself; both skip the Output and AfterAll stages. Carried by
	// value through WithStage/WithTask/WithSubRun like every other field.
	DryMode string
}

// New builds the root Ctx for a fresh Run. hostFactory and sendSub may
// be nil only in tests that do not exercise scripted stages/sub-agents.
func New(st *store.Store, h *hub.Hub, resolver *pathresolve.Resolver, ai aiclient.Client,
	hostFactory func(scripthost.Ctx, scripthost.AgentRunner, scripthost.RunSink, scripthost.TaskSink) *scripthost.Host,
	sendSub SubAgentSender, session store.Session, runID int64, runUID string) *Ctx {
	return &Ctx{
		Store:    st,
		Hub:      h,
		Resolver: resolver,
		AI:       ai,
		NewHost:  hostFactory,
		SendSub:  sendSub,
		Session:  session,
		RunID:    runID,
		RunUID:   runUID,
		Cancel:   NewCancelToken(),
	}
}

// WithStage returns a shallow copy of c scoped to a stage name, sharing
// the same cancellation token, Store, Hub, etc (spec §4.8 "clonable
// handle").
func (c *Ctx) WithStage(stage string) *Ctx {
	cp := *c
	cp.Stage = stage
	return &cp
}

// WithTask returns a shallow copy of c scoped to a specific task.
func (c *Ctx) WithTask(taskID int64, taskUID string) *Ctx {
	cp := *c
	cp.TaskID = taskID
	cp.TaskUID = taskUID
	return &cp
}

// WithSubRun returns a shallow copy of c scoped to a sub-agent's own Run,
// inheriting the parent's cancellation token (spec §9 Open Question,
// resolved: the child run shares the parent's token "for safety" — a
// cancelled parent must not leave an orphaned, uncancellable child run).
func (c *Ctx) WithSubRun(runID int64, runUID string) *Ctx {
	cp := *c
	cp.RunID = runID
	cp.RunUID = runUID
	cp.TaskID = 0
	cp.TaskUID = ""
	cp.Stage = ""
	return &cp
}

// Cancelled is a convenience check used at every suspension point (spec
// §5).
func (c *Ctx) Cancelled() bool { return c.Cancel.Cancelled() }

// HostCtx assembles the scripthost.Ctx for the current stage invocation
// from Meta plus the dynamic Session/Run/Task coordinates.
func (c *Ctx) HostCtx() scripthost.Ctx {
	hc := c.Meta
	hc.SessionUID = c.Session.UID
	hc.RunUID = c.RunUID
	hc.TaskUID = c.TaskUID
	return hc
}

// context.Context interop: some leaf operations (HTTP calls inside
// scripts, AI Client calls) want a standard context.Context carrying the
// same cancellation signal.
func (c *Ctx) StdContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.Cancel.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
