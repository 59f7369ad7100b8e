// Package executor implements the Executor (C9): a typed action loop
// that owns active-action tracking (ExecStart/ExecEnd Hub events),
// dispatches CmdRun/RunSubAgent/CancelRun/Redo to the Agent Engine, and
// gives the Script Host a concrete rtctx.SubAgentSender so a script's
// aip.agent.run call can block the calling worker on another worker's
// result (spec §4.9, §4.10.3). No single teacher/example file runs an
// action-loop-over-a-typed-channel shape for an agent engine; the
// dispatch-then-track-active-count pattern is grounded on the
// goadesign-goa-ai job dispatcher's worker-count/active-gauge handling
// (see DESIGN.md).
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aipack-run/aipack/runtime/agentparser"
	"github.com/aipack-run/aipack/runtime/engine"
	"github.com/aipack-run/aipack/runtime/hub"
	"github.com/aipack-run/aipack/runtime/rtctx"
	"github.com/aipack-run/aipack/runtime/scripthost"
	"github.com/aipack-run/aipack/runtime/store"
)

// ErrInstallRequired is returned by an AgentLoader when ref is a pack
// reference that is not yet installed locally (spec §4.9 CmdRun row:
// "if pack ref missing -> enqueue Install Work, require user confirm").
var ErrInstallRequired = errors.New("executor: pack not installed")

// AgentLoader resolves an agent reference (a filesystem path or a
// "ns@pack" reference) to a parsed Agent. relativeTo is the directory of
// the currently-running agent, used to resolve a bare sub-agent name
// against its caller's directory (spec §4.10.3 step 1); it is empty for
// a top-level CmdRun.
type AgentLoader interface {
	Load(ref string, relativeTo string) (*agentparser.Agent, error)
}

// EngineRunner is the subset of *engine.Engine the Executor depends on,
// named locally so tests can substitute a fake without constructing a
// real Store/Hub.
type EngineRunner interface {
	Run(ctx context.Context, base *rtctx.Ctx, parentRunID *int64, agent *agentparser.Agent, inputs []scripthost.Value, optionsOv *agentparser.Options) (engine.Result, error)
}

// RunArgs is the payload of a CmdRun/Redo action.
type RunArgs struct {
	AgentRef  string
	Inputs    []scripthost.Value
	OptionsOv *agentparser.Options
	DryMode   string // "", "req", or "res" (spec §6 `--dry`)
}

type actionKind int

const (
	actionCmdRun actionKind = iota
	actionRunSubAgent
	actionCancelRun
	actionRedo
)

type cmdReply struct {
	result engine.Result
	err    error
}

type subReply struct {
	value scripthost.Value
	err   error
}

type action struct {
	kind        actionKind
	args        RunArgs
	relativeTo  string
	parentRunID int64
	done        chan cmdReply
	reply       chan subReply
}

// Executor is the C9 action loop. Construct with New, then call Start
// once before submitting any action.
type Executor struct {
	loader AgentLoader
	eng    EngineRunner
	hub    *hub.Hub
	store  *store.Store
	base   *rtctx.Ctx // template Ctx: Store/Hub/Resolver/AI/NewHost/Session/Meta; RunID/Cancel are per-action

	actions chan action
	active  int32

	mu           sync.Mutex
	currentToken *rtctx.CancelToken
	lastArgs     *RunArgs
}

// New builds an Executor and wires base.SendSub so every Ctx cloned from
// it (directly or via WithStage/WithTask/WithSubRun) can make blocking
// sub-agent calls back through this Executor.
func New(base *rtctx.Ctx, loader AgentLoader, eng EngineRunner) *Executor {
	x := &Executor{
		loader:  loader,
		eng:     eng,
		hub:     base.Hub,
		store:   base.Store,
		base:    base,
		actions: make(chan action, 64),
	}
	base.SendSub = x.RunSubAgent
	return x
}

// Start runs the dispatch loop until ctx is cancelled. Each action is
// handled in its own goroutine; there is no implicit queuing between
// actions (spec §4.9), only the buffered channel absorbing submission
// bursts.
func (x *Executor) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case a := <-x.actions:
				x.dispatch(ctx, a)
			}
		}
	}()
}

// ActiveCount reports the current in-flight action count.
func (x *Executor) ActiveCount() int32 { return atomic.LoadInt32(&x.active) }

func (x *Executor) dispatch(ctx context.Context, a action) {
	x.begin()
	go func() {
		defer x.end()
		switch a.kind {
		case actionCmdRun, actionRedo:
			x.runCmd(ctx, a)
		case actionRunSubAgent:
			x.runSub(ctx, a)
		case actionCancelRun:
			x.doCancel()
		}
	}()
}

func (x *Executor) begin() {
	if atomic.AddInt32(&x.active, 1) == 1 {
		x.hub.Publish(hub.Event{Kind: hub.EventExecStart})
	}
}

func (x *Executor) end() {
	if atomic.AddInt32(&x.active, -1) == 0 {
		x.hub.Publish(hub.Event{Kind: hub.EventExecEnd})
	}
}

// CmdRun submits a top-level run and blocks until it completes.
func (x *Executor) CmdRun(args RunArgs) (engine.Result, error) {
	x.mu.Lock()
	cp := args
	x.lastArgs = &cp
	x.mu.Unlock()

	a := action{kind: actionCmdRun, args: args, done: make(chan cmdReply, 1)}
	x.actions <- a
	r := <-a.done
	return r.result, r.err
}

// Redo re-submits the most recent CmdRun's RunArgs (spec §4.9 "Redo").
func (x *Executor) Redo() (engine.Result, error) {
	x.mu.Lock()
	args := x.lastArgs
	x.mu.Unlock()
	if args == nil {
		return engine.Result{}, fmt.Errorf("executor: no previous run to redo")
	}
	a := action{kind: actionRedo, args: *args, done: make(chan cmdReply, 1)}
	x.actions <- a
	r := <-a.done
	return r.result, r.err
}

// CancelRun flips the cancellation token of the currently-running
// top-level Run, if any (spec §4.9 "CancelRun").
func (x *Executor) CancelRun() {
	x.actions <- action{kind: actionCancelRun}
}

func (x *Executor) doCancel() {
	x.mu.Lock()
	tok := x.currentToken
	x.mu.Unlock()
	if tok != nil {
		tok.Cancel()
	}
}

func (x *Executor) runCmd(ctx context.Context, a action) {
	agent, err := x.loader.Load(a.args.AgentRef, "")
	if err != nil {
		if errors.Is(err, ErrInstallRequired) {
			workUID, werr := x.enqueueInstall(ctx, a.args)
			if werr != nil {
				a.done <- cmdReply{err: werr}
				return
			}
			a.done <- cmdReply{err: fmt.Errorf("%w: queued as work %s, confirm to proceed", ErrInstallRequired, workUID)}
			return
		}
		a.done <- cmdReply{err: fmt.Errorf("executor: resolve agent: %w", err)}
		return
	}

	token := rtctx.NewCancelToken()
	x.mu.Lock()
	x.currentToken = token
	x.mu.Unlock()

	rc := *x.base
	rc.Cancel = token
	rc.DryMode = a.args.DryMode
	res, err := x.eng.Run(ctx, &rc, nil, agent, a.args.Inputs, a.args.OptionsOv)
	a.done <- cmdReply{result: res, err: err}
}

// enqueueInstall records a Work row for a missing pack install, matching
// spec §4.9's "enqueue Install Work, require user confirm" branch. Only
// the agent reference is recorded in the Work data; the other run args
// are not stored, and ConfirmInstall takes the full RunArgs from its
// caller to replay CmdRun once the pack is installed out of band.
func (x *Executor) enqueueInstall(ctx context.Context, args RunArgs) (string, error) {
	data, err := json.Marshal(struct {
		AgentRef string `json:"agent_ref"`
	}{AgentRef: args.AgentRef})
	if err != nil {
		return "", err
	}
	w, err := x.store.CreateWork(ctx, &store.Work{
		Kind:             store.WorkInstall,
		Data:             string(data),
		Message:          fmt.Sprintf("pack for %q is not installed", args.AgentRef),
		NeedsUserConfirm: true,
	})
	if err != nil {
		return "", fmt.Errorf("executor: enqueue install work: %w", err)
	}
	return w.UID, nil
}

// ConfirmInstall completes a pending Install Work and re-queues the
// CmdRun it was blocking (spec §4.9: "...then re-queue CmdRun after
// completion").
func (x *Executor) ConfirmInstall(workID int64, args RunArgs) (engine.Result, error) {
	if err := x.store.CompleteWork(context.Background(), workID, store.EndOk, "installed"); err != nil {
		return engine.Result{}, fmt.Errorf("executor: complete install work: %w", err)
	}
	return x.CmdRun(args)
}

// RunSubAgent implements rtctx.SubAgentSender: it is the function a
// script's aip.agent.run call reaches through Host.agentRunner.
// Resolving and invoking happens on a separate Executor worker so the
// calling worker's script genuinely suspends rather than re-entering the
// same goroutine (spec §4.10.2 "reuses the same thread... because the
// sub-agent runs on a different Executor worker").
func (x *Executor) RunSubAgent(parentRunID int64, relativeTo string, name string, opts scripthost.Value) (scripthost.Value, error) {
	inputs, optsOv := decodeSubAgentParams(opts)
	a := action{
		kind:        actionRunSubAgent,
		args:        RunArgs{AgentRef: name, Inputs: inputs, OptionsOv: optsOv},
		relativeTo:  relativeTo,
		parentRunID: parentRunID,
		reply:       make(chan subReply, 1),
	}
	x.actions <- a
	r := <-a.reply
	return r.value, r.err
}

func (x *Executor) runSub(ctx context.Context, a action) {
	agent, err := x.loader.Load(a.args.AgentRef, a.relativeTo)
	if err != nil {
		a.reply <- subReply{err: fmt.Errorf("executor: resolve sub-agent %q: %w", a.args.AgentRef, err)}
		return
	}

	x.mu.Lock()
	tok := x.currentToken
	x.mu.Unlock()
	if tok == nil {
		tok = rtctx.NewCancelToken()
	}

	rc := *x.base
	rc.Cancel = tok
	parentID := a.parentRunID
	res, err := x.eng.Run(ctx, &rc, &parentID, agent, a.args.Inputs, a.args.OptionsOv)
	if err != nil {
		a.reply <- subReply{err: err}
		return
	}
	a.reply <- subReply{value: res.Value}
}

// decodeSubAgentParams reads the optional { inputs?, options? } table
// passed to aip.agent.run (spec §4.10.3).
func decodeSubAgentParams(opts scripthost.Value) ([]scripthost.Value, *agentparser.Options) {
	if opts.Kind != scripthost.KindMap {
		return nil, nil
	}
	var inputs []scripthost.Value
	if in, ok := opts.Map["inputs"]; ok && in.Kind == scripthost.KindArray {
		inputs = in.Array
	}
	var optsOv *agentparser.Options
	if o, ok := opts.Map["options"]; ok && o.Kind == scripthost.KindMap {
		ov := optionsFromValue(o)
		optsOv = &ov
	}
	return inputs, optsOv
}

func optionsFromValue(v scripthost.Value) agentparser.Options {
	var o agentparser.Options
	if m, ok := v.Map["model"]; ok && m.Kind == scripthost.KindStr {
		o.Model = m.Str
	}
	if c, ok := v.Map["input_concurrency"]; ok && c.Kind == scripthost.KindInt {
		o.InputConcurrency = int(c.Int)
	}
	if t, ok := v.Map["temperature"]; ok {
		f := toFloat(t)
		o.Temperature = &f
	}
	if t, ok := v.Map["top_p"]; ok {
		f := toFloat(t)
		o.TopP = &f
	}
	return o
}

func toFloat(v scripthost.Value) float64 {
	switch v.Kind {
	case scripthost.KindFloat:
		return v.Float
	case scripthost.KindInt:
		return float64(v.Int)
	default:
		return 0
	}
}
