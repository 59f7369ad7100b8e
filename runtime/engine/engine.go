// Package engine implements the Agent Engine (C10), the central state
// machine that drives one Run of a parsed Agent through its stage
// pipeline: Run-Start, BeforeAll, task creation, a bounded-concurrency
// per-task Data/Prompt/AI/Output pipeline, the tasks barrier, AfterAll,
// and Run-End. The stage orchestration itself has no single ancestor in
// the retrieval pack (no example repo runs an LLM agent pipeline); it is
// assembled from the teacher's stage-timestamp/transaction-bounded Store
// writes, the Hub event emission pattern, and a worker-pool shape
// grounded on the teacher's model-router dispatch loop (see DESIGN.md).
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aipack-run/aipack/runtime/agentparser"
	"github.com/aipack-run/aipack/runtime/aiclient"
	"github.com/aipack-run/aipack/runtime/hub"
	"github.com/aipack-run/aipack/runtime/rtctx"
	"github.com/aipack-run/aipack/runtime/scripthost"
	"github.com/aipack-run/aipack/runtime/store"
	"github.com/aipack-run/aipack/runtime/template"
)

// Result is the value returned from one Engine.Run call: the AfterAll
// reduction (or, absent AfterAll/Output, the last task's raw AI
// response — spec §4.10.3 "or the reduced AiResponse if no
// AfterAll/Output") paired with the Run's terminal end state.
type Result struct {
	Value    scripthost.Value
	EndState store.EndState
}

// Engine drives Runs against a shared Store/Hub. A single Engine value
// may run many Runs concurrently (e.g. sub-agent recursion); all Store
// writes are already serialized by the Store's own mutex.
type Engine struct {
	Store *store.Store
	Hub   *hub.Hub
}

// New builds an Engine.
func New(st *store.Store, h *hub.Hub) *Engine {
	return &Engine{Store: st, Hub: h}
}

// Run executes agent against inputs. base carries the shared
// infrastructure (Store/Hub/Resolver/AI/NewHost/SendSub/Session/Meta)
// and, for a sub-agent invocation, the parent's RunID (passed
// separately as parentRunID so the new Run can record parent_run_id —
// base.RunID is overwritten with the freshly allocated id). optionsOv,
// when non-nil, is merged as the highest-precedence layer ahead of the
// agent's own Options (the Lua-override layer of spec §6's precedence
// chain).
func (e *Engine) Run(ctx context.Context, base *rtctx.Ctx, parentRunID *int64, agent *agentparser.Agent, inputs []scripthost.Value, optionsOv *agentparser.Options) (Result, error) {
	runOpts := agent.Options
	if optionsOv != nil {
		runOpts = agentparser.MergeOptions(agent.Options, *optionsOv)
	}

	run, err := e.Store.CreateRun(ctx, &store.Run{
		SessionID:   base.Session.ID,
		ParentRunID: parentRunID,
		AgentName:   agent.Name,
		AgentPath:   agent.SourcePath,
		Model:       runOpts.Model,
		Concurrency: runOpts.EffectiveInputConcurrency(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("engine: create run: %w", err)
	}
	base.RunID, base.RunUID = run.ID, run.UID
	rc := base.WithSubRun(run.ID, run.UID)
	rc.Meta.AgentName = agent.Name
	rc.Meta.AgentFilePath = agent.SourcePath
	rc.Meta.AgentFileDir = filepath.Dir(agent.SourcePath)
	rc.Meta.AgentFileName = filepath.Base(agent.SourcePath)
	rc.Meta.AgentFileStem = strings.TrimSuffix(rc.Meta.AgentFileName, filepath.Ext(rc.Meta.AgentFileName))
	e.Hub.Publish(hub.Event{Kind: hub.EventRunStart, Entity: "run", ID: run.ID, RunID: run.ID})

	endState, result, runErr := e.runStages(ctx, rc, runOpts, agent, inputs)

	now := time.Now()
	_ = e.Store.UpdateRun(ctx, run.ID, store.RunPhasePatch{End: &now, EndState: &endState})
	e.Hub.Publish(hub.Event{Kind: hub.EventRunEnd, Entity: "run", ID: run.ID, RunID: run.ID, EndState: string(endState)})
	return Result{Value: result, EndState: endState}, runErr
}

func (e *Engine) runStages(ctx context.Context, rc *rtctx.Ctx, runOpts agentparser.Options, agent *agentparser.Agent, inputs []scripthost.Value) (store.EndState, scripthost.Value, error) {
	if rc.Cancelled() {
		return store.EndCancel, scripthost.Nil, nil
	}

	beforeAll := scripthost.Nil
	effInputs := inputs

	if agentparser.HasScript(agent.BeforeAll) {
		startT := time.Now()
		_ = e.Store.UpdateRun(ctx, rc.RunID, store.RunPhasePatch{BaStart: &startT})
		sr, err := e.invokeStage(rc.WithStage("before_all"), agent.BeforeAll, map[string]scripthost.Value{
			"inputs":  scripthost.Array(inputs),
			"options": optionsToValue(runOpts),
		})
		endT := time.Now()
		_ = e.Store.UpdateRun(ctx, rc.RunID, store.RunPhasePatch{BaEnd: &endT})
		if err != nil {
			e.recordRunErr(ctx, rc.RunID, "BeforeAll", err)
			return store.EndErr, scripthost.Nil, err
		}
		switch sr.Kind {
		case scripthost.ReturnValue:
			beforeAll = sr.Value
		case scripthost.ReturnBeforeAllResponse:
			if sr.HasInputs {
				effInputs = sr.Inputs
			}
			beforeAll = sr.BeforeAll
			if sr.Options.Kind == scripthost.KindMap {
				runOpts = agentparser.MergeOptions(runOpts, optionsFromValue(sr.Options))
			}
		}
	}

	if rc.Cancelled() {
		return store.EndCancel, scripthost.Nil, nil
	}

	taskInputs := make([]store.TaskInput, len(effInputs))
	for i, in := range effInputs {
		taskInputs[i] = store.TaskInput{Idx: i, Label: deriveLabel(in), Input: valueToTypedContent(in)}
	}
	startTasks := time.Now()
	_ = e.Store.UpdateRun(ctx, rc.RunID, store.RunPhasePatch{TasksStart: &startTasks})
	tasks, err := e.Store.BatchCreateTasks(ctx, rc.RunID, taskInputs)
	if err != nil {
		e.recordRunErr(ctx, rc.RunID, "TaskCreate", err)
		return store.EndErr, scripthost.Nil, err
	}

	outputs := make([]scripthost.Value, len(tasks))
	var anyTaskErr, anyCancel bool
	var mu sync.Mutex

	concurrency := runOpts.EffectiveInputConcurrency()
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for idx, t := range tasks {
		if rc.Cancelled() {
			_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{EndState: endStatePtr(store.EndCancel)})
			mu.Lock()
			anyCancel = true
			mu.Unlock()
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int, t *store.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			out, taskErr, cancelled := e.runTask(ctx, rc, agent, runOpts, effInputs[idx], beforeAll, t)
			mu.Lock()
			outputs[idx] = out
			if cancelled {
				anyCancel = true
			}
			if taskErr != nil {
				anyTaskErr = true
			}
			mu.Unlock()
		}(idx, t)
	}
	wg.Wait()

	endTasks := time.Now()
	_ = e.Store.UpdateRun(ctx, rc.RunID, store.RunPhasePatch{TasksEnd: &endTasks})

	if rc.Cancelled() {
		return store.EndCancel, scripthost.Nil, nil
	}

	result := scripthost.Nil
	for i := len(outputs) - 1; i >= 0; i-- {
		if outputs[i].Kind != scripthost.KindNil {
			result = outputs[i]
			break
		}
	}

	// `--dry req|res` (spec §6) both stop before AfterAll: req never had a
	// real AiResponse to reduce, and res is about inspecting the raw
	// response rather than the agent's own reduction of it.
	if agentparser.HasScript(agent.AfterAll) && rc.DryMode == "" {
		startT := time.Now()
		_ = e.Store.UpdateRun(ctx, rc.RunID, store.RunPhasePatch{AaStart: &startT})
		sr, err := e.invokeStage(rc.WithStage("after_all"), agent.AfterAll, map[string]scripthost.Value{
			"inputs":     scripthost.Array(effInputs),
			"outputs":    scripthost.Array(outputs),
			"before_all": beforeAll,
		})
		endT := time.Now()
		_ = e.Store.UpdateRun(ctx, rc.RunID, store.RunPhasePatch{AaEnd: &endT})
		if err != nil {
			e.recordRunErr(ctx, rc.RunID, "AfterAll", err)
			return store.EndErr, scripthost.Nil, err
		}
		switch sr.Kind {
		case scripthost.ReturnValue:
			result = sr.Value
		case scripthost.ReturnAfterAllResponse:
			result = sr.AfterAllResult
			if sr.HasAfterLabel {
				_ = e.Store.SetRunLabel(ctx, rc.RunID, sr.AfterAllLabel)
			}
		}
	}

	switch {
	case anyCancel:
		return store.EndCancel, result, nil
	case anyTaskErr:
		return store.EndErr, result, nil
	default:
		return store.EndOk, result, nil
	}
}

// runTask executes the Data -> Prompt -> AI -> Output pipeline for one
// task (spec §4.10.1 step 4). It never returns a fatal error for the
// run as a whole: every failure is recorded against the task and
// reported back via taskErr so the caller can fold it into the run's
// end state per the failure-semantics table (spec §4.10.5).
func (e *Engine) runTask(ctx context.Context, rc *rtctx.Ctx, agent *agentparser.Agent, runOpts agentparser.Options, input, beforeAll scripthost.Value, t *store.Task) (output scripthost.Value, taskErr error, cancelled bool) {
	taskStart := time.Now()
	defer func() {
		ms := time.Since(taskStart).Milliseconds()
		_ = e.Store.UpdateRun(ctx, rc.RunID, store.RunPhasePatch{AddTaskMs: &ms})
	}()

	tc := rc.WithTask(t.ID, t.UID)
	if tc.Cancelled() {
		_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{EndState: endStatePtr(store.EndCancel)})
		return scripthost.Nil, nil, true
	}

	data := scripthost.Nil
	taskInput := input
	taskOpts := runOpts
	var attachments []scripthost.Value

	if agentparser.HasScript(agent.Data) {
		startT := time.Now()
		_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{DataStart: &startT})
		sr, err := e.invokeStage(tc.WithStage("data"), agent.Data, map[string]scripthost.Value{
			"input":      taskInput,
			"before_all": beforeAll,
			"options":    optionsToValue(taskOpts),
		})
		endT := time.Now()
		_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{DataEnd: &endT})
		if err != nil {
			e.recordTaskErr(ctx, rc.RunID, t.ID, "Data", err)
			_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{EndState: endStatePtr(store.EndErr)})
			return scripthost.Nil, err, false
		}
		switch sr.Kind {
		case scripthost.ReturnValue:
			data = sr.Value
		case scripthost.ReturnDataResponse:
			if sr.HasInput {
				taskInput = sr.Input
			}
			if sr.HasData {
				data = sr.Data
			}
			if sr.HasOptionsOv && sr.OptionsOv.Kind == scripthost.KindMap {
				taskOpts = agentparser.MergeOptions(taskOpts, optionsFromValue(sr.OptionsOv))
			}
			attachments = sr.Attachments
		case scripthost.ReturnSkip:
			_ = e.Store.AppendLog(ctx, &store.Log{RunID: rc.RunID, TaskID: &t.ID, Kind: store.LogAgentSkip, Stage: "Data", Message: sr.SkipReason})
			_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{EndState: endStatePtr(store.EndSkip)})
			return scripthost.Nil, nil, false
		}
	}

	if tc.Cancelled() {
		_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{EndState: endStatePtr(store.EndCancel)})
		return scripthost.Nil, nil, true
	}

	parts, err := renderPromptParts(agent.PromptParts, taskInput, data, beforeAll)
	if err != nil {
		e.recordTaskErr(ctx, rc.RunID, t.ID, "Prompt", err)
		_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{EndState: endStatePtr(store.EndErr)})
		return scripthost.Nil, err, false
	}

	req := aiclient.ChatRequest{
		ProviderModel: effectiveModel(taskOpts),
		Parts:         parts,
		Options:       aiclient.Options{Temperature: taskOpts.Temperature, TopP: taskOpts.TopP},
		Attachments:   attachmentsFromValues(attachments),
	}

	// `--dry req` (spec §6) stops here: the request is fully built but
	// never sent, so no AI call and no Output/AfterAll run against it.
	if rc.DryMode == "req" {
		tc2 := valueToTypedContent(dryRequestToValue(req))
		if err := e.Store.UpdateTaskOutput(ctx, t.ID, t.UID, &tc2, store.EndOk); err != nil {
			e.recordTaskErr(ctx, rc.RunID, t.ID, "Output", err)
			return scripthost.Nil, err, false
		}
		return dryRequestToValue(req), nil, false
	}

	startAi := time.Now()
	_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{AiStart: &startAi})

	if rc.AI == nil {
		err := fmt.Errorf("engine: no AI client configured")
		e.recordTaskErr(ctx, rc.RunID, t.ID, "Ai", err)
		_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{EndState: endStatePtr(store.EndErr)})
		return scripthost.Nil, err, false
	}

	aiRes, err := rc.AI.Chat(rc.StdContext(ctx), req)
	endAi := time.Now()
	if err != nil {
		if tc.Cancelled() {
			_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{AiEnd: &endAi, EndState: endStatePtr(store.EndCancel)})
			return scripthost.Nil, nil, true
		}
		e.recordTaskErr(ctx, rc.RunID, t.ID, "Ai", err)
		_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{AiEnd: &endAi, EndState: endStatePtr(store.EndErr)})
		return scripthost.Nil, err, false
	}

	costAdd := 0.0
	if aiRes.PriceUSD != nil {
		costAdd = *aiRes.PriceUSD
	}
	inTok, outTok, modelOv := aiRes.Usage.InputTokens, aiRes.Usage.OutputTokens, aiRes.ModelName
	_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{
		AiEnd: &endAi, InputTokens: &inTok, OutputTokens: &outTok, AddCostUSD: &costAdd, ModelOv: &modelOv,
	})
	_ = e.Store.UpdateRun(ctx, rc.RunID, store.RunPhasePatch{AddCostUSD: &costAdd})

	// A task already in flight when cancellation fires finishes its
	// current stage (Ai) but transitions to Cancel at the next boundary
	// rather than proceeding to Output (spec §8 scenario S4).
	if tc.Cancelled() {
		_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{EndState: endStatePtr(store.EndCancel)})
		return scripthost.Nil, nil, true
	}

	out := scripthost.Str(aiRes.Content)
	// `--dry res` runs the AI call but stops before Output/AfterAll.
	if agentparser.HasScript(agent.Output) && rc.DryMode != "res" {
		startT := time.Now()
		_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{OutputStart: &startT})
		sr, err := e.invokeStage(tc.WithStage("output"), agent.Output, map[string]scripthost.Value{
			"input": taskInput, "data": data, "before_all": beforeAll, "ai_response": aiResponseToValue(aiRes),
		})
		if err != nil {
			e.recordTaskErr(ctx, rc.RunID, t.ID, "Output", err)
			_ = e.Store.UpdateTask(ctx, t.ID, store.TaskPhasePatch{EndState: endStatePtr(store.EndErr)})
			return scripthost.Nil, err, false
		}
		if sr.Kind == scripthost.ReturnValue {
			out = sr.Value
		}
	}

	tc2 := valueToTypedContent(out)
	if err := e.Store.UpdateTaskOutput(ctx, t.ID, t.UID, &tc2, store.EndOk); err != nil {
		e.recordTaskErr(ctx, rc.RunID, t.ID, "Output", err)
		return scripthost.Nil, err, false
	}
	return out, nil, false
}

// invokeStage builds a fresh Script Host for exactly one stage
// invocation (spec §4.4) and runs script against bindings.
func (e *Engine) invokeStage(rc *rtctx.Ctx, script string, bindings map[string]scripthost.Value) (scripthost.ScriptReturn, error) {
	if rc.Cancelled() {
		return scripthost.ScriptReturn{Kind: scripthost.ReturnNone}, nil
	}
	if rc.NewHost == nil {
		return scripthost.ScriptReturn{}, fmt.Errorf("engine: no script host factory configured")
	}

	var runner scripthost.AgentRunner
	if rc.SendSub != nil {
		runner = subAgentAdapter{rc: rc}
	}
	var taskSink scripthost.TaskSink
	if rc.TaskID != 0 {
		taskSink = taskSinkAdapter{e: e, rc: rc}
	}

	host := rc.NewHost(rc.HostCtx(), runner, runSinkAdapter{e: e, rc: rc}, taskSink)
	defer host.Close()
	return host.Run(script, bindings)
}

func (e *Engine) recordRunErr(ctx context.Context, runID int64, stage string, err error) {
	_ = e.Store.AppendErr(ctx, &store.Err{RunID: runID, Stage: stage, Typ: "ScriptError", Content: err.Error()})
}

func (e *Engine) recordTaskErr(ctx context.Context, runID, taskID int64, stage string, err error) {
	tid := taskID
	_ = e.Store.AppendErr(ctx, &store.Err{RunID: runID, TaskID: &tid, Stage: stage, Typ: "TaskError", Content: err.Error()})
}

func endStatePtr(s store.EndState) *store.EndState { return &s }

// subAgentAdapter implements scripthost.AgentRunner against the parent's
// Executor sender (spec §4.10.3).
type subAgentAdapter struct{ rc *rtctx.Ctx }

func (a subAgentAdapter) RunSubAgent(name string, opts scripthost.Value) (scripthost.Value, error) {
	return a.rc.SendSub(a.rc.RunID, a.rc.Meta.AgentFileDir, name, opts)
}

// runSinkAdapter implements scripthost.RunSink against the Store.
type runSinkAdapter struct {
	e  *Engine
	rc *rtctx.Ctx
}

func (s runSinkAdapter) PinRun(iden string, priority *float64, content scripthost.Value) error {
	b, err := content.MarshalJSON()
	if err != nil {
		return err
	}
	return s.e.Store.UpsertPin(context.Background(), &store.Pin{RunID: s.rc.RunID, Iden: iden, Priority: priority, Content: string(b)})
}

func (s runSinkAdapter) SetRunLabel(label string) error {
	return s.e.Store.SetRunLabel(context.Background(), s.rc.RunID, label)
}

// taskSinkAdapter implements scripthost.TaskSink against the Store.
type taskSinkAdapter struct {
	e  *Engine
	rc *rtctx.Ctx
}

func (s taskSinkAdapter) PinTask(iden string, priority *float64, content scripthost.Value) error {
	b, err := content.MarshalJSON()
	if err != nil {
		return err
	}
	taskID := s.rc.TaskID
	return s.e.Store.UpsertPin(context.Background(), &store.Pin{RunID: s.rc.RunID, TaskID: &taskID, Iden: iden, Content: string(b), Priority: priority})
}

func (s taskSinkAdapter) SetTaskLabel(label string) error {
	return s.e.Store.SetTaskLabel(context.Background(), s.rc.TaskID, label)
}

func optionsToValue(o agentparser.Options) scripthost.Value {
	m := map[string]scripthost.Value{
		"model":             scripthost.Str(o.Model),
		"input_concurrency": scripthost.Int(int64(o.EffectiveInputConcurrency())),
	}
	if o.Temperature != nil {
		m["temperature"] = scripthost.Float(*o.Temperature)
	}
	if o.TopP != nil {
		m["top_p"] = scripthost.Float(*o.TopP)
	}
	if len(o.ModelAliases) > 0 {
		aliases := make(map[string]scripthost.Value, len(o.ModelAliases))
		for k, v := range o.ModelAliases {
			aliases[k] = scripthost.Str(v)
		}
		m["model_aliases"] = scripthost.Map(aliases)
	}
	return scripthost.Map(m)
}

func optionsFromValue(v scripthost.Value) agentparser.Options {
	var o agentparser.Options
	if v.Kind != scripthost.KindMap {
		return o
	}
	if m, ok := v.Map["model"]; ok && m.Kind == scripthost.KindStr {
		o.Model = m.Str
	}
	if c, ok := v.Map["input_concurrency"]; ok && c.Kind == scripthost.KindInt {
		o.InputConcurrency = int(c.Int)
	}
	if tpr, ok := v.Map["temperature"]; ok {
		f := toFloat(tpr)
		o.Temperature = &f
	}
	if tp, ok := v.Map["top_p"]; ok {
		f := toFloat(tp)
		o.TopP = &f
	}
	if al, ok := v.Map["model_aliases"]; ok && al.Kind == scripthost.KindMap {
		o.ModelAliases = map[string]string{}
		for k, vv := range al.Map {
			if vv.Kind == scripthost.KindStr {
				o.ModelAliases[k] = vv.Str
			}
		}
	}
	return o
}

func toFloat(v scripthost.Value) float64 {
	if v.Kind == scripthost.KindFloat {
		return v.Float
	}
	if v.Kind == scripthost.KindInt {
		return float64(v.Int)
	}
	return 0
}

func effectiveModel(o agentparser.Options) string {
	if alias, ok := o.ModelAliases[o.Model]; ok {
		return alias
	}
	return o.Model
}

// deriveLabel builds a short human-readable task label from its input,
// per spec §4.10.1 step 3 "label = derive_label(input)".
func deriveLabel(v scripthost.Value) string {
	switch v.Kind {
	case scripthost.KindStr:
		if len(v.Str) > 48 {
			return v.Str[:48] + "..."
		}
		return v.Str
	case scripthost.KindMap:
		if lbl, ok := v.Map["label"]; ok && lbl.Kind == scripthost.KindStr {
			return lbl.Str
		}
	}
	return ""
}

func valueToTypedContent(v scripthost.Value) store.TypedContent {
	if v.Kind == scripthost.KindStr {
		return store.TypedContent{Kind: store.ContentText, Content: v.Str}
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return store.TypedContent{Kind: store.ContentText, Content: ""}
	}
	return store.TypedContent{Kind: store.ContentJSON, Content: string(b)}
}

func attachmentsFromValues(vs []scripthost.Value) []aiclient.Attachment {
	if len(vs) == 0 {
		return nil
	}
	out := make([]aiclient.Attachment, 0, len(vs))
	for _, v := range vs {
		if v.Kind != scripthost.KindMap {
			continue
		}
		a := aiclient.Attachment{}
		if mt, ok := v.Map["mime_type"]; ok && mt.Kind == scripthost.KindStr {
			a.MimeType = mt.Str
		}
		if u, ok := v.Map["url"]; ok && u.Kind == scripthost.KindStr {
			a.URL = u.Str
		}
		if d, ok := v.Map["data"]; ok && d.Kind == scripthost.KindBytes {
			a.Data = d.Bytes
		}
		out = append(out, a)
	}
	return out
}

func aiResponseToValue(r aiclient.ChatResult) scripthost.Value {
	m := map[string]scripthost.Value{
		"content":       scripthost.Str(r.Content),
		"input_tokens":  scripthost.Int(int64(r.Usage.InputTokens)),
		"output_tokens": scripthost.Int(int64(r.Usage.OutputTokens)),
		"model_name":    scripthost.Str(r.ModelName),
		"adapter_kind":  scripthost.Str(r.AdapterKind),
	}
	if r.PriceUSD != nil {
		m["price_usd"] = scripthost.Float(*r.PriceUSD)
	} else {
		m["price_usd"] = scripthost.Null
	}
	return scripthost.Map(m)
}

// dryRequestToValue renders the ChatRequest a `--dry req` run would have
// sent, without sending it (spec §6).
func dryRequestToValue(req aiclient.ChatRequest) scripthost.Value {
	parts := make([]scripthost.Value, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = scripthost.Map(map[string]scripthost.Value{
			"kind": scripthost.Str(string(p.Kind)),
			"text": scripthost.Str(p.Text),
		})
	}
	return scripthost.Map(map[string]scripthost.Value{
		"model": scripthost.Str(req.ProviderModel),
		"parts": scripthost.Array(parts),
	})
}

// renderPromptParts renders each agent prompt part's template against
// {input, data, before_all} and maps it onto an aiclient.PromptPart,
// honoring the #!meta cache flag (spec §4.10.1 "Prompt render").
func renderPromptParts(parts []agentparser.PromptPart, input, data, beforeAll scripthost.Value) ([]aiclient.PromptPart, error) {
	tdata := map[string]any{
		"input":      input.ToAny(),
		"data":       data.ToAny(),
		"before_all": beforeAll.ToAny(),
	}
	out := make([]aiclient.PromptPart, 0, len(parts))
	for _, p := range parts {
		rendered, err := template.Render(p.Template, tdata, nil)
		if err != nil {
			return nil, fmt.Errorf("engine: render %s prompt part: %w", p.Kind, err)
		}
		out = append(out, aiclient.PromptPart{
			Kind:  aiclient.PartKind(p.Kind),
			Text:  rendered,
			Cache: p.Options.Cache,
		})
	}
	return out, nil
}
