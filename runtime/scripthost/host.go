package scripthost

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// AgentRunner lets the Script Host make a blocking sub-agent call without
// knowing anything about the Executor. The caller (normally an Executor
// worker adapter) sends a RunSubAgent Action and waits on a reply
// channel; from the script's point of view the call is a plain blocking
// function (spec §4.4, §4.10.3).
type AgentRunner interface {
	RunSubAgent(name string, opts Value) (Value, error)
}

// RunSink receives aip.run.pin/set_label calls.
type RunSink interface {
	PinRun(iden string, priority *float64, content Value) error
	SetRunLabel(label string) error
}

// TaskSink receives aip.task.pin/set_label calls. Nil when the current
// stage has no current task (BeforeAll/AfterAll).
type TaskSink interface {
	PinTask(iden string, priority *float64, content Value) error
	SetTaskLabel(label string) error
}

// Host wraps exactly one gopher-lua VM, used for exactly one stage
// invocation and then discarded (spec §4.4 "Script VMs are not shared
// across tasks; one VM is constructed per script-stage invocation").
type Host struct {
	L           *lua.LState
	agentRunner AgentRunner
	runSink     RunSink
	taskSink    TaskSink
}

// New constructs a fresh VM, injects CTX, and registers the aip.*
// namespace. agentRunner/runSink/taskSink may be nil when the stage
// cannot use that capability (e.g. no TaskSink during BeforeAll).
func New(ctx Ctx, agentRunner AgentRunner, runSink RunSink, taskSink TaskSink) *Host {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	h := &Host{L: L, agentRunner: agentRunner, runSink: runSink, taskSink: taskSink}
	L.SetGlobal("CTX", ToLua(L, ctx.toValue()))
	h.registerAip()
	return h
}

// Close releases the VM. Must be called exactly once, after Run.
func (h *Host) Close() { h.L.Close() }

// Run executes script with the given top-level bindings available as
// globals (e.g. "input", "before_all", "options", "data", "ai_response",
// "inputs", "outputs" depending on the stage — spec §4.10.1) and decodes
// its final expression-statement return value.
func (h *Host) Run(script string, bindings map[string]Value) (ScriptReturn, error) {
	for k, v := range bindings {
		h.L.SetGlobal(k, ToLua(h.L, v))
	}
	if err := h.L.DoString(script); err != nil {
		return ScriptReturn{}, fmt.Errorf("scripthost: script error: %w", err)
	}
	top := h.L.GetTop()
	if top == 0 {
		return ScriptReturn{Kind: ReturnNone}, nil
	}
	ret := h.L.Get(-1)
	h.L.Pop(1)
	return DecodeScriptReturn(FromLua(ret)), nil
}

func (h *Host) registerAip() {
	L := h.L
	aip := L.NewTable()
	L.SetGlobal("aip", aip)

	flow := L.NewTable()
	L.SetField(aip, "flow", flow)
	L.SetField(flow, "before_all_response", L.NewFunction(h.luaBeforeAllResponse))
	L.SetField(flow, "data_response", L.NewFunction(h.luaDataResponse))
	L.SetField(flow, "skip", L.NewFunction(h.luaSkip))
	L.SetField(flow, "after_all_response", L.NewFunction(h.luaAfterAllResponse))

	agent := L.NewTable()
	L.SetField(aip, "agent", agent)
	L.SetField(agent, "run", L.NewFunction(h.luaAgentRun))

	run := L.NewTable()
	L.SetField(aip, "run", run)
	L.SetField(run, "pin", L.NewFunction(h.luaRunPin))
	L.SetField(run, "set_label", L.NewFunction(h.luaRunSetLabel))

	task := L.NewTable()
	L.SetField(aip, "task", task)
	L.SetField(task, "pin", L.NewFunction(h.luaTaskPin))
	L.SetField(task, "set_label", L.NewFunction(h.luaTaskSetLabel))
}

func withFlowTag(t *lua.LTable, L *lua.LState, kind string) {
	L.SetField(t, flowKindKey, lua.LString(kind))
}

func (h *Host) luaBeforeAllResponse(L *lua.LState) int {
	arg := L.OptTable(1, L.NewTable())
	withFlowTag(arg, L, flowKindBeforeAll)
	L.Push(arg)
	return 1
}

func (h *Host) luaDataResponse(L *lua.LState) int {
	arg := L.OptTable(1, L.NewTable())
	withFlowTag(arg, L, flowKindData)
	L.Push(arg)
	return 1
}

func (h *Host) luaAfterAllResponse(L *lua.LState) int {
	arg := L.OptTable(1, L.NewTable())
	withFlowTag(arg, L, flowKindAfterAll)
	L.Push(arg)
	return 1
}

func (h *Host) luaSkip(L *lua.LState) int {
	reason := L.OptString(1, "")
	t := L.NewTable()
	L.SetField(t, "reason", lua.LString(reason))
	withFlowTag(t, L, flowKindSkip)
	L.Push(t)
	return 1
}

func (h *Host) luaAgentRun(L *lua.LState) int {
	if h.agentRunner == nil {
		L.RaiseError("aip.agent.run: sub-agent invocation not available in this stage")
		return 0
	}
	name := L.CheckString(1)
	var opts Value = Nil
	if L.GetTop() >= 2 {
		opts = FromLua(L.Get(2))
	}
	result, err := h.agentRunner.RunSubAgent(name, opts)
	if err != nil {
		L.RaiseError("aip.agent.run: %s", err.Error())
		return 0
	}
	L.Push(ToLua(L, result))
	return 1
}

func optPriority(L *lua.LState, idx int) *float64 {
	v := L.Get(idx)
	if n, ok := v.(lua.LNumber); ok {
		f := float64(n)
		return &f
	}
	return nil
}

// pinArgs interprets the variadic (iden, [priority], content) signature
// shared by aip.run.pin and aip.task.pin.
func pinArgs(L *lua.LState) (iden string, priority *float64, content Value) {
	iden = L.CheckString(1)
	if L.GetTop() >= 3 {
		priority = optPriority(L, 2)
		content = FromLua(L.Get(3))
		return
	}
	content = FromLua(L.Get(2))
	return
}

func (h *Host) luaRunPin(L *lua.LState) int {
	if h.runSink == nil {
		L.RaiseError("aip.run.pin: no active run")
		return 0
	}
	iden, priority, content := pinArgs(L)
	if err := h.runSink.PinRun(iden, priority, content); err != nil {
		L.RaiseError("aip.run.pin: %s", err.Error())
	}
	return 0
}

func (h *Host) luaRunSetLabel(L *lua.LState) int {
	if h.runSink == nil {
		L.RaiseError("aip.run.set_label: no active run")
		return 0
	}
	if err := h.runSink.SetRunLabel(L.CheckString(1)); err != nil {
		L.RaiseError("aip.run.set_label: %s", err.Error())
	}
	return 0
}

func (h *Host) luaTaskPin(L *lua.LState) int {
	if h.taskSink == nil {
		L.RaiseError("aip.task.pin: no active task in this stage")
		return 0
	}
	iden, priority, content := pinArgs(L)
	if err := h.taskSink.PinTask(iden, priority, content); err != nil {
		L.RaiseError("aip.task.pin: %s", err.Error())
	}
	return 0
}

func (h *Host) luaTaskSetLabel(L *lua.LState) int {
	if h.taskSink == nil {
		L.RaiseError("aip.task.set_label: no active task in this stage")
		return 0
	}
	if err := h.taskSink.SetTaskLabel(L.CheckString(1)); err != nil {
		L.RaiseError("aip.task.set_label: %s", err.Error())
	}
	return 0
}
