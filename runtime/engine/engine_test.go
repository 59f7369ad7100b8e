package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aipack-run/aipack/runtime/agentparser"
	"github.com/aipack-run/aipack/runtime/aiclient"
	"github.com/aipack-run/aipack/runtime/hub"
	"github.com/aipack-run/aipack/runtime/rtctx"
	"github.com/aipack-run/aipack/runtime/scripthost"
	"github.com/aipack-run/aipack/runtime/store"
)

type fakeAI struct {
	calls int
	reply func(req aiclient.ChatRequest) (aiclient.ChatResult, error)
}

func (f *fakeAI) Chat(ctx context.Context, req aiclient.ChatRequest) (aiclient.ChatResult, error) {
	f.calls++
	if f.reply != nil {
		return f.reply(req)
	}
	return aiclient.ChatResult{Content: "ok", AdapterKind: "fake", ModelName: req.ProviderModel}, nil
}

func newTestCtx(t *testing.T, ai aiclient.Client) (*store.Store, *hub.Hub, *rtctx.Ctx) {
	t.Helper()
	st, err := store.Open()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h, err := hub.New()
	require.NoError(t, err)
	t.Cleanup(h.Close)

	sess, err := st.CreateSession(context.Background())
	require.NoError(t, err)

	newHost := func(hc scripthost.Ctx, runner scripthost.AgentRunner, runSink scripthost.RunSink, taskSink scripthost.TaskSink) *scripthost.Host {
		return scripthost.New(hc, runner, runSink, taskSink)
	}
	rc := rtctx.New(st, h, nil, ai, newHost, nil, *sess, 0, "")
	return st, h, rc
}

func simpleAgent() *agentparser.Agent {
	return &agentparser.Agent{
		Name: "greeter",
		PromptParts: []agentparser.PromptPart{
			{Kind: agentparser.PartInstruction, Template: "Say hi to {{input}}"},
		},
	}
}

func TestRunScriptlessAgentProducesAiContentAsOutput(t *testing.T) {
	ai := &fakeAI{}
	_, _, rc := newTestCtx(t, ai)
	eng := New(rc.Store, rc.Hub)

	res, err := eng.Run(context.Background(), rc, nil, simpleAgent(), []scripthost.Value{scripthost.Str("Alice")}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndOk, res.EndState)
	require.Equal(t, "ok", res.Value.Str)
	require.Equal(t, 1, ai.calls)
}

func TestBeforeAllResponseOverridesInputsAndOptions(t *testing.T) {
	ai := &fakeAI{}
	_, _, rc := newTestCtx(t, ai)
	eng := New(rc.Store, rc.Hub)

	agent := simpleAgent()
	agent.BeforeAll = `return aip.flow.before_all_response({ inputs = {"x", "y", "z"} })`

	res, err := eng.Run(context.Background(), rc, nil, agent, []scripthost.Value{scripthost.Str("ignored")}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndOk, res.EndState)
	require.Equal(t, 3, ai.calls)
}

func TestDataSkipMarksTaskSkippedAndRunStillOk(t *testing.T) {
	ai := &fakeAI{}
	_, _, rc := newTestCtx(t, ai)
	eng := New(rc.Store, rc.Hub)

	agent := simpleAgent()
	agent.Data = `if input == "skip-me" then return aip.flow.skip("not needed") end`

	res, err := eng.Run(context.Background(), rc, nil, agent, []scripthost.Value{
		scripthost.Str("skip-me"), scripthost.Str("keep-me"),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndOk, res.EndState)
	require.Equal(t, 1, ai.calls)
}

func TestDataResponseOverridesInput(t *testing.T) {
	ai := &fakeAI{
		reply: func(req aiclient.ChatRequest) (aiclient.ChatResult, error) {
			return aiclient.ChatResult{Content: req.Parts[0].Text}, nil
		},
	}
	_, _, rc := newTestCtx(t, ai)
	eng := New(rc.Store, rc.Hub)

	agent := simpleAgent()
	agent.Data = `return aip.flow.data_response({ input = "overridden" })`

	res, err := eng.Run(context.Background(), rc, nil, agent, []scripthost.Value{scripthost.Str("orig")}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndOk, res.EndState)
	require.Contains(t, res.Value.Str, "overridden")
}

func TestAfterAllReducesOutputs(t *testing.T) {
	ai := &fakeAI{}
	_, _, rc := newTestCtx(t, ai)
	eng := New(rc.Store, rc.Hub)

	agent := simpleAgent()
	agent.AfterAll = `return aip.flow.after_all_response({ result = #outputs, label = "done" })`

	res, err := eng.Run(context.Background(), rc, nil, agent, []scripthost.Value{
		scripthost.Str("a"), scripthost.Str("b"),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndOk, res.EndState)
	require.Equal(t, int64(2), res.Value.Int)
}

var errAIBoom = errors.New("ai: simulated provider failure")

func TestAiFailureMarksTaskErrAndRunErr(t *testing.T) {
	ai := &fakeAI{reply: func(req aiclient.ChatRequest) (aiclient.ChatResult, error) {
		return aiclient.ChatResult{}, errAIBoom
	}}
	_, _, rc := newTestCtx(t, ai)
	eng := New(rc.Store, rc.Hub)

	res, err := eng.Run(context.Background(), rc, nil, simpleAgent(), []scripthost.Value{scripthost.Str("x")}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndErr, res.EndState)
}

func TestCancelledRunEndsCancelAndSkipsTasks(t *testing.T) {
	ai := &fakeAI{}
	_, _, rc := newTestCtx(t, ai)
	rc.Cancel.Cancel()
	eng := New(rc.Store, rc.Hub)

	res, err := eng.Run(context.Background(), rc, nil, simpleAgent(), []scripthost.Value{scripthost.Str("x")}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndCancel, res.EndState)
	require.Equal(t, 0, ai.calls)
}

func TestRunPinAndSetLabelFromBeforeAll(t *testing.T) {
	ai := &fakeAI{}
	_, _, rc := newTestCtx(t, ai)
	eng := New(rc.Store, rc.Hub)

	agent := simpleAgent()
	agent.BeforeAll = `aip.run.pin("note", "hello"); aip.run.set_label("greeter-run")`

	res, err := eng.Run(context.Background(), rc, nil, agent, []scripthost.Value{scripthost.Str("x")}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndOk, res.EndState)
}

func TestSubAgentRecursionDelegatesThroughSendSub(t *testing.T) {
	ai := &fakeAI{}
	st, h, rc := newTestCtx(t, ai)
	eng := New(st, h)

	var sent string
	rc.SendSub = func(parentRunID int64, relativeTo string, name string, opts scripthost.Value) (scripthost.Value, error) {
		sent = name
		return scripthost.Str("sub-result"), nil
	}

	agent := simpleAgent()
	agent.Data = `return aip.flow.data_response({ data = aip.agent.run("child-agent") })`

	res, err := eng.Run(context.Background(), rc, nil, agent, []scripthost.Value{scripthost.Str("x")}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndOk, res.EndState)
	require.Equal(t, "child-agent", sent)
}
