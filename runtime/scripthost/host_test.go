package scripthost

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunPlainValue(t *testing.T) {
	h := New(Ctx{SessionUID: "s1"}, nil, nil, nil)
	defer h.Close()

	sr, err := h.Run(`return input .. "-suffix"`, map[string]Value{"input": Str("hello")})
	require.NoError(t, err)
	require.Equal(t, ReturnValue, sr.Kind)
	require.Equal(t, "hello-suffix", sr.Value.Str)
}

func TestRunNoneReturn(t *testing.T) {
	h := New(Ctx{}, nil, nil, nil)
	defer h.Close()

	sr, err := h.Run(`local x = 1`, nil)
	require.NoError(t, err)
	require.Equal(t, ReturnNone, sr.Kind)
}

func TestRunBeforeAllResponse(t *testing.T) {
	h := New(Ctx{}, nil, nil, nil)
	defer h.Close()

	sr, err := h.Run(`return aip.flow.before_all_response({ inputs = {1, 2, 3}, options = { input_concurrency = 3 } })`, map[string]Value{"inputs": Array(nil)})
	require.NoError(t, err)
	require.Equal(t, ReturnBeforeAllResponse, sr.Kind)
	require.True(t, sr.HasInputs)
	require.Len(t, sr.Inputs, 3)
	require.Equal(t, int64(1), sr.Inputs[0].Int)
}

func TestRunDataResponseSkip(t *testing.T) {
	h := New(Ctx{}, nil, nil, nil)
	defer h.Close()

	sr, err := h.Run(`return aip.flow.skip("nothing to do")`, nil)
	require.NoError(t, err)
	require.Equal(t, ReturnSkip, sr.Kind)
	require.Equal(t, "nothing to do", sr.SkipReason)
}

func TestRunDataResponseOverride(t *testing.T) {
	h := New(Ctx{}, nil, nil, nil)
	defer h.Close()

	sr, err := h.Run(`return aip.flow.data_response({ data = { foo = "bar" } })`, nil)
	require.NoError(t, err)
	require.Equal(t, ReturnDataResponse, sr.Kind)
	require.True(t, sr.HasData)
	require.Equal(t, "bar", sr.Data.Map["foo"].Str)
}

func TestCtxInjection(t *testing.T) {
	h := New(Ctx{SessionUID: "sess-1", RunUID: "run-1", AgentName: "demo"}, nil, nil, nil)
	defer h.Close()

	sr, err := h.Run(`return CTX.AGENT_NAME .. "/" .. CTX.SESSION_UID`, nil)
	require.NoError(t, err)
	require.Equal(t, "demo/sess-1", sr.Value.Str)
}

func TestCtxTaskUidNullWhenAbsent(t *testing.T) {
	h := New(Ctx{}, nil, nil, nil)
	defer h.Close()

	sr, err := h.Run(`if CTX.TASK_UID == nil then return "lua-nil" else return "not-nil" end`, nil)
	require.NoError(t, err)
	// CTX.TASK_UID is the Null sentinel (a userdata), which Lua's `== nil`
	// treats as not-equal-to-nil: it is a distinct, non-erasing value.
	require.Equal(t, "not-nil", sr.Value.Str)
}

type fakeAgentRunner struct {
	gotName string
	gotOpts Value
	result  Value
}

func (f *fakeAgentRunner) RunSubAgent(name string, opts Value) (Value, error) {
	f.gotName = name
	f.gotOpts = opts
	return f.result, nil
}

func TestAgentRunDelegates(t *testing.T) {
	runner := &fakeAgentRunner{result: Str("CHILD-OK")}
	h := New(Ctx{}, runner, nil, nil)
	defer h.Close()

	sr, err := h.Run(`return aip.agent.run("child.aip", { inputs = {"x"} })`, nil)
	require.NoError(t, err)
	require.Equal(t, "child.aip", runner.gotName)
	require.Equal(t, ReturnValue, sr.Kind)
	require.Equal(t, "CHILD-OK", sr.Value.Str)
}

type fakeRunSink struct {
	pinIden    string
	pinContent Value
	label      string
}

func (f *fakeRunSink) PinRun(iden string, priority *float64, content Value) error {
	f.pinIden = iden
	f.pinContent = content
	return nil
}
func (f *fakeRunSink) SetRunLabel(label string) error {
	f.label = label
	return nil
}

type fakeTaskSink struct {
	pinIden     string
	pinPriority *float64
	pinContent  Value
}

func (f *fakeTaskSink) PinTask(iden string, priority *float64, content Value) error {
	f.pinIden = iden
	f.pinPriority = priority
	f.pinContent = content
	return nil
}
func (f *fakeTaskSink) SetTaskLabel(label string) error { return nil }

func TestTaskPinUpsertWithPriorityAndLabel(t *testing.T) {
	sink := &fakeTaskSink{}
	h := New(Ctx{}, nil, nil, sink)
	defer h.Close()

	_, err := h.Run(`aip.task.pin("p", 0.5, { label = "L", content = "v2" })`, nil)
	require.NoError(t, err)
	require.Equal(t, "p", sink.pinIden)
	require.NotNil(t, sink.pinPriority)
	require.InDelta(t, 0.5, *sink.pinPriority, 0.0001)
	require.Equal(t, "L", sink.pinContent.Map["label"].Str)
}

func TestRunSetLabel(t *testing.T) {
	sink := &fakeRunSink{}
	h := New(Ctx{}, nil, sink, nil)
	defer h.Close()

	_, err := h.Run(`aip.run.set_label("my-run")`, nil)
	require.NoError(t, err)
	require.Equal(t, "my-run", sink.label)
}

func TestTaskPinWithoutSinkRaises(t *testing.T) {
	h := New(Ctx{}, nil, nil, nil)
	defer h.Close()

	_, err := h.Run(`aip.task.pin("p", "v1")`, nil)
	require.Error(t, err)
}
