package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aipack-run/aipack/runtime/agentparser"
	"github.com/aipack-run/aipack/runtime/aiclient"
	"github.com/aipack-run/aipack/runtime/rtctx"
	"github.com/aipack-run/aipack/runtime/scripthost"
	"github.com/aipack-run/aipack/runtime/store"
)

// TestScenarioCooperativeCancelMidRun exercises scenario S4. With
// input_concurrency=2, the first two tasks' AI calls complete
// immediately (so they finish Ok before anyone cancels); the next two
// tasks' AI calls block, simulating "in-flight at the moment cancel
// fires" — once released they must finish that Ai stage but land on
// Cancel rather than continuing to Output. The remaining six tasks
// never reach the dispatch loop's AI call at all.
func TestScenarioCooperativeCancelMidRun(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	blockedStarted := 0
	release := make(chan struct{})
	ai := &fakeAI{reply: func(req aiclient.ChatRequest) (aiclient.ChatResult, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 2 {
			return aiclient.ChatResult{Content: "ok"}, nil
		}
		mu.Lock()
		blockedStarted++
		mu.Unlock()
		<-release
		return aiclient.ChatResult{Content: "ok"}, nil
	}}
	_, _, rc := newTestCtx(t, ai)
	eng := New(rc.Store, rc.Hub)

	agent := simpleAgent()
	agent.Options = agentparser.Options{InputConcurrency: 2}

	inputs := make([]scripthost.Value, 10)
	for i := range inputs {
		inputs[i] = scripthost.Str("x")
	}

	done := make(chan struct {
		res store.EndState
		err error
	}, 1)
	go func() {
		res, err := eng.Run(context.Background(), rc, nil, agent, inputs, nil)
		done <- struct {
			res store.EndState
			err error
		}{res.EndState, err}
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return blockedStarted == 2
	}, time.Second, time.Millisecond)

	rc.Cancel.Cancel()
	close(release)

	out := <-done
	require.NoError(t, out.err)
	require.Equal(t, store.EndCancel, out.res)

	tasks, err := rc.Store.ListTasks(context.Background(), rc.RunID)
	require.NoError(t, err)
	require.Len(t, tasks, 10)
	var okCount, cancelCount int
	for _, tk := range tasks {
		switch tk.EndState {
		case store.EndOk:
			okCount++
		case store.EndCancel:
			cancelCount++
		default:
			t.Fatalf("unexpected task end state %v", tk.EndState)
		}
	}
	require.Equal(t, 2, okCount, "tasks that finished their Ai call before cancel stay Ok")
	require.Equal(t, 8, cancelCount, "in-flight tasks transition to Cancel at the next boundary; the rest never start")

	run, err := rc.Store.GetRun(context.Background(), rc.RunID)
	require.NoError(t, err)
	require.NotNil(t, run.TasksEnd, "tasks_end timestamp must be set")
}

// TestScenarioPinUpsertWithPriorityAndLabel exercises scenario S6: a
// pin written twice with the same identity collapses to one row
// carrying the last priority/content, and the task label is untouched
// unless set_label was also called.
func TestScenarioPinUpsertWithPriorityAndLabel(t *testing.T) {
	ai := &fakeAI{}
	_, _, rc := newTestCtx(t, ai)
	eng := New(rc.Store, rc.Hub)

	agent := simpleAgent()
	agent.Data = `
		aip.task.pin("p", "v1")
		aip.task.pin("p", 0.5, { label = "L", content = "v2" })
	`

	res, err := eng.Run(context.Background(), rc, nil, agent, []scripthost.Value{scripthost.Str("x")}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndOk, res.EndState)

	tasks, err := rc.Store.ListTasks(context.Background(), rc.RunID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	taskID := tasks[0].ID
	pin, err := rc.Store.GetPin(context.Background(), rc.RunID, &taskID, "p")
	require.NoError(t, err)
	require.NotNil(t, pin)
	require.NotNil(t, pin.Priority)
	require.Equal(t, 0.5, *pin.Priority)
	require.Contains(t, pin.Content, "v2")
	require.Empty(t, tasks[0].Label, "label must stay unset when set_label was never called")
}

// TestScenarioLongContentOffloadsToBlob exercises scenario S7: a long
// Output value is truncated inline but the full content round-trips
// through the Inout Blob join.
func TestScenarioLongContentOffloadsToBlob(t *testing.T) {
	long := strings.Repeat("z", 10000)
	ai := &fakeAI{}
	_, _, rc := newTestCtx(t, ai)
	eng := New(rc.Store, rc.Hub)

	agent := simpleAgent()
	agent.Output = `return "` + long + `"`

	res, err := eng.Run(context.Background(), rc, nil, agent, []scripthost.Value{scripthost.Str("x")}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndOk, res.EndState)

	tasks, err := rc.Store.ListTasks(context.Background(), rc.RunID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	tk := tasks[0]
	require.LessOrEqual(t, len(tk.OutputShort), len("...")+64)
	require.NotEmpty(t, tk.OutputUID)

	full, err := rc.Store.DisplayContent(context.Background(), tk.OutputShort, tk.OutputUID, store.BlobOut)
	require.NoError(t, err)
	require.Equal(t, long, full)
}

// TestScenarioSubAgentReceivesParentRunID exercises scenario S5 more
// precisely than the unit-level SendSub test: it asserts the parent run
// ends Ok with the child's AfterAll result, and that the same Engine
// records the child run with parent_run_id set to the parent's run id.
func TestScenarioSubAgentReceivesParentRunID(t *testing.T) {
	ai := &fakeAI{}
	st, h, rc := newTestCtx(t, ai)
	eng := New(st, h)

	childAgent := simpleAgent()
	childAgent.AfterAll = `return aip.flow.after_all_response({ result = "CHILD-OK" })`

	var childRunID int64
	rc.SendSub = func(parentRunID int64, relativeTo string, name string, opts scripthost.Value) (scripthost.Value, error) {
		childRc := (&rtctx.Ctx{
			Store: rc.Store, Hub: rc.Hub, AI: rc.AI, NewHost: rc.NewHost, SendSub: rc.SendSub, Session: rc.Session,
		})
		childRc.Cancel = rc.Cancel
		childRes, err := eng.Run(context.Background(), childRc, &parentRunID, childAgent, []scripthost.Value{scripthost.Str("x")}, nil)
		childRunID = childRc.RunID
		return childRes.Value, err
	}

	parentAgent := simpleAgent()
	parentAgent.Data = `return aip.flow.data_response({ data = aip.agent.run("child.aip", { inputs = { "x" } }) })`
	parentAgent.Output = `return data`

	res, err := eng.Run(context.Background(), rc, nil, parentAgent, []scripthost.Value{scripthost.Str("x")}, nil)
	require.NoError(t, err)
	require.Equal(t, store.EndOk, res.EndState)
	require.Contains(t, res.Value.Str, "CHILD-OK")

	child, err := rc.Store.GetRun(context.Background(), childRunID)
	require.NoError(t, err)
	require.NotNil(t, child.ParentRunID)
	require.Equal(t, rc.RunID, *child.ParentRunID)
}
