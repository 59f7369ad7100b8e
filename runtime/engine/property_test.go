package engine

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/aipack-run/aipack/runtime/agentparser"
	"github.com/aipack-run/aipack/runtime/aiclient"
	"github.com/aipack-run/aipack/runtime/scripthost"
	"github.com/aipack-run/aipack/runtime/store"
)

// TestOutputsLengthMatchesInputsProperty checks universal invariant 1
// through the stored tasks: a run with no skips and no script stages
// records exactly one task per input.
func TestOutputsLengthMatchesInputsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("task count equals input count", prop.ForAll(
		func(n int) bool {
			ai := &fakeAI{}
			_, _, rc := newTestCtx(t, ai)
			eng := New(rc.Store, rc.Hub)

			inputs := make([]scripthost.Value, n)
			for i := range inputs {
				inputs[i] = scripthost.Str("x")
			}
			res, err := eng.Run(context.Background(), rc, nil, simpleAgent(), inputs, nil)
			if err != nil || res.EndState != store.EndOk {
				return false
			}
			tasks, err := rc.Store.ListTasks(context.Background(), rc.RunID)
			return err == nil && len(tasks) == n
		},
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

// TestEveryTaskEndStateIsOkOrSkipProperty checks invariants 2 and 3: a
// run that ends Ok has every task in {Ok, Skip}, with monotonic phase
// timestamps.
func TestEveryTaskEndStateIsOkOrSkipProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("ok run has only Ok/Skip tasks with monotonic timestamps", prop.ForAll(
		func(skipEvery int) bool {
			ai := &fakeAI{}
			_, _, rc := newTestCtx(t, ai)
			eng := New(rc.Store, rc.Hub)

			agent := simpleAgent()
			agent.Data = `
				local n = tonumber(input)
				if n % ` + strconv.Itoa(skipEvery) + ` == 0 then
					return aip.flow.skip("multiple")
				end
			`

			inputs := make([]scripthost.Value, 5)
			for i := range inputs {
				inputs[i] = scripthost.Str(strconv.Itoa(i + 1))
			}
			res, err := eng.Run(context.Background(), rc, nil, agent, inputs, nil)
			if err != nil || res.EndState != store.EndOk {
				return false
			}
			tasks, err := rc.Store.ListTasks(context.Background(), rc.RunID)
			if err != nil {
				return false
			}
			for _, tk := range tasks {
				if tk.EndState != store.EndOk && tk.EndState != store.EndSkip {
					return false
				}
				if !monotonicTask(tk) {
					return false
				}
			}
			return true
		},
		gen.IntRange(2, 4),
	))

	properties.TestingRun(t)
}

func monotonicTask(tk *store.Task) bool {
	stamps := []*time.Time{
		tk.DataStart, tk.DataEnd, tk.AiStart, tk.AiEnd, tk.OutputStart, tk.OutputEnd, tk.End,
	}
	var lastSet bool
	var last time.Time
	for _, s := range stamps {
		if s == nil {
			continue
		}
		if lastSet && s.Before(last) {
			return false
		}
		last = *s
		lastSet = true
	}
	return true
}

// TestPinUpsertIsIdempotentPerIdentityProperty checks invariant 4: at
// most one pin row exists per (run, task?, iden), holding the last
// written content.
func TestPinUpsertIsIdempotentPerIdentityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated pin with same iden leaves exactly one row with last content", prop.ForAll(
		func(writes []string) bool {
			if len(writes) == 0 {
				return true
			}
			ai := &fakeAI{}
			st, _, rc := newTestCtx(t, ai)
			run, err := st.CreateRun(context.Background(), &store.Run{SessionID: rc.Session.ID, AgentName: "p"})
			if err != nil {
				return false
			}
			for _, w := range writes {
				if err := st.UpsertPin(context.Background(), &store.Pin{RunID: run.ID, Iden: "p", Content: w}); err != nil {
					return false
				}
			}
			pin, err := st.GetPin(context.Background(), run.ID, nil, "p")
			if err != nil || pin == nil {
				return false
			}
			return pin.Content == writes[len(writes)-1]
		},
		gen.SliceOfN(4, gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestConcurrencyBoundProperty checks invariant 7: the number of
// simultaneously in-flight AI calls never exceeds input_concurrency.
func TestConcurrencyBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 8
	properties := gopter.NewProperties(parameters)

	properties.Property("observed concurrent AI calls never exceed the configured bound", prop.ForAll(
		func(n, limit int) bool {
			var mu sync.Mutex
			inFlight, maxSeen := 0, 0
			release := make(chan struct{})
			ai := &fakeAI{reply: func(req aiclient.ChatRequest) (aiclient.ChatResult, error) {
				mu.Lock()
				inFlight++
				if inFlight > maxSeen {
					maxSeen = inFlight
				}
				mu.Unlock()
				<-release
				mu.Lock()
				inFlight--
				mu.Unlock()
				return aiclient.ChatResult{Content: "ok"}, nil
			}}
			_, _, rc := newTestCtx(t, ai)
			eng := New(rc.Store, rc.Hub)

			agent := simpleAgent()
			agent.Options = agentparser.Options{InputConcurrency: limit}

			inputs := make([]scripthost.Value, n)
			for i := range inputs {
				inputs[i] = scripthost.Str("x")
			}

			done := make(chan struct{})
			go func() {
				_, _ = eng.Run(context.Background(), rc, nil, agent, inputs, nil)
				close(done)
			}()

			for {
				mu.Lock()
				cur := inFlight
				mu.Unlock()
				if cur >= limit || cur >= n {
					break
				}
				time.Sleep(time.Millisecond)
			}
			close(release)
			<-done

			return maxSeen <= limit
		},
		gen.IntRange(3, 8),
		gen.IntRange(1, 3),
	))

	properties.TestingRun(t)
}

// TestCancellationStopsNewWorkProperty checks invariant 8: once the
// token is flipped before Run starts, no AI call is initiated.
func TestCancellationStopsNewWorkProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("pre-cancelled run makes zero AI calls regardless of input count", prop.ForAll(
		func(n int) bool {
			ai := &fakeAI{}
			_, _, rc := newTestCtx(t, ai)
			rc.Cancel.Cancel()
			eng := New(rc.Store, rc.Hub)

			inputs := make([]scripthost.Value, n)
			for i := range inputs {
				inputs[i] = scripthost.Str("x")
			}
			res, err := eng.Run(context.Background(), rc, nil, simpleAgent(), inputs, nil)
			return err == nil && res.EndState == store.EndCancel && ai.calls == 0
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
