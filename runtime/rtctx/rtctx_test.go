package rtctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aipack-run/aipack/runtime/scripthost"
	"github.com/aipack-run/aipack/runtime/store"
)

func TestCancelTokenFlipsOnce(t *testing.T) {
	tok := NewCancelToken()
	require.False(t, tok.Cancelled())

	select {
	case <-tok.Done():
		t.Fatal("done channel must not be closed before Cancel")
	default:
	}

	tok.Cancel()
	tok.Cancel() // idempotent, must not panic on double-close

	require.True(t, tok.Cancelled())
	select {
	case <-tok.Done():
	default:
		t.Fatal("done channel must be closed after Cancel")
	}
}

func TestCancelTokenWatchedByMultipleConsumers(t *testing.T) {
	tok := NewCancelToken()
	const n = 5
	seen := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			<-tok.Done()
			seen <- struct{}{}
		}()
	}
	tok.Cancel()
	for i := 0; i < n; i++ {
		select {
		case <-seen:
		case <-time.After(time.Second):
			t.Fatal("not all consumers observed cancellation")
		}
	}
}

func TestWithStageAndWithTaskCloneIndependently(t *testing.T) {
	base := New(nil, nil, nil, nil, nil, nil, store.Session{ID: 1, UID: "sess-1"}, 10, "run-10")

	staged := base.WithStage("data")
	require.Equal(t, "data", staged.Stage)
	require.Empty(t, base.Stage, "original must not be mutated")

	tasked := staged.WithTask(99, "task-99")
	require.Equal(t, int64(99), tasked.TaskID)
	require.Equal(t, "task-99", tasked.TaskUID)
	require.Equal(t, "data", tasked.Stage, "stage carries through WithTask")
	require.Zero(t, staged.TaskID, "parent handle must not be mutated")

	require.Same(t, base.Cancel, tasked.Cancel, "clones share the same cancellation token")
}

func TestWithSubRunResetsTaskAndStageButKeepsCancelToken(t *testing.T) {
	base := New(nil, nil, nil, nil, nil, nil, store.Session{ID: 1, UID: "sess-1"}, 10, "run-10")
	parent := base.WithStage("data").WithTask(5, "task-5")

	child := parent.WithSubRun(20, "run-20")
	require.Equal(t, int64(20), child.RunID)
	require.Equal(t, "run-20", child.RunUID)
	require.Zero(t, child.TaskID)
	require.Empty(t, child.TaskUID)
	require.Empty(t, child.Stage)
	require.Same(t, base.Cancel, child.Cancel)
}

func TestStdContextCancelledWhenTokenFlips(t *testing.T) {
	base := New(nil, nil, nil, nil, nil, nil, store.Session{}, 1, "run-1")
	ctx := base.StdContext(context.Background())

	base.Cancel.Cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("std context must be cancelled when the token flips")
	}
}

func TestHostCtxMergesMetaWithDynamicCoordinates(t *testing.T) {
	base := New(nil, nil, nil, nil, nil, nil, store.Session{ID: 1, UID: "sess-1"}, 10, "run-10")
	base.Meta = scripthost.Ctx{WorkspaceDir: "/ws", AgentName: "my-agent"}

	hc := base.WithTask(3, "task-3").HostCtx()
	require.Equal(t, "/ws", hc.WorkspaceDir)
	require.Equal(t, "my-agent", hc.AgentName)
	require.Equal(t, "sess-1", hc.SessionUID)
	require.Equal(t, "run-10", hc.RunUID)
	require.Equal(t, "task-3", hc.TaskUID)
}

func TestCancelledConvenienceMethod(t *testing.T) {
	base := New(nil, nil, nil, nil, nil, nil, store.Session{}, 1, "run-1")
	require.False(t, base.Cancelled())
	base.Cancel.Cancel()
	require.True(t, base.Cancelled())
}
