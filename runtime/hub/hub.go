// Package hub implements the engine's fan-out event bus. It wraps an
// embedded, in-process NATS server (no JetStream, no persistence) so that
// publishes are naturally non-blocking and are simply dropped when no
// observer has subscribed, matching spec §4.2's contract. The embedded
// pattern follows the ODSapper-CLIAIMONITOR example's internal/nats
// package.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EventKind classifies a Hub event.
type EventKind string

const (
	EventRtModelChange EventKind = "RtModelChange"
	EventLogLine       EventKind = "LogLine"
	EventExecStart     EventKind = "ExecStart"
	EventExecEnd       EventKind = "ExecEnd"
	EventRunStart      EventKind = "RunStart"
	EventRunEnd        EventKind = "RunEnd"
)

// Event is the payload published to and delivered from the Hub.
type Event struct {
	Kind     EventKind `json:"kind"`
	Entity   string    `json:"entity,omitempty"`
	ID       int64     `json:"id,omitempty"`
	Level    string    `json:"level,omitempty"`
	RunID    int64     `json:"run_id,omitempty"`
	TaskID   int64     `json:"task_id,omitempty"`
	Message  string    `json:"message,omitempty"`
	EndState string    `json:"end_state,omitempty"`
}

// Hub is an in-process, best-effort broadcast bus. It embeds a NATS core
// server; subjects are namespaced "aipack.<kind>" for global events and
// "aipack.run.<run_id>.<kind>" for per-run events, which is what gives a
// single subscriber per-publisher-order delivery (NATS preserves publish
// order for a single subject/subscriber pair).
type Hub struct {
	srv  *server.Server
	nc   *nats.Conn
	once sync.Once
}

// New starts an embedded NATS server bound to localhost on an ephemeral
// port and returns a Hub connected to it. The server is not exposed
// beyond the local process.
func New() (*Hub, error) {
	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           -1, // ephemeral port, local only
		NoLog:          true,
		NoSigs:         true,
		DisableShortcut: false,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("hub: start embedded nats: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("hub: embedded nats not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("hub: connect to embedded nats: %w", err)
	}
	return &Hub{srv: ns, nc: nc}, nil
}

// Close shuts down the connection and embedded server. Safe to call
// multiple times.
func (h *Hub) Close() {
	h.once.Do(func() {
		if h.nc != nil {
			h.nc.Close()
		}
		if h.srv != nil {
			h.srv.Shutdown()
		}
	})
}

func subjectFor(e Event) string {
	if e.RunID != 0 {
		return fmt.Sprintf("aipack.run.%d.%s", e.RunID, e.Kind)
	}
	return "aipack." + string(e.Kind)
}

// Publish sends an event. It never blocks the caller: NATS core publish
// is fire-and-forget, and an event with no subscriber is simply dropped
// (no persistence, no back-pressure onto the publisher).
func (h *Hub) Publish(e Event) {
	if h == nil || h.nc == nil {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = h.nc.Publish(subjectFor(e), b)
}

// Observer receives events delivered to a subscription.
type Observer struct {
	sub *nats.Subscription
	ch  chan Event
}

// Subscribe attaches an observer to all events ("aipack.>" wildcard) or,
// when runID is non-zero, to only that Run's events. Closing the
// returned Observer unsubscribes without affecting the publisher (spec
// §4.2 contract (iii)).
func (h *Hub) Subscribe(ctx context.Context, runID int64) (*Observer, error) {
	subject := "aipack.>"
	if runID != 0 {
		subject = fmt.Sprintf("aipack.run.%d.>", runID)
	}
	ch := make(chan Event, 256)
	sub, err := h.nc.Subscribe(subject, func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return
		}
		select {
		case ch <- e:
		case <-ctx.Done():
		default:
			// slow observer: drop rather than block the publisher.
		}
	})
	if err != nil {
		return nil, fmt.Errorf("hub: subscribe: %w", err)
	}
	return &Observer{sub: sub, ch: ch}, nil
}

// Events returns the channel events are delivered on.
func (o *Observer) Events() <-chan Event { return o.ch }

// Close unsubscribes the observer.
func (o *Observer) Close() {
	if o.sub != nil {
		_ = o.sub.Unsubscribe()
	}
}
