// Package aiclient defines the engine-facing AI Client contract (spec
// §4.7): a pure functional chat call that hides provider-specific
// encoding/streaming behind a single aggregated result. Concrete
// provider adapters live in the anthropic/, openai/, and bedrock/
// subpackages; pricing lookup lives in pricing/.
package aiclient

import (
	"context"
	"time"
)

// PartKind mirrors agentparser.PartKind without importing that package,
// keeping aiclient usable independent of the Agent Parser.
type PartKind string

const (
	PartSystem      PartKind = "system"
	PartInstruction PartKind = "instruction"
	PartAssistant   PartKind = "assistant"
)

// PromptPart is one rendered prompt section passed to the AI Client.
type PromptPart struct {
	Kind  PartKind
	Text  string
	Cache bool
}

// Attachment is an out-of-band input (image, file) carried alongside the
// rendered prompt parts.
type Attachment struct {
	MimeType string
	Data     []byte
	URL      string // set instead of Data for a remote reference
}

// Options carries the subset of agent Options relevant to a single chat
// call (already merged/overridden per spec §4.6 precedence by the
// caller).
type Options struct {
	Temperature *float64
	TopP        *float64
}

// ChatRequest is the input to Client.Chat.
type ChatRequest struct {
	ProviderModel string // e.g. "anthropic/claude-3-opus" or a bare model id
	Parts         []PromptPart
	Options       Options
	Attachments   []Attachment
}

// Usage reports token accounting for a single chat call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResult is the aggregated response returned by Client.Chat (spec
// §4.7).
type ChatResult struct {
	Content     string
	Usage       Usage
	PriceUSD    *float64 // nil when pricing is unknown for (adapter, model)
	ModelName   string
	AdapterKind string
	Duration    time.Duration
}

// Client is the engine-facing AI Client interface. Implementations must
// not retry internally beyond what the provider SDK already does;
// engine-level retry is explicitly out of scope (spec §4.10.5).
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResult, error)
}

// ErrRateLimited is wrapped by adapter errors caused by a provider-side
// rate-limit response, letting callers (and the rate limiter's observe
// loop) distinguish it from other failures.
var ErrRateLimited = rateLimitedSentinel{}

type rateLimitedSentinel struct{}

func (rateLimitedSentinel) Error() string { return "ai client: rate limited by provider" }
