// Package anthropic adapts aiclient.Client onto the Anthropic Messages
// API via github.com/anthropics/anthropic-sdk-go. Grounded on the
// goadesign-goa-ai features/model/anthropic client: an interface over
// the subset of the SDK's MessageService used (so tests can substitute a
// fake), a New/NewFromAPIKey constructor pair, and a translateResponse
// helper mapping SDK content blocks and usage back to the engine's
// result shape.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aipack-run/aipack/runtime/aiclient"
	"github.com/aipack-run/aipack/runtime/aiclient/pricing"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter. Satisfied by &sdk.Client{}.Messages.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements aiclient.Client against Anthropic Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	defaultMax   int64
}

// New builds a Client from an explicit MessagesClient (real or fake).
func New(msg MessagesClient, defaultModel string, defaultMaxTokens int64) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: defaultModel, defaultMax: defaultMaxTokens}, nil
}

// NewFromAPIKey constructs a Client from an explicit, non-empty API key
// using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, defaultModel, 4096)
}

// Chat implements aiclient.Client.
func (c *Client) Chat(ctx context.Context, req aiclient.ChatRequest) (aiclient.ChatResult, error) {
	start := time.Now()
	model := req.ProviderModel
	if model == "" {
		model = c.defaultModel
	}

	params, err := c.buildParams(model, req)
	if err != nil {
		return aiclient.ChatResult{}, err
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return aiclient.ChatResult{}, fmt.Errorf("%w: %w", aiclient.ErrRateLimited, err)
		}
		return aiclient.ChatResult{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return translateResponse(msg, model, time.Since(start)), nil
}

func (c *Client) buildParams(model string, req aiclient.ChatRequest) (sdk.MessageNewParams, error) {
	var system []sdk.TextBlockParam
	var blocks []sdk.ContentBlockParamUnion
	for _, p := range req.Parts {
		switch p.Kind {
		case aiclient.PartSystem:
			if p.Text != "" {
				system = append(system, sdk.TextBlockParam{Text: p.Text})
			}
		default:
			if p.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(p.Text))
			}
		}
	}
	if len(blocks) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: at least one instruction/assistant prompt part is required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: c.defaultMax,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Options.Temperature != nil {
		params.Temperature = sdk.Float(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		params.TopP = sdk.Float(*req.Options.TopP)
	}
	return params, nil
}

func translateResponse(msg *sdk.Message, model string, dur time.Duration) aiclient.ChatResult {
	var content string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			content += block.Text
		}
	}
	usage := aiclient.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return aiclient.ChatResult{
		Content:     content,
		Usage:       usage,
		PriceUSD:    pricing.Lookup("anthropic", model, usage),
		ModelName:   model,
		AdapterKind: "anthropic",
		Duration:    dur,
	}
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
