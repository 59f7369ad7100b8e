// Package openai adapts aiclient.Client onto the OpenAI Chat Completions
// API via github.com/openai/openai-go, the official SDK already present
// in the teacher's dependency set. Structurally grounded on the
// goadesign-goa-ai features/model/openai adapter (ChatClient interface
// over the SDK subset used, New/NewFromAPIKey pair, translateResponse
// helper), adjusted to openai-go's request/param shape.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/aipack-run/aipack/runtime/aiclient"
	"github.com/aipack-run/aipack/runtime/aiclient/pricing"
)

// CompletionsClient captures the subset of the OpenAI SDK used by the
// adapter. Satisfied by &openai.Client{}.Chat.Completions.
type CompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client implements aiclient.Client against OpenAI Chat Completions.
type Client struct {
	chat         CompletionsClient
	defaultModel string
}

// New builds a Client from an explicit CompletionsClient (real or fake).
func New(chat CompletionsClient, defaultModel string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: completions client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, defaultModel: defaultModel}, nil
}

// NewFromAPIKey constructs a Client from an explicit, non-empty API key
// using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, defaultModel)
}

// Chat implements aiclient.Client.
func (c *Client) Chat(ctx context.Context, req aiclient.ChatRequest) (aiclient.ChatResult, error) {
	start := time.Now()
	model := req.ProviderModel
	if model == "" {
		model = c.defaultModel
	}

	params, err := buildParams(model, req)
	if err != nil {
		return aiclient.ChatResult{}, err
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return aiclient.ChatResult{}, fmt.Errorf("%w: %w", aiclient.ErrRateLimited, err)
		}
		return aiclient.ChatResult{}, fmt.Errorf("openai: chat.completions.new: %w", err)
	}
	return translateResponse(resp, model, time.Since(start)), nil
}

func buildParams(model string, req aiclient.ChatRequest) (openai.ChatCompletionNewParams, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, p := range req.Parts {
		if p.Text == "" {
			continue
		}
		switch p.Kind {
		case aiclient.PartSystem:
			messages = append(messages, openai.SystemMessage(p.Text))
		case aiclient.PartAssistant:
			messages = append(messages, openai.AssistantMessage(p.Text))
		default:
			messages = append(messages, openai.UserMessage(p.Text))
		}
	}
	if len(messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: at least one prompt part is required")
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Options.Temperature != nil {
		params.Temperature = openai.Float(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		params.TopP = openai.Float(*req.Options.TopP)
	}
	return params, nil
}

func translateResponse(resp *openai.ChatCompletion, model string, dur time.Duration) aiclient.ChatResult {
	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	usage := aiclient.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	return aiclient.ChatResult{
		Content:     content,
		Usage:       usage,
		PriceUSD:    pricing.Lookup("openai", model, usage),
		ModelName:   model,
		AdapterKind: "openai",
		Duration:    dur,
	}
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
