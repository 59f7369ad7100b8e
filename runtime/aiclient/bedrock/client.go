// Package bedrock adapts aiclient.Client onto the AWS Bedrock Converse
// API via github.com/aws/aws-sdk-go-v2/service/bedrockruntime. Grounded
// on the goadesign-goa-ai features/model/bedrock client: a RuntimeClient
// interface over the SDK's Converse call (so tests can substitute a
// fake) and a translate step mapping Converse output content/usage back
// to the engine's result shape.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/aipack-run/aipack/runtime/aiclient"
	"github.com/aipack-run/aipack/runtime/aiclient/pricing"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
// used by the adapter; satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements aiclient.Client against AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
}

// New builds a Client from an explicit RuntimeClient (real or fake).
func New(runtime RuntimeClient, defaultModel string) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: runtime, defaultModel: defaultModel}, nil
}

// Chat implements aiclient.Client.
func (c *Client) Chat(ctx context.Context, req aiclient.ChatRequest) (aiclient.ChatResult, error) {
	start := time.Now()
	model := req.ProviderModel
	if model == "" {
		model = c.defaultModel
	}

	input, err := c.buildInput(model, req)
	if err != nil {
		return aiclient.ChatResult{}, err
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isThrottled(err) {
			return aiclient.ChatResult{}, fmt.Errorf("%w: %w", aiclient.ErrRateLimited, err)
		}
		return aiclient.ChatResult{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateOutput(out, model, time.Since(start)), nil
}

func (c *Client) buildInput(model string, req aiclient.ChatRequest) (*bedrockruntime.ConverseInput, error) {
	var system []brtypes.SystemContentBlock
	var blocks []brtypes.ContentBlock
	for _, p := range req.Parts {
		if p.Text == "" {
			continue
		}
		if p.Kind == aiclient.PartSystem {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: p.Text})
			continue
		}
		blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: p.Text})
	}
	if len(blocks) == 0 {
		return nil, errors.New("bedrock: at least one instruction/assistant prompt part is required")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: &model,
		Messages: []brtypes.Message{
			{Role: brtypes.ConversationRoleUser, Content: blocks},
		},
	}
	if len(system) > 0 {
		input.System = system
	}
	if req.Options.Temperature != nil || req.Options.TopP != nil {
		cfg := &brtypes.InferenceConfiguration{}
		if req.Options.Temperature != nil {
			t := float32(*req.Options.Temperature)
			cfg.Temperature = &t
		}
		if req.Options.TopP != nil {
			p := float32(*req.Options.TopP)
			cfg.TopP = &p
		}
		input.InferenceConfig = cfg
	}
	return input, nil
}

func translateOutput(out *bedrockruntime.ConverseOutput, model string, dur time.Duration) aiclient.ChatResult {
	var content string
	if msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOut.Value.Content {
			if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
				content += text.Value
			}
		}
	}
	var usage aiclient.Usage
	if out.Usage != nil {
		usage = aiclient.Usage{
			InputTokens:  int(out.Usage.InputTokens),
			OutputTokens: int(out.Usage.OutputTokens),
		}
	}
	return aiclient.ChatResult{
		Content:     content,
		Usage:       usage,
		PriceUSD:    pricing.Lookup("bedrock", model, usage),
		ModelName:   model,
		AdapterKind: "bedrock",
		Duration:    dur,
	}
}

func isThrottled(err error) bool {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.Response.StatusCode == 429
	}
	return false
}
