package openai

import (
	"context"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/aipack-run/aipack/runtime/aiclient"
)

type fakeCompletions struct {
	gotParams oai.ChatCompletionNewParams
	resp      *oai.ChatCompletion
	err       error
}

func (f *fakeCompletions) New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error) {
	f.gotParams = body
	return f.resp, f.err
}

func TestChatBuildsMessagesAndTranslatesResponse(t *testing.T) {
	fc := &fakeCompletions{
		resp: &oai.ChatCompletion{
			Choices: []oai.ChatCompletionChoice{
				{Message: oai.ChatCompletionMessage{Content: "hi back"}},
			},
			Usage: oai.CompletionUsage{PromptTokens: 20, CompletionTokens: 8},
		},
	}
	c, err := New(fc, "gpt-4o")
	require.NoError(t, err)

	res, err := c.Chat(context.Background(), aiclient.ChatRequest{
		Parts: []aiclient.PromptPart{
			{Kind: aiclient.PartSystem, Text: "Be terse."},
			{Kind: aiclient.PartInstruction, Text: "Say hi."},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "hi back", res.Content)
	require.Equal(t, 20, res.Usage.InputTokens)
	require.Equal(t, 8, res.Usage.OutputTokens)
	require.Equal(t, "openai", res.AdapterKind)
	require.NotNil(t, res.PriceUSD)
	require.Equal(t, "gpt-4o", fc.gotParams.Model)
	require.Len(t, fc.gotParams.Messages, 2)
}

func TestChatRequiresAtLeastOnePart(t *testing.T) {
	fc := &fakeCompletions{resp: &oai.ChatCompletion{}}
	c, err := New(fc, "gpt-4o")
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), aiclient.ChatRequest{})
	require.Error(t, err)
}
