package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/aipack-run/aipack/runtime/aiclient"
)

type fakeMessages struct {
	gotParams sdk.MessageNewParams
	resp      *sdk.Message
	err       error
}

func (f *fakeMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.gotParams = body
	return f.resp, f.err
}

func TestChatBuildsParamsAndTranslatesResponse(t *testing.T) {
	fm := &fakeMessages{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{{Type: "text", Text: "hello there"}},
			Usage:   sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	c, err := New(fm, "claude-3-5-sonnet", 1024)
	require.NoError(t, err)

	res, err := c.Chat(context.Background(), aiclient.ChatRequest{
		Parts: []aiclient.PromptPart{
			{Kind: aiclient.PartSystem, Text: "Be terse."},
			{Kind: aiclient.PartInstruction, Text: "Say hi."},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", res.Content)
	require.Equal(t, 10, res.Usage.InputTokens)
	require.Equal(t, 5, res.Usage.OutputTokens)
	require.Equal(t, "anthropic", res.AdapterKind)
	require.Equal(t, "claude-3-5-sonnet", res.ModelName)
	require.NotNil(t, res.PriceUSD)

	require.Equal(t, sdk.Model("claude-3-5-sonnet"), fm.gotParams.Model)
	require.Len(t, fm.gotParams.System, 1)
	require.Equal(t, "Be terse.", fm.gotParams.System[0].Text)
}

func TestChatRequiresAtLeastOneNonSystemPart(t *testing.T) {
	fm := &fakeMessages{resp: &sdk.Message{}}
	c, err := New(fm, "claude-3-5-sonnet", 1024)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), aiclient.ChatRequest{
		Parts: []aiclient.PromptPart{{Kind: aiclient.PartSystem, Text: "only system"}},
	})
	require.Error(t, err)
}

func TestNewRejectsMissingDefaultModel(t *testing.T) {
	_, err := New(&fakeMessages{}, "", 1024)
	require.Error(t, err)
}
