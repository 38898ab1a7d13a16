package services

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perspective-engine/backend/pkg/models"
)

type fakeConverse struct {
	input  *bedrockruntime.ConverseInput
	output *bedrockruntime.ConverseOutput
	err    error
}

func (f *fakeConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.output, f.err
}

func textOutput(parts ...string) *bedrockruntime.ConverseOutput {
	content := make([]types.ContentBlock, 0, len(parts))
	for _, p := range parts {
		content = append(content, &types.ContentBlockMemberText{Value: p})
	}
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{Role: types.ConversationRoleAssistant, Content: content},
		},
	}
}

func TestBedrockReasoner_Run(t *testing.T) {
	fake := &fakeConverse{output: textOutput("Think ", "twice.")}
	reasoner := &BedrockReasoner{client: fake}

	out, err := reasoner.Run(context.Background(), "anthropic.claude-3-haiku", BuildConversation("sys", []models.DecisionEntry{{Prompt: "earlier"}}, "now"))
	require.NoError(t, err)
	assert.Equal(t, "Think twice.", out)

	require.NotNil(t, fake.input)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(fake.input.ModelId))
	require.Len(t, fake.input.System, 1)
	assert.Equal(t, "sys", fake.input.System[0].(*types.SystemContentBlockMemberText).Value)

	// consecutive user turns collapse into one message
	require.Len(t, fake.input.Messages, 1)
	assert.Equal(t, types.ConversationRoleUser, fake.input.Messages[0].Role)
	require.Len(t, fake.input.Messages[0].Content, 2)
	assert.Equal(t, "Decision: now", fake.input.Messages[0].Content[1].(*types.ContentBlockMemberText).Value)
}

func TestBedrockReasoner_AlternatingRoles(t *testing.T) {
	input := toConverseInput("m", []models.Message{
		{Role: models.RoleUser, Content: "a"},
		{Role: models.RoleAssistant, Content: "b"},
		{Role: models.RoleUser, Content: "c"},
	})
	require.Len(t, input.Messages, 3)
	assert.Equal(t, types.ConversationRoleAssistant, input.Messages[1].Role)
	assert.Empty(t, input.System)
}

func TestBedrockReasoner_EmptyOutput(t *testing.T) {
	reasoner := &BedrockReasoner{client: &fakeConverse{output: textOutput("  ")}}
	_, err := reasoner.Run(context.Background(), "m", nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestBedrockReasoner_Throttled(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	reasoner := &BedrockReasoner{client: &fakeConverse{err: apiErr}}

	_, err := reasoner.Run(context.Background(), "m", nil)
	assert.ErrorIs(t, err, ErrReasonerThrottled)
}

func TestBedrockReasoner_OtherErrors(t *testing.T) {
	boom := errors.New("dial tcp: timeout")
	reasoner := &BedrockReasoner{client: &fakeConverse{err: boom}}

	_, err := reasoner.Run(context.Background(), "m", nil)
	assert.ErrorIs(t, err, boom)
}
