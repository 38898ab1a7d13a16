package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"perspective-engine/backend/pkg/models"
)

// ErrReasonerThrottled is returned when the provider rejects a call for rate reasons.
var ErrReasonerThrottled = errors.New("reasoner: throttled")

// converseAPI abstracts the Bedrock runtime method used here so tests can fake it.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockReasoner implements Reasoner with the AWS Bedrock Converse API.
type BedrockReasoner struct {
	client converseAPI
}

// NewBedrockReasoner creates a BedrockReasoner using the default AWS credential chain.
func NewBedrockReasoner(ctx context.Context, region string) (*BedrockReasoner, error) {
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockReasoner{client: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

// Run sends the conversation to the Bedrock model and returns its text reply.
func (b *BedrockReasoner) Run(ctx context.Context, model string, messages []models.Message) (string, error) {
	output, err := b.client.Converse(ctx, toConverseInput(model, messages))
	if err != nil {
		return "", mapBedrockError(err)
	}

	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", ErrEmptyResponse
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// toConverseInput moves system messages into the system block. Converse
// rejects consecutive turns from the same role, so those are joined.
func toConverseInput(model string, messages []models.Message) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{ModelId: aws.String(model)}

	var current *types.Message
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}

		role := types.ConversationRoleUser
		if m.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		if current != nil && current.Role == role {
			current.Content = append(current.Content, &types.ContentBlockMemberText{Value: m.Content})
			continue
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
		current = &input.Messages[len(input.Messages)-1]
	}
	return input
}

func mapBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %s", ErrReasonerThrottled, apiErr.ErrorMessage())
		}
		return fmt.Errorf("bedrock %s: %w", apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("bedrock: %w", err)
}

var _ Reasoner = (*BedrockReasoner)(nil)
