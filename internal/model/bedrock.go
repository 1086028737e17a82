package model

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter needs. It matches *bedrockruntime.Client so callers can pass either
// the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOptions configures the Bedrock adapter.
type BedrockOptions struct {
	// ModelID is the Bedrock model identifier. Required.
	ModelID string
	// MaxTokens is the default completion cap when the request does not set
	// one. Zero omits the cap so Bedrock applies its own default.
	MaxTokens int
	// Temperature is used when the request does not set one.
	Temperature float32
	// Logger receives non-fatal diagnostics. When nil, logging is disabled.
	Logger *slog.Logger
}

// Bedrock implements Client on top of the AWS Bedrock Converse API.
type Bedrock struct {
	runtime RuntimeClient
	modelID string
	maxTok  int
	temp    float32
	logger  *slog.Logger
}

// NewBedrock creates the Converse-backed client.
func NewBedrock(runtime RuntimeClient, opts BedrockOptions) (*Bedrock, error) {
	if runtime == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "bedrock runtime client is required")
	}
	if opts.ModelID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "model identifier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bedrock{
		runtime: runtime,
		modelID: opts.ModelID,
		maxTok:  opts.MaxTokens,
		temp:    opts.Temperature,
		logger:  logger,
	}, nil
}

// Complete issues one Converse request and concatenates the text blocks of
// the reply. Provider errors pass through untranslated so callers can
// classify them from the smithy error code.
func (b *Bedrock) Complete(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "prompt is required")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.modelID),
		Messages: []brtypes.Message{{
			Role: brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: req.Prompt},
			},
		}},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}

	cfg := &brtypes.InferenceConfiguration{}
	if maxTok := req.MaxTokens; maxTok > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTok))
	} else if b.maxTok > 0 {
		cfg.MaxTokens = aws.Int32(int32(b.maxTok))
	}
	if req.Temperature != nil {
		cfg.Temperature = aws.Float32(*req.Temperature)
	} else if b.temp > 0 {
		cfg.Temperature = aws.Float32(b.temp)
	}
	if cfg.MaxTokens != nil || cfg.Temperature != nil {
		input.InferenceConfig = cfg
	}

	out, err := b.runtime.Converse(ctx, input)
	if err != nil {
		return nil, err
	}

	resp := &Response{}
	if out.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}

	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeRuntime,
			"unexpected converse output type %T", out.Output)
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	resp.Text = sb.String()

	b.logger.DebugContext(ctx, "completion finished",
		slog.String("model_id", b.modelID),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens))

	return resp, nil
}

var _ Client = (*Bedrock)(nil)
