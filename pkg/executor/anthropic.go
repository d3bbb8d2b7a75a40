package executor

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/TenVexAI/saipling/pkg/generate"
	"github.com/TenVexAI/saipling/pkg/version"
)

// AnthropicStreamer streams from the Anthropic Messages API.
type AnthropicStreamer struct {
	client anthropic.Client
}

// NewAnthropicStreamer returns a streamer using apiKey. Extra options such
// as option.WithBaseURL are passed to the client.
func NewAnthropicStreamer(apiKey string, opts ...option.RequestOption) *AnthropicStreamer {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHeader("User-Agent", version.UserAgent()),
	}, opts...)
	return &AnthropicStreamer{client: anthropic.NewClient(opts...)}
}

// Stream implements Streamer.
func (s *AnthropicStreamer) Stream(ctx context.Context, req Request, onChunk func(string)) (generate.Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toAnthropicMessages(req.History),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	stream := s.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	var text strings.Builder
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return generate.Completion{}, errors.Wrap(err, "failed to accumulate Anthropic stream")
		}

		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && textDelta.Text != "" {
			text.WriteString(textDelta.Text)
			onChunk(textDelta.Text)
		}
	}
	if err := stream.Err(); err != nil {
		return generate.Completion{}, errors.Wrap(err, "Anthropic stream failed")
	}

	model := string(message.Model)
	if model == "" {
		model = req.Model
	}
	return generate.Completion{
		FullText:     text.String(),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		Model:        model,
	}, nil
}

func toAnthropicMessages(history []generate.Turn) []anthropic.MessageParam {
	turns := mergeTurns(history)
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == generate.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return messages
}
