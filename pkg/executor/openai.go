package executor

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/TenVexAI/saipling/pkg/generate"
)

// OpenAIStreamer streams from the OpenAI chat completions API.
type OpenAIStreamer struct {
	client *openai.Client
}

// NewOpenAIStreamer returns a streamer using apiKey. A non-empty baseURL
// points the client at a compatible server.
func NewOpenAIStreamer(apiKey, baseURL string) *OpenAIStreamer {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIStreamer{client: openai.NewClientWithConfig(config)}
}

// Stream implements Streamer.
func (s *OpenAIStreamer) Stream(ctx context.Context, req Request, onChunk func(string)) (generate.Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, turn := range mergeTurns(req.History) {
		role := openai.ChatMessageRoleUser
		if turn.Role == generate.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:               req.Model,
		Messages:            messages,
		MaxCompletionTokens: req.MaxTokens,
		Stream:              true,
		StreamOptions:       &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return generate.Completion{}, errors.Wrap(err, "failed to open OpenAI stream")
	}
	defer stream.Close()

	completion := generate.Completion{Model: req.Model}
	var text strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return generate.Completion{}, errors.Wrap(err, "OpenAI stream failed")
		}

		if resp.Model != "" {
			completion.Model = resp.Model
		}
		if resp.Usage != nil {
			completion.InputTokens = resp.Usage.PromptTokens
			completion.OutputTokens = resp.Usage.CompletionTokens
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				onChunk(choice.Delta.Content)
			}
		}
	}

	completion.FullText = text.String()
	return completion, nil
}
