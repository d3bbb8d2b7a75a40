package executor

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/TenVexAI/saipling/pkg/generate"
	"github.com/TenVexAI/saipling/pkg/version"
)

// GeminiStreamer streams from the Gemini API.
type GeminiStreamer struct {
	client *genai.Client
}

// NewGeminiStreamer returns a streamer using apiKey. A non-empty baseURL
// points the client at another endpoint.
func NewGeminiStreamer(ctx context.Context, apiKey, baseURL string) (*GeminiStreamer, error) {
	config := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
			Headers: map[string][]string{"User-Agent": {version.UserAgent()}},
		},
	}
	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Gemini client")
	}
	return &GeminiStreamer{client: client}, nil
}

// Stream implements Streamer. Thought parts are not forwarded.
func (s *GeminiStreamer) Stream(ctx context.Context, req Request, onChunk func(string)) (generate.Completion, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	completion := generate.Completion{Model: req.Model}
	var text strings.Builder
	for chunk, err := range s.client.Models.GenerateContentStream(ctx, req.Model, toGeminiContents(req.History), config) {
		if err != nil {
			return generate.Completion{}, errors.Wrap(err, "Gemini stream failed")
		}
		if chunk.ModelVersion != "" {
			completion.Model = chunk.ModelVersion
		}
		if chunk.UsageMetadata != nil {
			completion.InputTokens = int(chunk.UsageMetadata.PromptTokenCount)
			completion.OutputTokens = int(chunk.UsageMetadata.CandidatesTokenCount)
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part == nil || part.Thought || part.Text == "" {
				continue
			}
			text.WriteString(part.Text)
			onChunk(part.Text)
		}
	}

	completion.FullText = text.String()
	return completion, nil
}

func toGeminiContents(history []generate.Turn) []*genai.Content {
	turns := mergeTurns(history)
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		var role genai.Role = genai.RoleUser
		if turn.Role == generate.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	return contents
}
