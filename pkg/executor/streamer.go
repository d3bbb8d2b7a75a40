package executor

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/TenVexAI/saipling/pkg/generate"
)

// ErrUnsupportedModel is returned when no back-end serves a model.
var ErrUnsupportedModel = errors.New("unsupported model")

// Request is one streamed completion.
type Request struct {
	Model     string
	System    string
	History   []generate.Turn
	MaxTokens int
}

// Streamer sends a request to a model provider and forwards text as it
// arrives. The returned completion carries the full text and token usage.
type Streamer interface {
	Stream(ctx context.Context, req Request, onChunk func(string)) (generate.Completion, error)
}

// Resolver picks the Streamer for a model.
type Resolver interface {
	Resolve(model string) (Streamer, error)
}

// Router resolves models by provider prefix.
type Router struct {
	Anthropic Streamer
	OpenAI    Streamer
	Google    Streamer
}

var openAIPrefixes = []string{"gpt-", "o1", "o3", "o4", "chatgpt-"}

// Resolve returns the back-end for model.
func (r *Router) Resolve(model string) (Streamer, error) {
	switch provider := ProviderFor(model); provider {
	case "anthropic":
		if r.Anthropic == nil {
			return nil, errors.Errorf("no Anthropic API key configured for model %s", model)
		}
		return r.Anthropic, nil
	case "openai":
		if r.OpenAI == nil {
			return nil, errors.Errorf("no OpenAI API key configured for model %s", model)
		}
		return r.OpenAI, nil
	case "google":
		if r.Google == nil {
			return nil, errors.Errorf("no Gemini API key configured for model %s", model)
		}
		return r.Google, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedModel, "%s", model)
	}
}

// ProviderFor names the provider serving model, or "" when unknown.
func ProviderFor(model string) string {
	m := strings.ToLower(model)
	if strings.HasPrefix(m, "claude") {
		return "anthropic"
	}
	if strings.HasPrefix(m, "gemini") {
		return "google"
	}
	for _, prefix := range openAIPrefixes {
		if strings.HasPrefix(m, prefix) {
			return "openai"
		}
	}
	return ""
}

// mergeTurns joins consecutive turns of the same role and drops leading
// assistant turns, since providers expect alternating roles that start
// with the user.
func mergeTurns(history []generate.Turn) []generate.Turn {
	merged := make([]generate.Turn, 0, len(history))
	for _, turn := range history {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		if len(merged) == 0 && turn.Role != generate.RoleUser {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Role == turn.Role {
			merged[n-1].Content += "\n\n" + turn.Content
			continue
		}
		merged = append(merged, turn)
	}
	return merged
}
