package generate

import (
	"context"
	"strings"
)

// Phase is the state of an Orchestrator.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePlanning   Phase = "planning"
	PhaseConfirming Phase = "confirming"
	PhaseGenerating Phase = "generating"
	PhaseDone       Phase = "done"
)

// Scope optionally narrows planning to part of a book. Values are opaque
// to the orchestrator.
type Scope struct {
	Book    string `json:"book,omitempty"`
	Chapter string `json:"chapter,omitempty"`
	Scene   string `json:"scene,omitempty"`
}

// InclusionMode says how much of a context file goes into the prompt.
type InclusionMode string

const (
	ModeFull    InclusionMode = "full"
	ModeSummary InclusionMode = "summary"
)

// ContextFile is a workspace file selected as prompt context.
type ContextFile struct {
	Path   string        `json:"path"`
	Mode   InclusionMode `json:"mode"`
	Tokens int           `json:"tokens"`
}

// RetrievedContext is a section pulled in because it matched the
// instruction.
type RetrievedContext struct {
	Source    string  `json:"source"`
	Section   string  `json:"section,omitempty"`
	Relevance float64 `json:"relevance"`
	Tokens    int     `json:"tokens"`
	Preview   string  `json:"preview"`
}

// Plan is a priced, context-resolved proposal awaiting confirmation. It is
// not modified after the planner returns it.
type Plan struct {
	ID              string             `json:"id"`
	Skills          []string           `json:"skills"`
	Model           string             `json:"model"`
	ContextFiles    []ContextFile      `json:"context_files"`
	Retrieved       []RetrievedContext `json:"retrieved"`
	EstimatedTokens int                `json:"estimated_tokens"`
	EstimatedCost   string             `json:"estimated_cost"`
	Approach        string             `json:"approach"`
}

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// BuildHistory drops empty prior turns and appends instruction as the
// final user turn.
func BuildHistory(prior []Turn, instruction string) []Turn {
	history := make([]Turn, 0, len(prior)+1)
	for _, turn := range prior {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		history = append(history, Turn{Role: turn.Role, Content: content})
	}
	return append(history, Turn{Role: RoleUser, Content: strings.TrimSpace(instruction)})
}

// Transform turns raw model output into the body that is stored.
type Transform func(raw string) string

// Request describes one generation.
type Request struct {
	Skill       string         `json:"skill" validate:"required"`
	Scope       Scope          `json:"scope"`
	Instruction string         `json:"instruction" validate:"required"`
	Destination string         `json:"destination" validate:"required"`
	Template    map[string]any `json:"template,omitempty"`
	History     []Turn         `json:"history,omitempty"`
	// Transform overrides the orchestrator's default transform.
	Transform Transform `json:"-"`
}

// Completion is the terminal success event of an execution.
type Completion struct {
	FullText     string `json:"full_text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// Result is the outcome of a finished generation.
type Result struct {
	PlanID     string         `json:"plan_id"`
	Path       string         `json:"path"`
	Metadata   map[string]any `json:"metadata"`
	Body       string         `json:"body"`
	Completion Completion     `json:"completion"`
	Cost       float64        `json:"cost"`
	// Committed is false while the document still has to be written.
	Committed bool `json:"committed"`
}

// Planner produces a Plan for a request.
type Planner interface {
	Plan(ctx context.Context, root, skill string, scope Scope, instruction string) (*Plan, error)
}

// Executor runs a confirmed plan. Results arrive on the event bus keyed by
// the plan id; Execute itself only reports failures to start.
type Executor interface {
	Execute(ctx context.Context, planID string, history []Turn) error
	// Cancel asks the executor to stop planID. It is advisory.
	Cancel(ctx context.Context, planID string)
	// Forget releases whatever the executor holds for planID. The
	// orchestrator calls it once a plan can no longer be executed.
	Forget(planID string)
}

// Storage persists documents.
type Storage interface {
	Write(ctx context.Context, path string, metadata map[string]any, body string) error
}

// Pricer turns token counts into a USD cost.
type Pricer interface {
	Cost(model string, inputTokens, outputTokens int) float64
}

// Publisher is the sending side of the event bus.
type Publisher interface {
	PublishChunk(planID, text string)
	PublishDone(planID string, completion Completion)
	PublishError(planID string, err error)
}
