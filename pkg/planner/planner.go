// Package planner builds generation plans from workspace files. It picks
// the model, selects context files from the skill's globs within a token
// budget, retrieves sections that match the instruction and prices the
// result before anything is sent to a model.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/TenVexAI/saipling/pkg/costs"
	"github.com/TenVexAI/saipling/pkg/generate"
	"github.com/TenVexAI/saipling/pkg/logger"
	"github.com/TenVexAI/saipling/pkg/pricing"
	"github.com/TenVexAI/saipling/pkg/skills"
	"github.com/TenVexAI/saipling/pkg/storage"
)

const (
	// DefaultModel is used when neither the skill nor the configuration
	// names one.
	DefaultModel = "claude-sonnet-4"
	// DefaultBudget is the context token budget when the skill sets none.
	DefaultBudget = 60_000
	// DefaultOutputAllowance is the output token count assumed when
	// estimating cost.
	DefaultOutputAllowance = 4_000
	// MaxRetrieved caps the retrieved sections per plan.
	MaxRetrieved = 5
)

// SkillSource resolves skills by name.
type SkillSource interface {
	Get(name string) (*skills.Skill, error)
}

// Registrar receives each plan together with its rendered system prompt so
// the plan can later be executed by id.
type Registrar interface {
	Register(plan *generate.Plan, systemPrompt string)
}

// Options configures a Planner. Skills is required.
type Options struct {
	Skills          SkillSource
	Pricing         generate.Pricer
	Registrar       Registrar
	DefaultModel    string
	Budget          int
	OutputAllowance int
	// Exclude holds glob patterns applied to every skill, on top of the
	// skill's own excludes.
	Exclude []string
}

// Planner implements generate.Planner over a local workspace.
type Planner struct {
	opts Options
}

// New returns a Planner with defaults applied.
func New(opts Options) (*Planner, error) {
	if opts.Skills == nil {
		return nil, errors.New("skill source is required")
	}
	if opts.Pricing == nil {
		opts.Pricing = pricing.DefaultTable()
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = DefaultModel
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.OutputAllowance <= 0 {
		opts.OutputAllowance = DefaultOutputAllowance
	}
	return &Planner{opts: opts}, nil
}

// Plan resolves skill against the workspace at root.
func (p *Planner) Plan(ctx context.Context, root, skillName string, scope generate.Scope, instruction string) (*generate.Plan, error) {
	skill, err := p.opts.Skills.Get(skillName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve skill %s", skillName)
	}

	model := skill.Model
	if model == "" {
		model = p.opts.DefaultModel
	}
	budget := skill.MaxTokens
	if budget <= 0 {
		budget = p.opts.Budget
	}

	store := storage.New(root)
	excludes, err := compileExcludes(append(append([]string{}, p.opts.Exclude...), skill.Exclude...))
	if err != nil {
		return nil, err
	}

	docs, err := gatherContext(ctx, store, skill.Context, excludes)
	if err != nil {
		return nil, err
	}
	selected := selectContext(docs, budget)

	candidates, err := gatherContext(ctx, store, []string{"**/*.md"}, excludes)
	if err != nil {
		return nil, err
	}
	retrieved := retrieve(instruction, candidates, fullPaths(selected), MaxRetrieved)

	system, err := skill.Prompt(skills.PromptData{
		Instruction: instruction,
		Book:        scope.Book,
		Chapter:     scope.Chapter,
		Scene:       scope.Scene,
	})
	if err != nil {
		return nil, err
	}
	system = composeSystemPrompt(system, selected, retrieved)

	plan := &generate.Plan{
		ID:           uuid.New().String(),
		Skills:       []string{skill.Name},
		Model:        model,
		ContextFiles: make([]generate.ContextFile, 0, len(selected)),
		Retrieved:    make([]generate.RetrievedContext, 0, len(retrieved)),
	}
	for _, s := range selected {
		plan.ContextFiles = append(plan.ContextFiles, s.ContextFile)
	}
	for _, r := range retrieved {
		plan.Retrieved = append(plan.Retrieved, r.RetrievedContext)
	}
	plan.EstimatedTokens = EstimateTokens(system) + EstimateTokens(instruction)
	plan.EstimatedCost = "~" + costs.FormatUSD(p.opts.Pricing.Cost(model, plan.EstimatedTokens, p.opts.OutputAllowance))
	plan.Approach = approach(skill, model, plan)

	logger.G(ctx).
		WithField(logger.FieldPlanID, plan.ID).
		WithField(logger.FieldSkill, skill.Name).
		WithField(logger.FieldModel, model).
		WithField("context_files", len(plan.ContextFiles)).
		WithField("retrieved", len(plan.Retrieved)).
		WithField("estimated_tokens", plan.EstimatedTokens).
		Debug("plan created")

	if p.opts.Registrar != nil {
		p.opts.Registrar.Register(plan, system)
	}
	return plan, nil
}

// EstimateTokens approximates the token count of text as one token per
// four characters, rounded up.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

func approach(skill *skills.Skill, model string, plan *generate.Plan) string {
	var full, summary int
	for _, f := range plan.ContextFiles {
		if f.Mode == generate.ModeFull {
			full++
		} else {
			summary++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run the %s skill on %s", skill.Name, model)
	switch {
	case full == 0 && summary == 0:
		b.WriteString(" without workspace context")
	case summary == 0:
		fmt.Fprintf(&b, " with %s in full", plural(full, "file"))
	default:
		fmt.Fprintf(&b, " with %s in full and %d summarized to fit the budget", plural(full, "file"), summary)
	}
	if n := len(plan.Retrieved); n > 0 {
		fmt.Fprintf(&b, ", plus %s matching the instruction", plural(n, "retrieved section"))
	}
	b.WriteString(".")
	return b.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
