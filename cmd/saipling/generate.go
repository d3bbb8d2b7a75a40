package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/TenVexAI/saipling/pkg/costs"
	"github.com/TenVexAI/saipling/pkg/executor"
	"github.com/TenVexAI/saipling/pkg/generate"
	"github.com/TenVexAI/saipling/pkg/logger"
	"github.com/TenVexAI/saipling/pkg/planner"
	"github.com/TenVexAI/saipling/pkg/presenter"
	"github.com/TenVexAI/saipling/pkg/pricing"
	"github.com/TenVexAI/saipling/pkg/skills"
	"github.com/TenVexAI/saipling/pkg/storage"
)

// GenerateConfig holds the generate command flags.
type GenerateConfig struct {
	Skill       string
	Destination string
	Scope       generate.Scope
	Metadata    map[string]string
	Yes         bool
	NoLedger    bool
	Overwrite   bool
}

var generateCmd = &cobra.Command{
	Use:   "generate [instruction]",
	Short: "Plan, confirm and generate a draft with a skill",
	Long: `Plan a generation with a skill, show the context files and estimated cost,
and after confirmation stream the draft and write it to the workspace.

Examples:
  saipling generate --skill overview "Outline a cozy mystery set in a harbour town"
  saipling generate --skill scene-draft --chapter 3 --dest book/ch3/scene1.md "Mara finds the letter"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := getGenerateConfigFromFlags(cmd)
		if err != nil {
			return err
		}
		return runGenerate(cmd.Context(), config, strings.Join(args, " "))
	},
}

func init() {
	flags := generateCmd.Flags()
	flags.String("skill", "", "Skill to run")
	flags.String("dest", "", "Destination file (default: the skill's output)")
	flags.String("book", "", "Book scope")
	flags.String("chapter", "", "Chapter scope")
	flags.String("scene", "", "Scene scope")
	flags.StringToString("meta", nil, "Extra metadata for the written document (key=value)")
	flags.BoolP("yes", "y", false, "Generate without asking for confirmation")
	flags.Bool("no-ledger", false, "Do not record costs in the project ledger")
	flags.Bool("overwrite", false, "Replace the destination instead of writing the next _vN version")
	generateCmd.MarkFlagRequired("skill")
}

func getGenerateConfigFromFlags(cmd *cobra.Command) (*GenerateConfig, error) {
	flags := cmd.Flags()
	config := &GenerateConfig{}
	var err error
	if config.Skill, err = flags.GetString("skill"); err != nil {
		return nil, err
	}
	if config.Destination, err = flags.GetString("dest"); err != nil {
		return nil, err
	}
	if config.Scope.Book, err = flags.GetString("book"); err != nil {
		return nil, err
	}
	if config.Scope.Chapter, err = flags.GetString("chapter"); err != nil {
		return nil, err
	}
	if config.Scope.Scene, err = flags.GetString("scene"); err != nil {
		return nil, err
	}
	if config.Metadata, err = flags.GetStringToString("meta"); err != nil {
		return nil, err
	}
	if config.Yes, err = flags.GetBool("yes"); err != nil {
		return nil, err
	}
	if config.NoLedger, err = flags.GetBool("no-ledger"); err != nil {
		return nil, err
	}
	if config.Overwrite, err = flags.GetBool("overwrite"); err != nil {
		return nil, err
	}
	return config, nil
}

// newRouter builds the provider router from the configured API keys.
func newRouter(ctx context.Context) (*executor.Router, error) {
	router := &executor.Router{}
	if cfg.AnthropicAPIKey != "" {
		router.Anthropic = executor.NewAnthropicStreamer(cfg.AnthropicAPIKey)
	}
	if cfg.OpenAIAPIKey != "" {
		router.OpenAI = executor.NewOpenAIStreamer(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	}
	if cfg.GoogleAPIKey != "" {
		gemini, err := executor.NewGeminiStreamer(ctx, cfg.GoogleAPIKey, "")
		if err != nil {
			return nil, err
		}
		router.Google = gemini
	}
	return router, nil
}

func loadPricing() (*pricing.Table, error) {
	if cfg.PricingFile == "" {
		return pricing.DefaultTable(), nil
	}
	return pricing.Load(cfg.PricingFile)
}

// generation bundles everything one generate run needs.
type generation struct {
	orchestrator *generate.Orchestrator
	executor     *executor.Executor
	session      *costs.Session
	ledger       *costs.Ledger
}

func (g *generation) Close() {
	g.executor.Wait()
	if g.ledger != nil {
		g.ledger.Close()
	}
}

func newGeneration(ctx context.Context, root string, registry *skills.Registry, useLedger bool) (*generation, error) {
	table, err := loadPricing()
	if err != nil {
		return nil, err
	}

	router, err := newRouter(ctx)
	if err != nil {
		return nil, err
	}
	bus := generate.NewBus()
	exec, err := executor.New(executor.Options{
		Events:    bus,
		Streamers: router,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	plan, err := planner.New(planner.Options{
		Skills:       registry,
		Pricing:      table,
		Registrar:    exec,
		DefaultModel: cfg.Model,
		Budget:       cfg.ContextBudget,
		Exclude:      cfg.Exclude,
	})
	if err != nil {
		return nil, err
	}

	g := &generation{executor: exec, session: costs.NewSession()}
	var accumulator costs.Accumulator = g.session
	if useLedger {
		path, err := cfg.LedgerFile()
		if err != nil {
			return nil, err
		}
		if g.ledger, err = costs.OpenLedger(ctx, path); err != nil {
			return nil, err
		}
		accumulator = costs.NewTee(g.session, g.ledger)
	}

	g.orchestrator, err = generate.New(generate.Options{
		Planner:  plan,
		Executor: exec,
		Storage:  storage.New(root),
		Events:   bus,
		Costs:    accumulator,
		Pricing:  table,
		Root:     root,
	})
	if err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// resolveDestination picks the file a generation writes to. Unless
// overwriting was asked for, an existing file is kept and the next free
// _vN sibling is used instead.
func resolveDestination(ctx context.Context, fs *storage.FS, config *GenerateConfig, skill *skills.Skill) (string, error) {
	destination := config.Destination
	if destination == "" {
		destination = skill.Output
	}
	if destination == "" {
		return "", errors.Errorf("skill %s has no default output; pass --dest", skill.Name)
	}
	if config.Overwrite {
		return destination, nil
	}
	return fs.NextAvailablePath(ctx, destination)
}

func runGenerate(ctx context.Context, config *GenerateConfig, instruction string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := cfg.WorkspaceRoot()
	if err != nil {
		return err
	}
	registry := skills.Initialize(ctx, skillDirs(root), cfg.AllowedSkills)
	skill, err := registry.Get(config.Skill)
	if err != nil {
		return err
	}

	destination, err := resolveDestination(ctx, storage.New(root), config, skill)
	if err != nil {
		return err
	}

	g, err := newGeneration(ctx, root, registry, !config.NoLedger)
	if err != nil {
		return err
	}
	defer g.Close()
	orch := g.orchestrator

	ctx = logger.WithField(ctx, logger.FieldSkill, skill.Name)
	req := generate.Request{
		Skill:       skill.Name,
		Scope:       config.Scope,
		Instruction: instruction,
		Destination: destination,
		Template:    documentTemplate(skill.Name, config.Metadata),
	}
	if err := orch.StartGenerate(ctx, req); err != nil {
		return errors.Wrap(err, "planning failed")
	}

	p := presenter.Default()
	p.Plan(orch.Plan())
	if !config.Yes && !p.Confirm("Generate "+destination+"?") {
		orch.CancelGenerate(ctx)
		p.Info("Cancelled.")
		return nil
	}

	unsubscribe := streamTo(orch, p)
	defer unsubscribe()

	if err := orch.ConfirmGenerate(ctx); err != nil {
		return errors.Wrap(err, "generation failed to start")
	}

	result, err := orch.Wait(ctx)
	p.Chunk("\n")
	if ctx.Err() != nil {
		orch.CancelGenerate(context.WithoutCancel(ctx))
		p.Warning("Generation cancelled.")
		return nil
	}
	if err != nil {
		result = orch.LastResult()
		if result == nil || result.Committed {
			return err
		}
		p.Error(err, "writing the draft failed")
		if !p.Confirm("Retry writing " + result.Path + "?") {
			return err
		}
		if result, err = orch.RetryWrite(ctx); err != nil {
			return err
		}
	}

	p.Separator()
	project := 0.0
	if g.ledger != nil {
		if project, err = g.ledger.CurrentTotal(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to read project total")
		}
	}
	session, _ := g.session.CurrentTotal(ctx)
	p.Stats(&presenter.UsageStats{
		Model:        result.Completion.Model,
		InputTokens:  result.Completion.InputTokens,
		OutputTokens: result.Completion.OutputTokens,
		Cost:         result.Cost,
		SessionTotal: session,
		ProjectTotal: project,
	})
	p.Success("Wrote " + result.Path)
	return nil
}

// streamTo prints streamed text as the orchestrator reports it.
func streamTo(orch *generate.Orchestrator, p presenter.Presenter) func() {
	var mu sync.Mutex
	printed := 0
	return orch.OnUpdate(func(s generate.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Phase != generate.PhaseGenerating || len(s.StreamedText) <= printed {
			return
		}
		p.Chunk(s.StreamedText[printed:])
		printed = len(s.StreamedText)
	})
}

func documentTemplate(skill string, extra map[string]string) map[string]any {
	template := map[string]any{"status": "draft", "skill": skill}
	for k, v := range extra {
		template[k] = v
	}
	return template
}

func skillDirs(root string) []string {
	if len(cfg.SkillsDirs) > 0 {
		return cfg.SkillsDirs
	}
	dirs := []string{filepath.Join(root, ".saipling", "skills")}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".saipling", "skills"))
	}
	return dirs
}
