// Package presenter renders saipling's terminal output: status messages,
// generation plans, directive cards, diffs and cost summaries.
package presenter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/TenVexAI/saipling/pkg/costs"
	"github.com/TenVexAI/saipling/pkg/directives"
	"github.com/TenVexAI/saipling/pkg/generate"
)

// UsageStats summarizes the cost of one generation.
type UsageStats struct {
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	SessionTotal float64
	ProjectTotal float64
}

// Presenter defines the terminal output used by the CLI.
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Prompt(question string, options ...string) string
	Confirm(question string) bool
	Plan(plan *generate.Plan)
	Directive(index int, d directives.Directive)
	Diff(diff string)
	Chunk(text string)
	Stats(usage *UsageStats)
	Separator()
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// ColorMode selects when output is colored.
type ColorMode int

const (
	// ColorAuto lets fatih/color detect the terminal.
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output.
	ColorAlways
	// ColorNever disables colored output.
	ColorNever
)

// TerminalPresenter implements Presenter for a terminal.
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	input       *bufio.Reader
	colorMode   ColorMode
	quiet       bool
}

// New returns a presenter on stdout, stderr and stdin.
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions returns a presenter writing to output and errorOutput.
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	p := &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		input:       bufio.NewReader(os.Stdin),
		colorMode:   colorMode,
	}

	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	case ColorAuto:
	}
	return p
}

// SetInput replaces the reader answers are read from.
func (p *TerminalPresenter) SetInput(r io.Reader) {
	p.input = bufio.NewReader(r)
}

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}
	switch os.Getenv("SAIPLING_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error prints err to the error output. Quiet mode does not suppress errors.
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}
	errorColor := color.New(color.FgRed, color.Bold)
	if context != "" {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
	} else {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
	}
}

func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.output, "✓ %s\n", message)
}

func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.output, "⚠ %s\n", message)
}

func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.output, "%s\n", message)
}

// Section prints an underlined header.
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}
	header := color.New(color.Bold)
	header.Fprintf(p.output, "%s\n", title)
	header.Fprintf(p.output, "%s\n", strings.Repeat("-", len([]rune(title))))
}

// Prompt asks question and returns the trimmed answer, or "" when input
// is exhausted.
func (p *TerminalPresenter) Prompt(question string, options ...string) string {
	promptColor := color.New(color.FgCyan)
	if len(options) > 0 {
		promptColor.Fprintf(p.output, "%s [%s]: ", question, strings.Join(options, "/"))
	} else {
		promptColor.Fprintf(p.output, "%s: ", question)
	}

	response, err := p.input.ReadString('\n')
	if err != nil && response == "" {
		return ""
	}
	return strings.TrimSpace(response)
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (p *TerminalPresenter) Confirm(question string) bool {
	switch strings.ToLower(p.Prompt(question, "y", "N")) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Plan prints the plan card shown before a generation is confirmed.
func (p *TerminalPresenter) Plan(plan *generate.Plan) {
	if p.quiet || plan == nil {
		return
	}
	label := color.New(color.FgCyan, color.Bold)
	faint := color.New(color.Faint)

	p.Section("Generation plan")
	label.Fprint(p.output, "Skills:   ")
	fmt.Fprintln(p.output, strings.Join(plan.Skills, ", "))
	label.Fprint(p.output, "Model:    ")
	fmt.Fprintln(p.output, plan.Model)
	label.Fprint(p.output, "Estimate: ")
	fmt.Fprintf(p.output, "%d tokens, %s\n", plan.EstimatedTokens, plan.EstimatedCost)
	if plan.Approach != "" {
		label.Fprint(p.output, "Approach: ")
		fmt.Fprintln(p.output, plan.Approach)
	}

	if len(plan.ContextFiles) > 0 {
		label.Fprintln(p.output, "Context:")
		for _, f := range plan.ContextFiles {
			fmt.Fprintf(p.output, "  %s ", f.Path)
			faint.Fprintf(p.output, "(%s, ~%d tokens)\n", f.Mode, f.Tokens)
		}
	}
	if len(plan.Retrieved) > 0 {
		label.Fprintln(p.output, "Retrieved:")
		for _, r := range plan.Retrieved {
			fmt.Fprintf(p.output, "  %s", r.Source)
			if r.Section != "" {
				fmt.Fprintf(p.output, " > %s", r.Section)
			}
			faint.Fprintf(p.output, " (%.2f)\n", r.Relevance)
			if r.Preview != "" {
				faint.Fprintf(p.output, "    %s\n", r.Preview)
			}
		}
	}
}

// Directive prints one directive card. Display-only directives are marked.
func (p *TerminalPresenter) Directive(index int, d directives.Directive) {
	if p.quiet {
		return
	}
	title := color.New(color.FgMagenta, color.Bold)
	faint := color.New(color.Faint)

	title.Fprintf(p.output, "[%d] %s %s", index, d.Action, d.Target)
	if d.Section != "" {
		fmt.Fprintf(p.output, " § %s", d.Section)
	}
	fmt.Fprintln(p.output)
	if !d.Actionable() {
		color.New(color.FgYellow).Fprintln(p.output, "    display only, no target")
	}
	for _, line := range strings.Split(strings.TrimSpace(d.Body()), "\n") {
		faint.Fprintf(p.output, "    %s\n", line)
	}
}

// Diff prints a unified diff with added and removed lines colored.
func (p *TerminalPresenter) Diff(diff string) {
	if p.quiet || diff == "" {
		return
	}
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	hunk := color.New(color.FgCyan)

	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			color.New(color.Bold).Fprint(p.output, line)
		case strings.HasPrefix(line, "@@"):
			hunk.Fprint(p.output, line)
		case strings.HasPrefix(line, "+"):
			added.Fprint(p.output, line)
		case strings.HasPrefix(line, "-"):
			removed.Fprint(p.output, line)
		default:
			fmt.Fprint(p.output, line)
		}
	}
}

// Chunk writes streamed model text as it arrives.
func (p *TerminalPresenter) Chunk(text string) {
	if p.quiet {
		return
	}
	fmt.Fprint(p.output, text)
}

// Stats prints token usage and costs of a generation.
func (p *TerminalPresenter) Stats(usage *UsageStats) {
	if p.quiet || usage == nil {
		return
	}
	statsColor := color.New(color.FgCyan, color.Bold)
	statsColor.Fprintf(p.output, "[Usage Stats] Model: %s | Input tokens: %d | Output tokens: %d | Total: %d\n",
		usage.Model, usage.InputTokens, usage.OutputTokens, usage.InputTokens+usage.OutputTokens)
	statsColor.Fprintf(p.output, "[Cost Stats] Generation: %s | Session: %s | Project: %s\n",
		costs.FormatUSD(usage.Cost), costs.FormatUSD(usage.SessionTotal), costs.FormatUSD(usage.ProjectTotal))
}

func (p *TerminalPresenter) Separator() {
	if p.quiet {
		return
	}
	color.New(color.Faint).Fprintf(p.output, "%s\n", strings.Repeat("-", 60))
}

// SetQuiet suppresses everything except errors and prompts.
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Default returns the shared presenter used by the package functions.
func Default() *TerminalPresenter {
	return defaultPresenter
}

func Error(err error, context string) { defaultPresenter.Error(err, context) }

func Success(message string) { defaultPresenter.Success(message) }

func Warning(message string) { defaultPresenter.Warning(message) }

func Info(message string) { defaultPresenter.Info(message) }

func Section(title string) { defaultPresenter.Section(title) }

func Separator() { defaultPresenter.Separator() }

func SetQuiet(quiet bool) { defaultPresenter.SetQuiet(quiet) }

func IsQuiet() bool { return defaultPresenter.IsQuiet() }
