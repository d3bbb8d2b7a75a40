package presenter

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TenVexAI/saipling/pkg/directives"
	"github.com/TenVexAI/saipling/pkg/generate"
)

func newTestPresenter() (*TerminalPresenter, *bytes.Buffer, *bytes.Buffer) {
	var output, errorOutput bytes.Buffer
	return NewWithOptions(&output, &errorOutput, ColorNever), &output, &errorOutput
}

func TestNew(t *testing.T) {
	p := New()
	assert.Equal(t, os.Stdout, p.output)
	assert.Equal(t, os.Stderr, p.errorOutput)
	assert.False(t, p.quiet)
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name     string
		noColor  string
		color    string
		expected ColorMode
	}{
		{"NO_COLOR set", "1", "", ColorNever},
		{"NO_COLOR wins over always", "1", "always", ColorNever},
		{"always", "", "always", ColorAlways},
		{"force", "", "force", ColorAlways},
		{"never", "", "never", ColorNever},
		{"off", "", "off", ColorNever},
		{"auto", "", "auto", ColorAuto},
		{"unset", "", "", ColorAuto},
		{"unknown value", "", "sometimes", ColorAuto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("SAIPLING_COLOR", tt.color)
			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestMessages(t *testing.T) {
	p, output, errorOutput := newTestPresenter()

	p.Success("saved book/overview.md")
	p.Warning("no API key for OpenAI")
	p.Info("3 files in context")
	p.Section("Plan")
	p.Separator()
	p.Error(errors.New("boom"), "generation failed")
	p.Error(errors.New("bare"), "")
	p.Error(nil, "ignored")

	out := output.String()
	assert.Contains(t, out, "✓ saved book/overview.md\n")
	assert.Contains(t, out, "⚠ no API key for OpenAI\n")
	assert.Contains(t, out, "3 files in context\n")
	assert.Contains(t, out, "Plan\n----\n")
	assert.Contains(t, out, strings.Repeat("-", 60))
	assert.Equal(t, "[ERROR] generation failed: boom\n[ERROR] bare\n", errorOutput.String())
}

func TestQuietMode(t *testing.T) {
	p, output, errorOutput := newTestPresenter()
	p.SetQuiet(true)
	assert.True(t, p.IsQuiet())

	p.Success("x")
	p.Warning("x")
	p.Info("x")
	p.Section("x")
	p.Separator()
	p.Chunk("x")
	p.Plan(&generate.Plan{ID: "p"})
	p.Directive(1, directives.Directive{Target: "a.md", Action: directives.ActionCreate})
	p.Diff("+x\n")
	p.Stats(&UsageStats{})
	assert.Empty(t, output.String())

	p.Error(errors.New("still shown"), "")
	assert.Contains(t, errorOutput.String(), "still shown")
}

func TestPromptAndConfirm(t *testing.T) {
	p, output, _ := newTestPresenter()

	p.SetInput(strings.NewReader("  chapter-3  \n"))
	assert.Equal(t, "chapter-3", p.Prompt("Destination"))
	assert.Contains(t, output.String(), "Destination: ")

	tests := []struct {
		answer   string
		expected bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"sure\n", false},
	}
	for _, tt := range tests {
		p.SetInput(strings.NewReader(tt.answer))
		assert.Equal(t, tt.expected, p.Confirm("Generate?"), "answer %q", tt.answer)
	}
	assert.Contains(t, output.String(), "Generate? [y/N]: ")

	p.SetInput(strings.NewReader("no newline"))
	assert.Equal(t, "no newline", p.Prompt("Q"))
}

func TestPlan(t *testing.T) {
	p, output, _ := newTestPresenter()
	p.Plan(&generate.Plan{
		ID:              "p1",
		Skills:          []string{"overview"},
		Model:           "claude-sonnet-4",
		EstimatedTokens: 1234,
		EstimatedCost:   "~$0.0123",
		Approach:        "Run the overview skill on book/overview.md.",
		ContextFiles: []generate.ContextFile{
			{Path: "characters/mara.md", Mode: generate.ModeSummary, Tokens: 40},
		},
		Retrieved: []generate.RetrievedContext{
			{Source: "notes/lighthouse.md", Section: "Keeper", Relevance: 0.5, Preview: "The keeper climbs"},
		},
	})

	out := output.String()
	assert.Contains(t, out, "Generation plan\n")
	assert.Contains(t, out, "Skills:   overview\n")
	assert.Contains(t, out, "Model:    claude-sonnet-4\n")
	assert.Contains(t, out, "Estimate: 1234 tokens, ~$0.0123\n")
	assert.Contains(t, out, "Approach: Run the overview skill on book/overview.md.\n")
	assert.Contains(t, out, "  characters/mara.md (summary, ~40 tokens)\n")
	assert.Contains(t, out, "  notes/lighthouse.md > Keeper (0.50)\n")
	assert.Contains(t, out, "    The keeper climbs\n")

	output.Reset()
	p.Plan(nil)
	assert.Empty(t, output.String())
}

func TestDirective(t *testing.T) {
	p, output, _ := newTestPresenter()
	p.Directive(1, directives.Directive{
		Target: "book/overview.md", Action: directives.ActionReplace, Section: "Setting", Content: "A harbour town.\nFog.",
	})
	p.Directive(2, directives.Directive{Target: directives.UnknownTarget, Action: directives.ActionCreate, Content: "Loose idea."})

	out := output.String()
	assert.Contains(t, out, "[1] replace book/overview.md § Setting\n")
	assert.Contains(t, out, "    A harbour town.\n    Fog.\n")
	assert.Contains(t, out, "[2] create unknown\n    display only, no target\n    Loose idea.\n")
}

func TestDiff(t *testing.T) {
	p, output, _ := newTestPresenter()
	diff := "--- a/x.md\n+++ b/x.md\n@@ -1 +1 @@\n-old\n+new\n"
	p.Diff(diff)
	assert.Equal(t, diff, output.String())

	output.Reset()
	p.Diff("")
	assert.Empty(t, output.String())
}

func TestChunkAndStats(t *testing.T) {
	p, output, _ := newTestPresenter()
	p.Chunk("Once ")
	p.Chunk("upon")
	assert.Equal(t, "Once upon", output.String())

	output.Reset()
	p.Stats(&UsageStats{Model: "claude-sonnet-4", InputTokens: 1000, OutputTokens: 200, Cost: 0.006, SessionTotal: 0.012, ProjectTotal: 2.5})
	out := output.String()
	assert.Contains(t, out, "[Usage Stats] Model: claude-sonnet-4 | Input tokens: 1000 | Output tokens: 200 | Total: 1200\n")
	assert.Contains(t, out, "[Cost Stats] Generation: $0.0060 | Session: $0.0120 | Project: $2.50\n")

	output.Reset()
	p.Stats(nil)
	assert.Empty(t, output.String())
}

func TestGlobalFunctions(t *testing.T) {
	original := defaultPresenter
	t.Cleanup(func() { defaultPresenter = original })

	p, output, errorOutput := newTestPresenter()
	defaultPresenter = p
	assert.Same(t, p, Default())

	Success("ok")
	Warning("careful")
	Info("note")
	Section("Head")
	Separator()
	Error(errors.New("bad"), "ctx")
	assert.Contains(t, output.String(), "✓ ok")
	assert.Contains(t, output.String(), "⚠ careful")
	assert.Contains(t, output.String(), "Head\n----")
	assert.Contains(t, errorOutput.String(), "[ERROR] ctx: bad")

	SetQuiet(true)
	assert.True(t, IsQuiet())
}
