package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenVexAI/saipling/pkg/generate"
	"github.com/TenVexAI/saipling/pkg/skills"
	"github.com/TenVexAI/saipling/pkg/storage"
)

type recordingRegistrar struct {
	plan   *generate.Plan
	system string
}

func (r *recordingRegistrar) Register(plan *generate.Plan, system string) {
	r.plan = plan
	r.system = system
}

const overviewBody = "The storm season opens the book. A village waits for its boats."

func newWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	store := storage.New(root)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "book/overview.md", nil, overviewBody))
	require.NoError(t, store.Write(ctx, "characters/mara.md",
		map[string]any{"summary": "Mara is the net mender's daughter."},
		strings.Repeat("Mara mends nets. ", 25)))
	require.NoError(t, store.Write(ctx, "book/archive/old.md", nil, "The lighthouse keeper and the storm."))
	require.NoError(t, store.Write(ctx, "notes/lighthouse.md", nil,
		"# Lighthouse\n\nThe keeper climbs the stairs every night.\n\n## Harbour\n\nBoats come in."))
	require.NoError(t, store.Write(ctx, ".saipling/skills/private.md", nil, "lighthouse keeper storm"))
	return root
}

func sceneSkill() *skills.Skill {
	return &skills.Skill{
		Name:      "scene",
		Content:   "Draft chapter {{.Chapter}}.",
		Model:     "gpt-4.1",
		Context:   []string{"book/**/*.md", "characters/*.md", "book/overview.md"},
		Exclude:   []string{"**/archive/**"},
		MaxTokens: EstimateTokens(overviewBody) + 5,
	}
}

func TestPlan(t *testing.T) {
	root := newWorkspace(t)
	registrar := &recordingRegistrar{}
	p, err := New(Options{Skills: skills.NewRegistry(sceneSkill()), Registrar: registrar})
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), root, "scene", generate.Scope{Chapter: "3"},
		"Describe the lighthouse keeper and his storm")
	require.NoError(t, err)

	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, []string{"scene"}, plan.Skills)
	assert.Equal(t, "gpt-4.1", plan.Model)

	require.Len(t, plan.ContextFiles, 2)
	assert.Equal(t, generate.ContextFile{
		Path: "book/overview.md", Mode: generate.ModeFull, Tokens: EstimateTokens(overviewBody),
	}, plan.ContextFiles[0])
	assert.Equal(t, "characters/mara.md", plan.ContextFiles[1].Path)
	assert.Equal(t, generate.ModeSummary, plan.ContextFiles[1].Mode)
	assert.Equal(t, EstimateTokens("Mara is the net mender's daughter."), plan.ContextFiles[1].Tokens)

	require.Len(t, plan.Retrieved, 1)
	assert.Equal(t, "notes/lighthouse.md", plan.Retrieved[0].Source)
	assert.Equal(t, "Lighthouse", plan.Retrieved[0].Section)
	assert.InDelta(t, 0.5, plan.Retrieved[0].Relevance, 1e-9)
	assert.Equal(t, "The keeper climbs the stairs every night.", plan.Retrieved[0].Preview)

	assert.True(t, strings.HasPrefix(plan.EstimatedCost, "~$"), plan.EstimatedCost)
	assert.Greater(t, plan.EstimatedTokens, EstimateTokens(overviewBody))
	assert.Equal(t, "Run the scene skill on gpt-4.1 with 1 file in full and 1 summarized to fit the budget, "+
		"plus 1 retrieved section matching the instruction.", plan.Approach)

	require.Same(t, plan, registrar.plan)
	assert.True(t, strings.HasPrefix(registrar.system, "Draft chapter 3."))
	assert.Contains(t, registrar.system, `<file path="book/overview.md" mode="full">`+"\n"+overviewBody)
	assert.Contains(t, registrar.system, `<file path="characters/mara.md" mode="summary">`+"\nMara is the net mender's daughter.")
	assert.Contains(t, registrar.system, `<excerpt source="notes/lighthouse.md" section="Lighthouse">`)
	assert.NotContains(t, registrar.system, "archive")
	assert.NotContains(t, registrar.system, ".saipling")
}

func TestPlanDefaults(t *testing.T) {
	root := t.TempDir()
	skill := &skills.Skill{Name: "blank", Content: "Just write."}
	p, err := New(Options{Skills: skills.NewRegistry(skill), DefaultModel: "claude-3-5-haiku"})
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), root, "blank", generate.Scope{}, "a")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku", plan.Model)
	assert.Empty(t, plan.ContextFiles)
	assert.Empty(t, plan.Retrieved)
	assert.Equal(t, "Run the blank skill on claude-3-5-haiku without workspace context.", plan.Approach)
	assert.Equal(t, EstimateTokens("Just write.")+EstimateTokens("a"), plan.EstimatedTokens)
}

func TestPlanErrors(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	p, err := New(Options{Skills: skills.NewRegistry(&skills.Skill{Name: "bad", Exclude: []string{"["}})})
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), t.TempDir(), "missing", generate.Scope{}, "x")
	assert.True(t, errors.Is(err, skills.ErrNotFound))

	_, err = p.Plan(context.Background(), t.TempDir(), "bad", generate.Scope{}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid exclude pattern")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("éèêë"))
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"describe", "lighthouse", "keeper", "storm"},
		keywords("Describe the Lighthouse keeper, and his storm. The keeper!"))
	assert.Empty(t, keywords("write it with them"))
}

func TestSplitSections(t *testing.T) {
	sections := splitSections("Intro line.\n\n# One\nfirst\n\n## Two\n\nsecond\n#hashtag stays")
	assert.Equal(t, []section{
		{heading: "", text: "Intro line."},
		{heading: "One", text: "first"},
		{heading: "Two", text: "second\n#hashtag stays"},
	}, sections)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		doc      storage.Document
		expected string
	}{
		{"summary field wins", storage.Document{Metadata: map[string]any{"summary": " Short. "}, Body: "Long body."}, "Short."},
		{"first paragraph", storage.Document{Body: "# Title\n\nFirst line\ncontinues.\n\nSecond paragraph."}, "First line continues."},
		{"stops at heading", storage.Document{Body: "Para\n## Next\nmore"}, "Para"},
		{"empty", storage.Document{Body: "# Only a heading"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, summarize(tt.doc))
		})
	}
}

func TestTruncateAndPreview(t *testing.T) {
	assert.Equal(t, "short", truncateWords("short", 10))
	assert.Equal(t, "one two ...", truncateWords("one two three", 9))

	long := strings.Repeat("word ", 50)
	p := preview(long)
	assert.Len(t, []rune(p), previewLength)
	assert.Equal(t, "a b c", preview("a\n\n  b\tc"))
}

func TestRetrieveOrderingAndLimit(t *testing.T) {
	docs := []contextDoc{
		{Document: storage.Document{Path: "a.md", Body: "# A\nstorm only"}},
		{Document: storage.Document{Path: "b.md", Body: "# B\nstorm harbour"}},
		{Document: storage.Document{Path: "c.md", Body: "# C\nharbour"}},
		{Document: storage.Document{Path: "skip.md", Body: "storm harbour"}},
	}
	found := retrieve("storm harbour", docs, map[string]bool{"skip.md": true}, 2)
	require.Len(t, found, 2)
	assert.Equal(t, "b.md", found[0].Source)
	assert.InDelta(t, 1.0, found[0].Relevance, 1e-9)
	assert.Equal(t, "a.md", found[1].Source)
	assert.InDelta(t, 0.5, found[1].Relevance, 1e-9)

	assert.Nil(t, retrieve("", docs, nil, 5))
}
