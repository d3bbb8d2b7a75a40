package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenVexAI/saipling/pkg/directives"
	"github.com/TenVexAI/saipling/pkg/presenter"
	"github.com/TenVexAI/saipling/pkg/skills"
	"github.com/TenVexAI/saipling/pkg/storage"
)

const reply = "Here is the scene.\n\n" +
	"```saipling-apply\n" +
	"target: notes/harbour.md\n" +
	"action: create\n" +
	"---\n" +
	"The harbour smells of tar.\n" +
	"```\n\n" +
	"<saipling-apply action=\"append\">\nLoose idea.\n</saipling-apply>\n"

func newTestPresenter(answers string) (*presenter.TerminalPresenter, *bytes.Buffer) {
	var out bytes.Buffer
	p := presenter.NewWithOptions(&out, &out, presenter.ColorNever)
	p.SetInput(strings.NewReader(answers))
	return p, &out
}

func TestReadInput(t *testing.T) {
	original := stdin
	t.Cleanup(func() { stdin = original })
	stdin = strings.NewReader("from stdin")

	text, err := readInput(nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)

	path := filepath.Join(t.TempDir(), "reply.md")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o644))
	text, err = readInput([]string{path})
	require.NoError(t, err)
	assert.Equal(t, "from file", text)

	_, err = readInput([]string{filepath.Join(t.TempDir(), "missing.md")})
	assert.Error(t, err)
}

func TestRunDirectives(t *testing.T) {
	ctx := context.Background()

	t.Run("lists without applying", func(t *testing.T) {
		store := storage.New(t.TempDir())
		p, out := newTestPresenter("")
		require.NoError(t, runDirectives(ctx, out, p, store, reply, &DirectivesConfig{}))

		assert.Contains(t, out.String(), "2 directive(s)")
		assert.Contains(t, out.String(), "[1] create notes/harbour.md")
		assert.Contains(t, out.String(), "display only, no target")
		exists, err := store.Exists(ctx, "notes/harbour.md")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("applies after confirmation", func(t *testing.T) {
		store := storage.New(t.TempDir())
		p, out := newTestPresenter("y\n")
		require.NoError(t, runDirectives(ctx, out, p, store, reply, &DirectivesConfig{Apply: true, Diff: true}))

		assert.Contains(t, out.String(), "+The harbour smells of tar.")
		assert.Contains(t, out.String(), "Apply 1 directive(s)?")
		doc, err := store.Read(ctx, "notes/harbour.md")
		require.NoError(t, err)
		assert.Contains(t, doc.Body, "The harbour smells of tar.")
	})

	t.Run("declined confirmation writes nothing", func(t *testing.T) {
		store := storage.New(t.TempDir())
		p, out := newTestPresenter("n\n")
		require.NoError(t, runDirectives(ctx, out, p, store, reply, &DirectivesConfig{Apply: true}))

		assert.Contains(t, out.String(), "Nothing applied.")
		exists, err := store.Exists(ctx, "notes/harbour.md")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("json output", func(t *testing.T) {
		p, _ := newTestPresenter("")
		var out bytes.Buffer
		require.NoError(t, runDirectives(ctx, &out, p, storage.New(t.TempDir()), reply, &DirectivesConfig{JSON: true}))

		var found []directives.Directive
		require.NoError(t, json.Unmarshal(out.Bytes(), &found))
		require.Len(t, found, 2)
		assert.Equal(t, "notes/harbour.md", found[0].Target)
		assert.Equal(t, directives.UnknownTarget, found[1].Target)
	})

	t.Run("no directives", func(t *testing.T) {
		p, out := newTestPresenter("")
		require.NoError(t, runDirectives(ctx, out, p, storage.New(t.TempDir()), "Just prose.", &DirectivesConfig{}))
		assert.Contains(t, out.String(), "No directives found.")

		var jsonOut bytes.Buffer
		require.NoError(t, runDirectives(ctx, &jsonOut, p, storage.New(t.TempDir()), "Just prose.", &DirectivesConfig{JSON: true}))
		assert.Equal(t, "[]\n", jsonOut.String())
	})
}

func TestRunConvert(t *testing.T) {
	markdown := "# Harbour\n\nFog rolls in."

	t.Run("markdown to tree", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runConvert(&out, markdown, &ConvertConfig{To: "tree"}))
		assert.Contains(t, out.String(), `"type": "doc"`)
		assert.Contains(t, out.String(), `"type": "heading"`)
	})

	t.Run("markdown to html", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runConvert(&out, markdown, &ConvertConfig{To: "html"}))
		assert.Contains(t, out.String(), "Harbour</h1>")
		assert.Contains(t, out.String(), "<p>Fog rolls in.</p>")
	})

	t.Run("tree round trip", func(t *testing.T) {
		var tree bytes.Buffer
		require.NoError(t, runConvert(&tree, markdown, &ConvertConfig{To: "tree"}))

		var out bytes.Buffer
		require.NoError(t, runConvert(&out, tree.String(), &ConvertConfig{To: "markdown", FromTree: true}))
		assert.Contains(t, out.String(), "# Harbour")
		assert.Contains(t, out.String(), "Fog rolls in.")
	})

	t.Run("html to markdown", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runConvert(&out, "<h2>Arrival</h2><p>The <strong>ferry</strong> docks.</p>", &ConvertConfig{To: "md", FromHTML: true}))
		assert.Contains(t, out.String(), "## Arrival")
		assert.Contains(t, out.String(), "**ferry**")
	})

	t.Run("errors", func(t *testing.T) {
		assert.Error(t, runConvert(&bytes.Buffer{}, markdown, &ConvertConfig{To: "pdf"}))
		assert.Error(t, runConvert(&bytes.Buffer{}, markdown, &ConvertConfig{To: "html", FromHTML: true, FromTree: true}))
		assert.Error(t, runConvert(&bytes.Buffer{}, "{not json", &ConvertConfig{To: "html", FromTree: true}))
	})
}

func TestRunFrontmatter(t *testing.T) {
	doc := "---\ntitle: Harbour\nstatus: draft\n---\n\nFog rolls in."

	var out bytes.Buffer
	require.NoError(t, runFrontmatter(&out, doc, nil))
	var metadata map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &metadata))
	assert.Equal(t, map[string]any{"title": "Harbour", "status": "draft"}, metadata)

	out.Reset()
	require.NoError(t, runFrontmatter(&out, "No header.", nil))
	assert.Equal(t, "{}\n", out.String())

	out.Reset()
	require.NoError(t, runFrontmatter(&out, doc, map[string]string{"status": "final"}))
	assert.True(t, strings.HasPrefix(out.String(), "---\n"))
	assert.Contains(t, out.String(), "status: final\n")
	assert.Contains(t, out.String(), "title: Harbour\n")
	assert.Contains(t, out.String(), "Fog rolls in.")
}

func TestDocumentTemplate(t *testing.T) {
	template := documentTemplate("scene-draft", map[string]string{"pov": "Mara", "status": "outline"})
	assert.Equal(t, map[string]any{"skill": "scene-draft", "pov": "Mara", "status": "outline"}, template)
	assert.Equal(t, map[string]any{"skill": "overview", "status": "draft"}, documentTemplate("overview", nil))
}

func TestSkillDirs(t *testing.T) {
	original := cfg.SkillsDirs
	t.Cleanup(func() { cfg.SkillsDirs = original })

	cfg.SkillsDirs = nil
	dirs := skillDirs("/work")
	require.NotEmpty(t, dirs)
	assert.Equal(t, filepath.Join("/work", ".saipling", "skills"), dirs[0])

	cfg.SkillsDirs = []string{"/custom"}
	assert.Equal(t, []string{"/custom"}, skillDirs("/work"))
}

func TestResolveDestination(t *testing.T) {
	ctx := context.Background()
	fs := storage.New(t.TempDir())
	skill := &skills.Skill{Name: "overview", Output: "overview.md"}

	dest, err := resolveDestination(ctx, fs, &GenerateConfig{}, skill)
	require.NoError(t, err)
	assert.Equal(t, "overview.md", dest)

	require.NoError(t, fs.Write(ctx, dest, map[string]any{"skill": "overview"}, "First draft."))

	dest, err = resolveDestination(ctx, fs, &GenerateConfig{}, skill)
	require.NoError(t, err)
	assert.Equal(t, "overview_v2.md", dest, "an existing draft must not be replaced")

	dest, err = resolveDestination(ctx, fs, &GenerateConfig{Overwrite: true}, skill)
	require.NoError(t, err)
	assert.Equal(t, "overview.md", dest)

	dest, err = resolveDestination(ctx, fs, &GenerateConfig{Destination: "book/ch1/scene.md"}, skill)
	require.NoError(t, err)
	assert.Equal(t, "book/ch1/scene.md", dest)

	_, err = resolveDestination(ctx, fs, &GenerateConfig{}, &skills.Skill{Name: "brainstorm"})
	assert.ErrorContains(t, err, "pass --dest")
}
