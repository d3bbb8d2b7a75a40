package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir, name, content string) string {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, skillFileName), []byte(content), 0o644))
	return skillDir
}

const sceneSkill = `---
name: scene
description: Draft a scene
model: gpt-4.1
context:
  - "book/**/*.md"
  - characters/*.md
exclude: ["**/archive/**"]
max_tokens: 5000
output: book/scene.md
---

# Scene

Write chapter {{.Chapter}}, scene {{.Scene}}.
`

func TestNewDiscovery(t *testing.T) {
	t.Run("with default dirs", func(t *testing.T) {
		discovery, err := NewDiscovery()
		require.NoError(t, err)
		assert.Len(t, discovery.skillDirs, 2)
		assert.Equal(t, filepath.Join(".saipling", "skills"), discovery.skillDirs[0])
	})

	t.Run("with custom dirs", func(t *testing.T) {
		customDirs := []string{"/tmp/skills1", "/tmp/skills2"}
		discovery, err := NewDiscovery(WithSkillDirs(customDirs...))
		require.NoError(t, err)
		assert.Equal(t, customDirs, discovery.skillDirs)
	})
}

func TestDiscoverSkills(t *testing.T) {
	tmpDir := t.TempDir()
	sceneDir := writeSkill(t, tmpDir, "scene", sceneSkill)
	writeSkill(t, tmpDir, "minimal", "---\nname: minimal\ndescription: Bare skill\n---\nJust write.\n")

	discovery, err := NewDiscovery(WithSkillDirs(tmpDir), WithoutBuiltins())
	require.NoError(t, err)

	skills, err := discovery.DiscoverSkills()
	require.NoError(t, err)
	require.Len(t, skills, 2)

	scene := skills["scene"]
	require.NotNil(t, scene)
	assert.Equal(t, "Draft a scene", scene.Description)
	assert.Equal(t, sceneDir, scene.Directory)
	assert.Equal(t, "gpt-4.1", scene.Model)
	assert.Equal(t, []string{"book/**/*.md", "characters/*.md"}, scene.Context)
	assert.Equal(t, []string{"**/archive/**"}, scene.Exclude)
	assert.Equal(t, 5000, scene.MaxTokens)
	assert.Equal(t, "book/scene.md", scene.Output)
	assert.False(t, scene.Builtin)
	assert.Equal(t, "# Scene\n\nWrite chapter {{.Chapter}}, scene {{.Scene}}.\n", scene.Content)

	minimal := skills["minimal"]
	require.NotNil(t, minimal)
	assert.Empty(t, minimal.Model)
	assert.Empty(t, minimal.Context)
	assert.Zero(t, minimal.MaxTokens)
	assert.Equal(t, "Just write.\n", minimal.Content)
}

func TestBuiltinSkills(t *testing.T) {
	discovery, err := NewDiscovery(WithSkillDirs(t.TempDir()))
	require.NoError(t, err)

	names, err := discovery.ListSkillNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"character-profile", "overview", "scene-draft"}, names)

	overview, err := discovery.GetSkill("overview")
	require.NoError(t, err)
	assert.True(t, overview.Builtin)
	assert.Empty(t, overview.Directory)
	assert.Equal(t, "book/overview.md", overview.Output)
	assert.NotEmpty(t, overview.Context)

	prompt, err := overview.Prompt(PromptData{Book: "The Long Tide"})
	require.NoError(t, err)
	assert.Contains(t, prompt, `The book is "The Long Tide".`)
}

func TestWorkspaceSkillShadowsBuiltin(t *testing.T) {
	tmpDir := t.TempDir()
	writeSkill(t, tmpDir, "my-overview", "---\nname: overview\ndescription: House style overview\n---\nHouse style.\n")

	discovery, err := NewDiscovery(WithSkillDirs(tmpDir))
	require.NoError(t, err)

	overview, err := discovery.GetSkill("overview")
	require.NoError(t, err)
	assert.Equal(t, "House style overview", overview.Description)
	assert.False(t, overview.Builtin)
}

func TestDiscoverSkillsWithSymlinks(t *testing.T) {
	tmpDir := t.TempDir()
	skillsDir := filepath.Join(tmpDir, "skills")
	require.NoError(t, os.MkdirAll(skillsDir, 0o755))

	actualDir := writeSkill(t, filepath.Join(tmpDir, "elsewhere"), "linked",
		"---\nname: linked\ndescription: Reached through a link\n---\nLinked body.\n")
	linkPath := filepath.Join(skillsDir, "linked")
	require.NoError(t, os.Symlink(actualDir, linkPath))

	targetFile := filepath.Join(tmpDir, "file.txt")
	require.NoError(t, os.WriteFile(targetFile, []byte("not a skill"), 0o644))
	require.NoError(t, os.Symlink(targetFile, filepath.Join(skillsDir, "file-link")))
	require.NoError(t, os.Symlink("/non/existent/path", filepath.Join(skillsDir, "broken")))

	discovery, err := NewDiscovery(WithSkillDirs(skillsDir), WithoutBuiltins())
	require.NoError(t, err)

	skills, err := discovery.DiscoverSkills()
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, linkPath, skills["linked"].Directory)
}

func TestDiscoveryPrecedence(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeSkill(t, first, "shared", "---\nname: shared\ndescription: From first\n---\nFirst.\n")
	writeSkill(t, second, "shared", "---\nname: shared\ndescription: From second\n---\nSecond.\n")

	discovery, err := NewDiscovery(WithSkillDirs(first, second), WithoutBuiltins())
	require.NoError(t, err)

	skills, err := discovery.DiscoverSkills()
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "From first", skills["shared"].Description)
}

func TestSkillValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing name", "---\ndescription: Missing name\n---\nBody.\n"},
		{"missing description", "---\nname: no-desc\n---\nBody.\n"},
		{"no frontmatter", "# Just content\nNo frontmatter here.\n"},
		{"negative budget", "---\nname: neg\ndescription: Bad budget\nmax_tokens: -1\n---\nBody.\n"},
		{"budget is not a number", "---\nname: nan\ndescription: Bad budget\nmax_tokens: lots\n---\nBody.\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			writeSkill(t, tmpDir, "skill", tt.content)

			discovery, err := NewDiscovery(WithSkillDirs(tmpDir), WithoutBuiltins())
			require.NoError(t, err)

			skills, err := discovery.DiscoverSkills()
			require.NoError(t, err)
			assert.Empty(t, skills)
		})
	}
}

func TestSkillPrompt(t *testing.T) {
	skill := &Skill{
		Name:    "scene",
		Content: "Skill {{.Skill}}: chapter {{default \"?\" .Chapter}}, scene {{.Scene | upper}}.\n\n",
	}

	prompt, err := skill.Prompt(PromptData{Scene: "the storm"})
	require.NoError(t, err)
	assert.Equal(t, "Skill scene: chapter ?, scene THE STORM.", prompt)

	broken := &Skill{Name: "broken", Content: "{{.Nope"}
	_, err = broken.Prompt(PromptData{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse prompt of skill broken")
}

func TestFilterByAllowlist(t *testing.T) {
	skills := map[string]*Skill{
		"skill-a": {Name: "skill-a"},
		"skill-b": {Name: "skill-b"},
		"skill-c": {Name: "skill-c"},
	}

	assert.Len(t, FilterByAllowlist(skills, nil), 3)

	result := FilterByAllowlist(skills, []string{"skill-a", "skill-c", "unknown"})
	assert.Len(t, result, 2)
	assert.Contains(t, result, "skill-a")
	assert.Contains(t, result, "skill-c")
}

func TestGetSkillNotFound(t *testing.T) {
	discovery, err := NewDiscovery(WithSkillDirs("/non/existent/path"), WithoutBuiltins())
	require.NoError(t, err)

	skills, err := discovery.DiscoverSkills()
	require.NoError(t, err)
	assert.Empty(t, skills)

	_, err = discovery.GetSkill("unknown")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInitialize(t *testing.T) {
	tmpDir := t.TempDir()
	writeSkill(t, tmpDir, "scene", sceneSkill)

	registry := Initialize(context.Background(), []string{tmpDir}, []string{"scene", "overview"})
	assert.Len(t, registry.All(), 2)

	scene, err := registry.Get("scene")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", scene.Model)

	_, err = registry.Get("character-profile")
	assert.ErrorIs(t, err, ErrNotFound)

	direct := NewRegistry(&Skill{Name: "x"})
	_, err = direct.Get("x")
	assert.NoError(t, err)
}
