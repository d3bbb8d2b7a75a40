// Package skills loads writing skills. A skill is a directory holding a
// SKILL.md file whose frontmatter names the skill, its preferred model and
// the workspace files it reads; the body is the system prompt template.
package skills

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// Skill is a discovered skill.
type Skill struct {
	Name        string
	Description string
	// Directory is empty for built-in skills.
	Directory string
	// Content is the SKILL.md body, a text/template.
	Content string
	// Model overrides the configured default model when set.
	Model string
	// Context lists doublestar globs, relative to the workspace root, of
	// files to include as context.
	Context []string
	// Exclude lists glob patterns removed from the Context matches.
	Exclude []string
	// MaxTokens caps the context budget; zero means the planner default.
	MaxTokens int
	// Output is the default destination for generated drafts.
	Output  string
	Builtin bool
}

// Metadata is the SKILL.md frontmatter.
type Metadata struct {
	Name        string   `meta:"name"`
	Description string   `meta:"description"`
	Model       string   `meta:"model"`
	Context     []string `meta:"context"`
	Exclude     []string `meta:"exclude"`
	MaxTokens   int      `meta:"max_tokens"`
	Output      string   `meta:"output"`
}

// PromptData is what a skill template can reference.
type PromptData struct {
	Skill       string
	Instruction string
	Book        string
	Chapter     string
	Scene       string
}

var promptFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join":  strings.Join,
	"default": func(fallback, value string) string {
		if value == "" {
			return fallback
		}
		return value
	},
}

// Prompt renders the skill body with data.
func (s *Skill) Prompt(data PromptData) (string, error) {
	tmpl, err := template.New(s.Name).Funcs(promptFuncs).Option("missingkey=zero").Parse(s.Content)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse prompt of skill %s", s.Name)
	}

	data.Skill = s.Name
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "failed to render prompt of skill %s", s.Name)
	}
	return strings.TrimSpace(buf.String()), nil
}
