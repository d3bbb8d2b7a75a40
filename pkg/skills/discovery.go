package skills

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/TenVexAI/saipling/pkg/frontmatter"
)

const skillFileName = "SKILL.md"

//go:embed builtin/*/SKILL.md
var builtinFS embed.FS

// ErrNotFound is returned for an unknown skill name.
var ErrNotFound = errors.New("skill not found")

// Discovery finds skills in configured directories and the built-in set.
type Discovery struct {
	skillDirs []string
	builtin   fs.FS
}

// Option configures a Discovery.
type Option func(*Discovery) error

// WithSkillDirs sets the skill directories, highest precedence first.
func WithSkillDirs(dirs ...string) Option {
	return func(d *Discovery) error {
		d.skillDirs = dirs
		return nil
	}
}

// WithDefaultDirs uses the workspace-local and user-global skill
// directories.
func WithDefaultDirs() Option {
	return func(d *Discovery) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		d.skillDirs = []string{
			filepath.Join(".saipling", "skills"),
			filepath.Join(homeDir, ".saipling", "skills"),
		}
		return nil
	}
}

// WithoutBuiltins disables the built-in skills.
func WithoutBuiltins() Option {
	return func(d *Discovery) error {
		d.builtin = nil
		return nil
	}
}

// NewDiscovery returns a Discovery. Without options the default
// directories are used.
func NewDiscovery(opts ...Option) (*Discovery, error) {
	builtin, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open built-in skills")
	}
	d := &Discovery{builtin: builtin}

	if len(opts) == 0 {
		opts = []Option{WithDefaultDirs()}
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// DiscoverSkills returns every skill by name. A name found in an earlier
// directory shadows later ones; built-ins come last.
func (d *Discovery) DiscoverSkills() (map[string]*Skill, error) {
	skills := make(map[string]*Skill)

	for _, dir := range d.skillDirs {
		d.discoverFrom(os.DirFS(dir), dir, skills)
	}
	if d.builtin != nil {
		d.discoverFrom(d.builtin, "", skills)
	}
	return skills, nil
}

// discoverFrom adds every loadable skill under fsys. dir is the on-disk
// location of fsys, empty for built-ins. Unreadable or invalid skills are
// skipped.
func (d *Discovery) discoverFrom(fsys fs.FS, dir string, skills map[string]*Skill) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return
	}

	for _, entry := range entries {
		info, err := fs.Stat(fsys, entry.Name())
		if err != nil || !info.IsDir() {
			continue
		}

		skill, err := loadSkill(fsys, path.Join(entry.Name(), skillFileName))
		if err != nil {
			continue
		}
		if _, exists := skills[skill.Name]; exists {
			continue
		}
		if dir == "" {
			skill.Builtin = true
		} else {
			skill.Directory = filepath.Join(dir, entry.Name())
		}
		skills[skill.Name] = skill
	}
}

// GetSkill returns a skill by name.
func (d *Discovery) GetSkill(name string) (*Skill, error) {
	skills, err := d.DiscoverSkills()
	if err != nil {
		return nil, err
	}

	skill, exists := skills[name]
	if !exists {
		return nil, errors.Wrapf(ErrNotFound, "%s", name)
	}
	return skill, nil
}

// ListSkillNames returns the sorted names of all skills.
func (d *Discovery) ListSkillNames() ([]string, error) {
	skills, err := d.DiscoverSkills()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func loadSkill(fsys fs.FS, name string) (*Skill, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill file")
	}

	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse markdown")
	}

	metaData := meta.Get(pctx)
	if metaData == nil {
		return nil, errors.New("missing frontmatter")
	}

	var m Metadata
	if err := frontmatter.Decode(metaData, &m); err != nil {
		return nil, errors.Wrap(err, "invalid skill frontmatter")
	}
	if m.Name == "" {
		return nil, errors.New("skill name is required in frontmatter")
	}
	if m.Description == "" {
		return nil, errors.New("skill description is required in frontmatter")
	}
	if m.MaxTokens < 0 {
		return nil, errors.Errorf("max_tokens must not be negative, got %d", m.MaxTokens)
	}

	return &Skill{
		Name:        m.Name,
		Description: m.Description,
		Content:     strings.TrimLeft(frontmatter.Strip(string(content)), "\n"),
		Model:       m.Model,
		Context:     m.Context,
		Exclude:     m.Exclude,
		MaxTokens:   m.MaxTokens,
		Output:      m.Output,
	}, nil
}

// FilterByAllowlist keeps only the named skills. An empty allowlist keeps
// everything.
func FilterByAllowlist(skills map[string]*Skill, allowed []string) map[string]*Skill {
	if len(allowed) == 0 {
		return skills
	}

	filtered := make(map[string]*Skill)
	for _, name := range allowed {
		if skill, exists := skills[name]; exists {
			filtered[name] = skill
		}
	}
	return filtered
}
