package skills

import (
	"context"
	"sync"

	"github.com/TenVexAI/saipling/pkg/logger"
)

// Initialize discovers skills from dirs, or the default directories when
// dirs is empty, and applies the allowlist. Discovery problems are logged
// and yield an empty registry.
func Initialize(ctx context.Context, dirs []string, allowed []string) *Registry {
	var opts []Option
	if len(dirs) > 0 {
		opts = append(opts, WithSkillDirs(dirs...))
	}

	discovery, err := NewDiscovery(opts...)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to create skill discovery")
		discovery = &Discovery{}
	}

	all, err := discovery.DiscoverSkills()
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to discover skills")
	}
	all = FilterByAllowlist(all, allowed)
	logger.G(ctx).WithField("count", len(all)).Debug("skills discovered")
	return &Registry{skills: all}
}

// Registry is the set of skills resolved at startup. Watch replaces its
// contents when skill files change.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Skill
}

// NewRegistry returns a registry over skills.
func NewRegistry(skills ...*Skill) *Registry {
	r := &Registry{skills: make(map[string]*Skill, len(skills))}
	for _, s := range skills {
		r.skills[s.Name] = s
	}
	return r
}

// Get returns the named skill.
func (r *Registry) Get(name string) (*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.skills[name]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

// All returns a copy of every skill, in no particular order.
func (r *Registry) All() map[string]*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make(map[string]*Skill, len(r.skills))
	for name, s := range r.skills {
		all[name] = s
	}
	return all
}

// Replace swaps in the skills of other.
func (r *Registry) Replace(other *Registry) {
	skills := other.All()
	r.mu.Lock()
	r.skills = skills
	r.mu.Unlock()
}
