// Package pricing holds per-model token prices and turns token counts into
// USD costs.
package pricing

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LongContextThreshold is the input token count above which a model's
// long-context tier applies.
const LongContextThreshold = 200_000

// ErrUnknownModel is returned by Lookup for models missing from the table.
var ErrUnknownModel = errors.New("unknown model")

// Tier is a price in USD per million tokens.
type Tier struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Cost prices the given token counts at this tier.
func (t Tier) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*t.Input + float64(outputTokens)*t.Output) / 1_000_000
}

// ModelPricing is the pricing of a single model.
type ModelPricing struct {
	Standard    Tier  `yaml:"standard" json:"standard"`
	LongContext *Tier `yaml:"long_context,omitempty" json:"long_context,omitempty"`
}

// TierFor picks the tier for a request with the given input size.
func (p ModelPricing) TierFor(inputTokens int) Tier {
	if p.LongContext != nil && inputTokens > LongContextThreshold {
		return *p.LongContext
	}
	return p.Standard
}

// DefaultRate prices models the table does not know.
var DefaultRate = Tier{Input: 3, Output: 15}

// Table maps model identifiers to pricing.
type Table struct {
	Models  map[string]ModelPricing `yaml:"models" json:"models"`
	Default *Tier                   `yaml:"default,omitempty" json:"default,omitempty"`
}

// DefaultTable returns the built-in prices.
func DefaultTable() *Table {
	return &Table{Models: map[string]ModelPricing{
		"claude-opus-4":     {Standard: Tier{Input: 15, Output: 75}},
		"claude-sonnet-4":   {Standard: Tier{Input: 3, Output: 15}, LongContext: &Tier{Input: 6, Output: 22.5}},
		"claude-3-7-sonnet": {Standard: Tier{Input: 3, Output: 15}},
		"claude-3-5-haiku":  {Standard: Tier{Input: 0.8, Output: 4}},
		"gpt-4.1":           {Standard: Tier{Input: 2, Output: 8}},
		"gpt-4.1-mini":      {Standard: Tier{Input: 0.4, Output: 1.6}},
		"gpt-4o":            {Standard: Tier{Input: 2.5, Output: 10}},
		"gpt-4o-mini":       {Standard: Tier{Input: 0.15, Output: 0.6}},
		"o3":                {Standard: Tier{Input: 2, Output: 8}},
		"gemini-2.5-pro":    {Standard: Tier{Input: 1.25, Output: 10}, LongContext: &Tier{Input: 2.5, Output: 15}},
		"gemini-2.5-flash":  {Standard: Tier{Input: 0.3, Output: 2.5}},
	}}
}

// Load reads a YAML pricing file. An empty path returns the built-in table.
// Entries in the file override built-in entries of the same name.
func Load(path string) (*Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pricing file %s", path)
	}

	var file Table
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse pricing file %s", path)
	}

	for name, p := range file.Models {
		table.Models[name] = p
	}
	if file.Default != nil {
		table.Default = file.Default
	}
	return table, nil
}

// Lookup finds pricing for model. Exact names win; otherwise the longest
// table key that prefixes model is used, so dated model ids such as
// claude-sonnet-4-20250514 resolve to their family.
func (t *Table) Lookup(model string) (ModelPricing, error) {
	if p, ok := t.Models[model]; ok {
		return p, nil
	}

	keys := make([]string, 0, len(t.Models))
	for k := range t.Models {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.HasPrefix(model, k) {
			return t.Models[k], nil
		}
	}
	return ModelPricing{}, errors.Wrapf(ErrUnknownModel, "no pricing for %q", model)
}

// Cost prices a completed request. Unknown models are charged at the
// default rate instead of failing.
func (t *Table) Cost(model string, inputTokens, outputTokens int) float64 {
	p, err := t.Lookup(model)
	if err != nil {
		return t.defaultRate().Cost(inputTokens, outputTokens)
	}
	return p.TierFor(inputTokens).Cost(inputTokens, outputTokens)
}

func (t *Table) defaultRate() Tier {
	if t.Default != nil {
		return *t.Default
	}
	return DefaultRate
}
