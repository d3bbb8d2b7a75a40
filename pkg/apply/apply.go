// Package apply turns approved directives into document writes. Preview
// computes the resulting document and a unified diff without writing;
// Apply writes.
package apply

import (
	"context"
	"regexp"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/TenVexAI/saipling/pkg/directives"
	"github.com/TenVexAI/saipling/pkg/frontmatter"
	"github.com/TenVexAI/saipling/pkg/logger"
	"github.com/TenVexAI/saipling/pkg/storage"
)

var (
	// ErrDisplayOnly is returned for directives without a usable target.
	ErrDisplayOnly = errors.New("directive has no target and is display-only")
	// ErrSectionNotFound is returned when a replace names a heading the
	// document does not have.
	ErrSectionNotFound = errors.New("section not found")
)

// Store is the storage a directive is applied to.
type Store interface {
	Read(ctx context.Context, path string) (storage.Document, error)
	Write(ctx context.Context, path string, metadata map[string]any, body string) error
	NextAvailablePath(ctx context.Context, path string) (string, error)
}

// Change is the effect of one directive.
type Change struct {
	Directive directives.Directive `json:"directive"`
	// Path is where the document is written. A create whose target
	// exists gets the next versioned name.
	Path     string         `json:"path"`
	Existed  bool           `json:"existed"`
	Metadata map[string]any `json:"metadata"`
	Body     string         `json:"body"`
	Diff     string         `json:"diff"`
}

// Text returns the document as it will be stored.
func (c Change) Text() string {
	return frontmatter.Serialize(c.Metadata, c.Body)
}

// Preview computes the change d would make.
func Preview(ctx context.Context, store Store, d directives.Directive) (*Change, error) {
	if !d.Actionable() {
		return nil, ErrDisplayOnly
	}

	existing, err := store.Read(ctx, d.Target)
	existed := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	change := &Change{Directive: d, Path: d.Target, Existed: existed}
	body := strings.TrimSpace(d.Body())

	switch d.Action {
	case directives.ActionReplace:
		if !existed {
			change.Metadata, change.Body = d.Metadata, body
			break
		}
		change.Metadata = frontmatter.Merge(existing.Metadata, d.Metadata)
		if d.Section == "" {
			change.Body = body
			break
		}
		replaced, err := ReplaceSection(existing.Body, d.Section, body)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", d.Target)
		}
		change.Body = replaced

	case directives.ActionAppend:
		if !existed {
			change.Metadata, change.Body = d.Metadata, body
			break
		}
		change.Metadata = frontmatter.Merge(existing.Metadata, d.Metadata)
		change.Body = joinBlocks(existing.Body, body)

	case directives.ActionUpdateMetadata:
		if !existed {
			return nil, errors.Wrapf(storage.ErrNotFound, "cannot update metadata of %s", d.Target)
		}
		updates := d.Metadata
		if len(updates) == 0 {
			updates = frontmatter.ParseFields(d.Content)
		}
		change.Metadata = frontmatter.Merge(existing.Metadata, updates)
		change.Body = existing.Body

	default:
		change.Metadata, change.Body = d.Metadata, body
		if existed {
			next, err := store.NextAvailablePath(ctx, d.Target)
			if err != nil {
				return nil, err
			}
			change.Path = next
			change.Existed = false
		}
	}

	before := ""
	if change.Existed {
		before = existing.Text()
	}
	change.Diff = udiff.Unified("a/"+change.Path, "b/"+change.Path, before, change.Text())
	return change, nil
}

// Apply previews and writes every directive in order. A failing
// directive does not stop the others; all failures are returned together.
func Apply(ctx context.Context, store Store, ds []directives.Directive) ([]Change, error) {
	var result *multierror.Error
	changes := make([]Change, 0, len(ds))

	for _, d := range ds {
		change, err := Preview(ctx, store, d)
		if err == nil {
			err = store.Write(ctx, change.Path, change.Metadata, change.Body)
		}
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to apply %s to %s", d.Action, d.Target))
			continue
		}
		logger.G(ctx).
			WithField(logger.FieldPath, change.Path).
			WithField("action", d.Action).
			Info("directive applied")
		changes = append(changes, *change)
	}
	return changes, result.ErrorOrNil()
}

var sectionHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// ReplaceSection swaps the content under the heading whose text equals
// section, ignoring case. The section runs to the next heading of the same
// or a higher level. When replacement starts with a heading it replaces
// the heading too; otherwise the original heading is kept.
func ReplaceSection(body, section, replacement string) (string, error) {
	lines := strings.Split(body, "\n")
	want := strings.ToLower(strings.TrimSpace(strings.TrimLeft(section, "#")))

	start, level := -1, 0
	for i, line := range lines {
		m := sectionHeading.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if start < 0 {
			if strings.ToLower(m[2]) == want {
				start, level = i, len(m[1])
			}
			continue
		}
		if len(m[1]) <= level {
			return spliceSection(lines, start, i, replacement), nil
		}
	}
	if start < 0 {
		return "", errors.Wrapf(ErrSectionNotFound, "%q", section)
	}
	return spliceSection(lines, start, len(lines), replacement), nil
}

func spliceSection(lines []string, start, end int, replacement string) string {
	replacement = strings.TrimSpace(replacement)
	var section string
	if sectionHeading.MatchString(strings.SplitN(replacement, "\n", 2)[0]) {
		section = replacement
	} else {
		section = joinBlocks(lines[start], replacement)
	}

	before := strings.TrimRight(strings.Join(lines[:start], "\n"), "\n")
	after := strings.TrimLeft(strings.Join(lines[end:], "\n"), "\n")
	return strings.TrimRight(joinBlocks(joinBlocks(before, section), after), "\n") + trailingNewline(lines)
}

func trailingNewline(lines []string) string {
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		return "\n"
	}
	return ""
}

// joinBlocks separates two non-empty blocks with one blank line.
func joinBlocks(a, b string) string {
	a = strings.TrimRight(a, "\n")
	b = strings.TrimLeft(b, "\n")
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}
