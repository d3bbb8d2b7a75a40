package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/TenVexAI/saipling/pkg/generate"
	"github.com/TenVexAI/saipling/pkg/storage"
)

const (
	readConcurrency = 8
	summaryLimit    = 600
	// internalDir holds the ledger and local skills; it is never context.
	internalDir = ".saipling/"
)

type contextDoc struct {
	storage.Document
	tokens int
}

type selectedFile struct {
	generate.ContextFile
	text string
}

func compileExcludes(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "invalid exclude pattern %q", pattern)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func excluded(path string, excludes []glob.Glob) bool {
	if strings.HasPrefix(path, internalDir) {
		return true
	}
	for _, g := range excludes {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// gatherContext reads every file matching patterns, in pattern order and
// sorted within a pattern. A file matched by several patterns is read
// once.
func gatherContext(ctx context.Context, store *storage.FS, patterns []string, excludes []glob.Glob) ([]contextDoc, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		matches, err := store.List(ctx, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if seen[m] || excluded(m, excludes) {
				continue
			}
			seen[m] = true
			paths = append(paths, m)
		}
	}

	docs := make([]contextDoc, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			doc, err := store.Read(gctx, p)
			if err != nil {
				return errors.Wrapf(err, "failed to read context file %s", p)
			}
			docs[i] = contextDoc{Document: doc, tokens: EstimateTokens(doc.Text())}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// selectContext includes documents in full until the next one would
// exceed budget; every document after that is summarized.
func selectContext(docs []contextDoc, budget int) []selectedFile {
	selected := make([]selectedFile, 0, len(docs))
	used := 0
	overflow := false
	for _, d := range docs {
		if !overflow && used+d.tokens <= budget {
			used += d.tokens
			selected = append(selected, selectedFile{
				ContextFile: generate.ContextFile{Path: d.Path, Mode: generate.ModeFull, Tokens: d.tokens},
				text:        d.Text(),
			})
			continue
		}
		overflow = true
		summary := summarize(d.Document)
		tokens := EstimateTokens(summary)
		used += tokens
		selected = append(selected, selectedFile{
			ContextFile: generate.ContextFile{Path: d.Path, Mode: generate.ModeSummary, Tokens: tokens},
			text:        summary,
		})
	}
	return selected
}

func fullPaths(selected []selectedFile) map[string]bool {
	paths := make(map[string]bool, len(selected))
	for _, s := range selected {
		if s.Mode == generate.ModeFull {
			paths[s.Path] = true
		}
	}
	return paths
}

// summarize prefers the document's summary field, then its first prose
// paragraph.
func summarize(doc storage.Document) string {
	if s, ok := doc.Metadata["summary"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}

	var paragraph []string
	for _, line := range strings.Split(doc.Body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			if len(paragraph) > 0 {
				return truncateWords(strings.Join(paragraph, " "), summaryLimit)
			}
		case trimmed == "":
			if len(paragraph) > 0 {
				return truncateWords(strings.Join(paragraph, " "), summaryLimit)
			}
		default:
			paragraph = append(paragraph, trimmed)
		}
	}
	return truncateWords(strings.Join(paragraph, " "), summaryLimit)
}

// truncateWords cuts s to at most limit runes, at a word boundary when
// there is one.
func truncateWords(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + " ..."
}

func composeSystemPrompt(system string, selected []selectedFile, retrieved []retrievedSection) string {
	if len(selected) == 0 && len(retrieved) == 0 {
		return system
	}

	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\n# Workspace context\n")
	for _, s := range selected {
		fmt.Fprintf(&b, "\n<file path=%q mode=%q>\n%s\n</file>\n", s.Path, s.Mode, strings.TrimSpace(s.text))
	}
	for _, r := range retrieved {
		fmt.Fprintf(&b, "\n<excerpt source=%q section=%q>\n%s\n</excerpt>\n", r.Source, r.Section, strings.TrimSpace(r.text))
	}
	return strings.TrimRight(b.String(), "\n")
}
