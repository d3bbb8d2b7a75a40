// Package draft turns a raw assistant reply into the canonical body that is
// stored on disk. Replies arrive wrapped in any combination of a directive
// tag, a code fence, directive header lines and a metadata header; each
// layer is peeled by its own stage.
package draft

import (
	"regexp"
	"strings"

	"github.com/TenVexAI/saipling/pkg/directives"
	"github.com/TenVexAI/saipling/pkg/frontmatter"
)

// Stage removes one wrapping layer. A stage must return its input
// unchanged when the layer is absent. original is the text the current
// pass started from, before any stage ran.
type Stage func(text, original string) string

// Pipeline is an ordered list of stages applied left to right.
type Pipeline []Stage

// DefaultPipeline is the outside-in order in which assistants wrap drafts.
var DefaultPipeline = Pipeline{
	StripTagWrapper,
	StripFence,
	StripDirectiveHeader,
	StripMetadataHeader,
}

// Normalize runs the default pipeline until the text stops changing.
func Normalize(raw string) string {
	return DefaultPipeline.Normalize(raw)
}

// Normalize applies the pipeline repeatedly until a pass is a no-op, so the
// result is always a fixed point: Normalize(Normalize(t)) == Normalize(t).
// Every stage either returns its input or a strictly shorter substring, so
// the loop terminates.
func (p Pipeline) Normalize(raw string) string {
	text := strings.TrimSpace(raw)
	for {
		next := p.Pass(text)
		if next == text {
			return text
		}
		text = next
	}
}

// Pass applies every stage exactly once.
func (p Pipeline) Pass(text string) string {
	original := text
	for _, stage := range p {
		text = strings.TrimSpace(stage(text, original))
	}
	return text
}

var tagWrapperPattern = regexp.MustCompile(`(?s)^<` + directives.TagName + `\b[^>]*>(.*)</` + directives.TagName + `\s*>$`)

// StripTagWrapper removes a directive tag that wraps the entire text.
func StripTagWrapper(text, _ string) string {
	trimmed := strings.TrimSpace(text)
	m := tagWrapperPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return text
	}
	inner := m[1]
	if strings.Contains(inner, "</"+directives.TagName) {
		// Several tag pairs side by side; not a single wrapper.
		return text
	}
	return inner
}

// StripFence removes one code fence. A fence wrapping the whole text is
// preferred; otherwise the first fence found anywhere is used and the
// prose around it is discarded.
func StripFence(text, _ string) string {
	if fence, ok := directives.WholeFence(text); ok {
		return fence.Content
	}
	fences := directives.FindFences(text)
	if len(fences) == 0 {
		return text
	}
	return fences[0].Content
}

// StripDirectiveHeader drops leading `target:`/`action:`/`section:` lines
// up through the `---` separator, but only when the pass began with a
// fenced directive marker.
func StripDirectiveHeader(text, original string) string {
	if !strings.Contains(original, directives.FenceToken+directives.FenceMarker) {
		return text
	}

	lines := strings.Split(text, "\n")
	sawHeader := false
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		switch {
		case trimmed == "":
			continue
		case trimmed == frontmatter.Delimiter:
			if !sawHeader {
				return text
			}
			return strings.Join(lines[i+1:], "\n")
		case isDirectiveHeader(trimmed):
			sawHeader = true
		default:
			return text
		}
	}
	return text
}

func isDirectiveHeader(l string) bool {
	key, _, found := strings.Cut(l, ":")
	if !found {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "target", "action", "section":
		return true
	}
	return false
}

// StripMetadataHeader removes one embedded metadata header.
func StripMetadataHeader(text, _ string) string {
	return frontmatter.Strip(text)
}
