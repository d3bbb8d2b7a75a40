// Package directives recovers structured file-edit proposals ("apply
// directives") from free-form assistant replies.
//
// Two embedded syntaxes are recognised and may be mixed in one reply:
//
//	```saipling-apply
//	target: book/chapters/01.md
//	action: replace
//	section: "Opening"
//	---
//	New section text.
//	```
//
//	<saipling-apply target="book/chapters/01.md" action="append">
//	More text.
//	</saipling-apply>
//
// Directives are proposals only. Nothing in this package touches storage.
package directives

import (
	"regexp"
	"sort"
	"strings"

	"github.com/TenVexAI/saipling/pkg/frontmatter"
)

// Action is the kind of edit a directive proposes.
type Action string

const (
	ActionCreate         Action = "create"
	ActionReplace        Action = "replace"
	ActionAppend         Action = "append"
	ActionUpdateMetadata Action = "update_metadata"
)

// Form records which syntax a directive was recovered from.
type Form string

const (
	FormFenced Form = "fenced"
	FormTag    Form = "tag"
)

const (
	// FenceMarker is the info string that turns a code fence into a directive.
	FenceMarker = "saipling-apply"
	// TagName is the element name of the tag form.
	TagName = "saipling-apply"
	// UnknownTarget is assigned to tag directives that carry no target
	// attribute. Such directives are display-only.
	UnknownTarget = "unknown"
)

// targetAttributes lists accepted attribute names in priority order.
var targetAttributes = []string{"target", "path", "file", "filename"}

var (
	tagPattern       = regexp.MustCompile(`(?s)<` + TagName + `\b([^>]*)>(.*?)</` + TagName + `\s*>`)
	attributePattern = regexp.MustCompile(`([A-Za-z_][\w:-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// Directive is one proposed edit.
type Directive struct {
	Target   string         `json:"target" jsonschema:"description=Workspace-relative path of the document to edit"`
	Action   Action         `json:"action" jsonschema:"enum=create,enum=replace,enum=append,enum=update_metadata"`
	Section  string         `json:"section,omitempty" jsonschema:"description=Heading text whose section a replace targets"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Form     Form           `json:"form" jsonschema:"enum=fenced,enum=tag"`

	start int
	end   int
}

// Body returns the directive content with any embedded metadata header
// removed.
func (d Directive) Body() string {
	return frontmatter.Strip(d.Content)
}

// Actionable reports whether the directive names a concrete target.
func (d Directive) Actionable() bool {
	return d.Target != "" && d.Target != UnknownTarget
}

// ParseAction maps a raw action value onto a known Action. Unrecognised
// values fall back to ActionCreate.
func ParseAction(raw string) Action {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(unquote(raw))), "-", "_")
	switch Action(normalized) {
	case ActionCreate, ActionReplace, ActionAppend, ActionUpdateMetadata:
		return Action(normalized)
	default:
		return ActionCreate
	}
}

// HasDirectives is a cheap check for whether text may carry directives.
func HasDirectives(text string) bool {
	return strings.Contains(text, FenceToken+FenceMarker) || strings.Contains(text, "<"+TagName)
}

// Extract returns every valid directive in text, ordered by position, along
// with the text that remains once directive markup is removed.
func Extract(text string) ([]Directive, string) {
	fenced, tagged := scan(text)

	var found []Directive
	for _, r := range fenced {
		if r.valid {
			found = append(found, r.directive)
		}
	}
	for _, r := range tagged {
		if r.valid {
			found = append(found, r.directive)
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].start < found[j].start })

	return found, strip(text, fenced, tagged)
}

// StripDirectiveMarkup returns text with every directive region removed,
// leaving only the conversational prose.
func StripDirectiveMarkup(text string) string {
	if !HasDirectives(text) {
		return strings.TrimSpace(text)
	}
	fenced, tagged := scan(text)
	return strip(text, fenced, tagged)
}

type region struct {
	directive Directive
	valid     bool
}

func scan(text string) (fenced, tagged []region) {
	if !HasDirectives(text) {
		return nil, nil
	}

	for _, fence := range FindFences(text) {
		if fence.Info != FenceMarker {
			continue
		}
		d, ok := parseFenced(fence.Content)
		d.start, d.end = fence.Start, fence.End
		fenced = append(fenced, region{directive: d, valid: ok})
	}

	for _, m := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if overlaps(start, end, fenced) {
			continue
		}
		d, ok := parseTag(text[m[2]:m[3]], text[m[4]:m[5]])
		d.start, d.end = start, end
		tagged = append(tagged, region{directive: d, valid: ok})
	}
	return fenced, tagged
}

func overlaps(start, end int, regions []region) bool {
	for _, r := range regions {
		if start < r.directive.end && r.directive.start < end {
			return true
		}
	}
	return false
}

// parseFenced reads the header lines of a fenced directive. The header ends
// at the first `---` line or at the first line that is neither blank nor a
// target, action or section field. Everything after it is body.
func parseFenced(interior string) (Directive, bool) {
	d := Directive{Action: ActionCreate, Form: FormFenced}
	lines := strings.Split(interior, "\n")

	bodyFrom := len(lines)
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == frontmatter.Delimiter {
			bodyFrom = i + 1
			break
		}
		if trimmed == "" {
			continue
		}
		if !parseHeaderField(&d, trimmed) {
			bodyFrom = i
			break
		}
	}

	if d.Target == "" {
		return d, false
	}
	if bodyFrom < len(lines) {
		d.Content = strings.TrimSpace(strings.Join(lines[bodyFrom:], "\n"))
	}
	d.Metadata = embeddedMetadata(d.Content)
	return d, true
}

func parseHeaderField(d *Directive, line string) bool {
	key, value, found := strings.Cut(line, ":")
	if !found {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "target":
		d.Target = unquote(strings.TrimSpace(value))
	case "action":
		d.Action = ParseAction(value)
	case "section":
		d.Section = unquote(strings.TrimSpace(value))
	default:
		return false
	}
	return true
}

func parseTag(attributes, inner string) (Directive, bool) {
	d := Directive{Action: ActionCreate, Form: FormTag, Target: UnknownTarget}

	attrs := map[string]string{}
	for _, m := range attributePattern.FindAllStringSubmatch(attributes, -1) {
		value := m[2]
		if value == "" {
			value = m[3]
		}
		attrs[strings.ToLower(m[1])] = strings.TrimSpace(value)
	}
	for _, name := range targetAttributes {
		if v, ok := attrs[name]; ok && v != "" {
			d.Target = v
			break
		}
	}
	if v, ok := attrs["action"]; ok {
		d.Action = ParseAction(v)
	}
	d.Section = attrs["section"]

	d.Content = unwrapTagBody(inner)
	if d.Content == "" {
		return d, false
	}
	d.Metadata = embeddedMetadata(d.Content)
	return d, true
}

// unwrapTagBody strips a single markdown or untagged fence when it wraps
// the whole tag interior.
func unwrapTagBody(inner string) string {
	if fence, ok := WholeFence(inner); ok {
		switch strings.ToLower(fence.Info) {
		case "", "markdown", "md":
			return strings.TrimSpace(fence.Content)
		}
	}
	return strings.TrimSpace(inner)
}

func embeddedMetadata(content string) map[string]any {
	if !frontmatter.HasHeader(content) {
		return nil
	}
	metadata, _ := frontmatter.Parse(content)
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

var blankRun = regexp.MustCompile(`\n{3,}`)

func strip(text string, groups ...[]region) string {
	var spans []region
	for _, g := range groups {
		spans = append(spans, g...)
	}
	if len(spans) == 0 {
		return strings.TrimSpace(text)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].directive.start < spans[j].directive.start })

	var b strings.Builder
	cursor := 0
	for _, s := range spans {
		if s.directive.start < cursor {
			continue
		}
		b.WriteString(text[cursor:s.directive.start])
		cursor = s.directive.end
	}
	b.WriteString(text[cursor:])

	out := strings.ReplaceAll(b.String(), "\r\n", "\n")
	return strings.TrimSpace(blankRun.ReplaceAllString(out, "\n\n"))
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
