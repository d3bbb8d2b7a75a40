package richtext

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// inlineRule turns every match of pattern into a node of kind. Rules run as
// sequential passes; a pass only sees text nodes left over by earlier passes.
type inlineRule struct {
	kind    Kind
	pattern *regexp.Regexp
	// intraword rejects matches glued to word characters on either side,
	// so snake_case_names are not read as emphasis.
	intraword bool
}

var inlineRules = []inlineRule{
	{kind: KindBoldItalic, pattern: regexp.MustCompile(`\*\*\*(.+?)\*\*\*`)},
	{kind: KindBoldItalic, pattern: regexp.MustCompile(`___(.+?)___`), intraword: true},
	{kind: KindBold, pattern: regexp.MustCompile(`\*\*(.+?)\*\*`)},
	{kind: KindBold, pattern: regexp.MustCompile(`__(.+?)__`), intraword: true},
	{kind: KindItalic, pattern: regexp.MustCompile(`\*([^*]+)\*`)},
	{kind: KindItalic, pattern: regexp.MustCompile(`_([^_]+)_`), intraword: true},
	{kind: KindCode, pattern: regexp.MustCompile("`([^`]+)`")},
	{kind: KindLink, pattern: regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)},
	{kind: KindStrike, pattern: regexp.MustCompile(`~~(.+?)~~`)},
	{kind: KindHighlight, pattern: regexp.MustCompile(`==(.+?)==`)},
}

func parseInline(text string) []*Node {
	if text == "" {
		return nil
	}
	return applyRules([]*Node{textNode(text)}, inlineRules)
}

func applyRules(nodes []*Node, rules []inlineRule) []*Node {
	for i, rule := range rules {
		var out []*Node
		for _, n := range nodes {
			if n.Type != KindText {
				out = append(out, n)
				continue
			}
			out = append(out, rule.split(n.Text, rules[i+1:])...)
		}
		nodes = out
	}
	return nodes
}

// split cuts s around the rule's matches. The inner text of a match is
// processed by the remaining rules only.
func (r inlineRule) split(s string, rest []inlineRule) []*Node {
	var out []*Node
	cursor := 0
	for _, m := range r.pattern.FindAllStringSubmatchIndex(s, -1) {
		if r.intraword && !standalone(s, m[0], m[1]) {
			continue
		}
		if m[0] > cursor {
			out = append(out, textNode(s[cursor:m[0]]))
		}
		out = append(out, r.node(s, m, rest))
		cursor = m[1]
	}
	if cursor == 0 {
		return []*Node{textNode(s)}
	}
	if cursor < len(s) {
		out = append(out, textNode(s[cursor:]))
	}
	return out
}

func (r inlineRule) node(s string, m []int, rest []inlineRule) *Node {
	inner := s[m[2]:m[3]]
	switch r.kind {
	case KindCode:
		return &Node{Type: KindCode, Text: inner}
	case KindLink:
		return &Node{
			Type:    KindLink,
			Href:    s[m[4]:m[5]],
			Content: applyRules([]*Node{textNode(inner)}, rest),
		}
	default:
		return &Node{Type: r.kind, Content: applyRules([]*Node{textNode(inner)}, rest)}
	}
}

func standalone(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
