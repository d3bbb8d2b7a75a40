package richtext

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Render converts a tree back to markdown. List markers, emphasis markers
// and ordered-list numbering are normalized, so the output is not always
// byte-identical to the markdown the tree was parsed from, but parsing it
// again yields the same tree.
func Render(n *Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	if n.Type == KindDoc {
		renderBlocks(&b, n.Content)
	} else {
		renderBlocks(&b, []*Node{n})
	}
	out := strings.TrimRight(b.String(), "\n")
	if out == "" {
		return ""
	}
	return out + "\n"
}

func renderBlocks(b *strings.Builder, blocks []*Node) {
	for _, n := range blocks {
		renderBlock(b, n)
	}
}

func renderBlock(b *strings.Builder, n *Node) {
	switch n.Type {
	case KindHeading:
		level := min(max(n.Level, 1), 6)
		b.WriteString(strings.Repeat("#", level) + " " + renderInline(n.Content) + "\n\n")
	case KindParagraph:
		b.WriteString(renderInline(n.Content) + "\n\n")
	case KindBlockquote:
		var inner strings.Builder
		renderBlocks(&inner, n.Content)
		for _, l := range strings.Split(strings.TrimRight(inner.String(), "\n"), "\n") {
			if l == "" {
				b.WriteString(">\n")
				continue
			}
			b.WriteString("> " + l + "\n")
		}
		b.WriteString("\n")
	case KindBulletList, KindOrderedList:
		for i, item := range n.Content {
			marker := "- "
			if n.Type == KindOrderedList {
				marker = fmt.Sprintf("%d. ", i+1)
			}
			b.WriteString(marker + itemText(item) + "\n")
		}
		b.WriteString("\n")
	case KindCodeBlock:
		b.WriteString(fence + n.Language + "\n")
		if n.Text != "" {
			b.WriteString(n.Text + "\n")
		}
		b.WriteString(fence + "\n\n")
	case KindHorizontalRule:
		b.WriteString("---\n\n")
	case KindDoc, KindListItem:
		renderBlocks(b, n.Content)
	default:
		// Stray inline node at block level.
		b.WriteString(renderInline([]*Node{n}) + "\n\n")
	}
}

// itemText flattens a list item to one line. Items hold a single paragraph
// when parsed; extra blocks added by an editor are joined with spaces.
func itemText(item *Node) string {
	if item.Type != KindListItem {
		return renderInline([]*Node{item})
	}
	var parts []string
	for _, child := range item.Content {
		if child.IsBlock() {
			parts = append(parts, renderInline(child.Content))
			continue
		}
		parts = append(parts, renderInline([]*Node{child}))
	}
	return strings.Join(parts, " ")
}

func renderInline(nodes []*Node) string {
	var b strings.Builder
	for i, n := range nodes {
		switch n.Type {
		case KindText:
			b.WriteString(n.Text)
		case KindCode:
			b.WriteString("`" + n.Text + "`")
		case KindBoldItalic:
			wrap(&b, n.Content, "***", "___", nextRune(nodes, i))
		case KindBold:
			wrap(&b, n.Content, "**", "__", nextRune(nodes, i))
		case KindItalic:
			wrap(&b, n.Content, "*", "_", nextRune(nodes, i))
		case KindStrike:
			b.WriteString("~~" + renderInline(n.Content) + "~~")
		case KindHighlight:
			b.WriteString("==" + renderInline(n.Content) + "==")
		case KindLink:
			b.WriteString("[" + renderInline(n.Content) + "](" + n.Href + ")")
		default:
			b.WriteString(renderInline(n.Content))
		}
	}
	return b.String()
}

// wrap writes emphasis with asterisks. Inner text containing an asterisk
// gets the underscore spelling instead, but only where underscores are read
// back as emphasis: not glued to a word character on either side.
func wrap(b *strings.Builder, content []*Node, star, underscore string, next rune) {
	inner := renderInline(content)
	marker := star
	prev, _ := utf8.DecodeLastRuneInString(b.String())
	if strings.Contains(inner, "*") && !isWordRune(prev) && !isWordRune(next) {
		marker = underscore
	}
	b.WriteString(marker + inner + marker)
}

// nextRune returns the first rune rendered after nodes[i], or
// utf8.RuneError at the end.
func nextRune(nodes []*Node, i int) rune {
	if i+1 >= len(nodes) {
		return utf8.RuneError
	}
	switch next := nodes[i+1]; next.Type {
	case KindBoldItalic, KindBold, KindItalic:
		// Emphasis following an underscore marker always uses asterisks.
		return '*'
	default:
		r, _ := utf8.DecodeRuneInString(renderInline([]*Node{next}))
		return r
	}
}
