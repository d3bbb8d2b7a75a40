// Package richtext converts between markdown and the node tree used by the
// interactive editor. Only the small markdown subset the editor can show is
// supported: headings, paragraphs, block quotes, flat lists, code blocks,
// horizontal rules and a handful of inline styles.
package richtext

import "strings"

// Kind names a node type. Values match the editor's schema names.
type Kind string

// Block kinds.
const (
	KindDoc            Kind = "doc"
	KindHeading        Kind = "heading"
	KindParagraph      Kind = "paragraph"
	KindBlockquote     Kind = "blockquote"
	KindBulletList     Kind = "bulletList"
	KindOrderedList    Kind = "orderedList"
	KindListItem       Kind = "listItem"
	KindCodeBlock      Kind = "codeBlock"
	KindHorizontalRule Kind = "horizontalRule"
)

// Inline kinds.
const (
	KindText       Kind = "text"
	KindBold       Kind = "bold"
	KindItalic     Kind = "italic"
	KindBoldItalic Kind = "boldItalic"
	KindCode       Kind = "code"
	KindStrike     Kind = "strike"
	KindHighlight  Kind = "highlight"
	KindLink       Kind = "link"
)

// Node is one element of the tree. Text is used by text, code and
// codeBlock nodes; Level by headings; Href by links; Language by code blocks.
type Node struct {
	Type     Kind    `json:"type"`
	Level    int     `json:"level,omitempty"`
	Text     string  `json:"text,omitempty"`
	Href     string  `json:"href,omitempty"`
	Language string  `json:"language,omitempty"`
	Content  []*Node `json:"content,omitempty"`
}

// IsBlock reports whether the node is a block-level node.
func (n *Node) IsBlock() bool {
	switch n.Type {
	case KindDoc, KindHeading, KindParagraph, KindBlockquote, KindBulletList,
		KindOrderedList, KindListItem, KindCodeBlock, KindHorizontalRule:
		return true
	}
	return false
}

// Equal reports whether two trees have the same shape and values.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Type != other.Type || n.Level != other.Level || n.Text != other.Text ||
		n.Href != other.Href || n.Language != other.Language || len(n.Content) != len(other.Content) {
		return false
	}
	for i := range n.Content {
		if !n.Content[i].Equal(other.Content[i]) {
			return false
		}
	}
	return true
}

// PlainText returns the visible text of the tree with blocks separated by
// newlines.
func PlainText(n *Node) string {
	var b strings.Builder
	writePlain(&b, n)
	return strings.TrimSpace(b.String())
}

func writePlain(b *strings.Builder, n *Node) {
	if n == nil {
		return
	}
	switch n.Type {
	case KindText, KindCode, KindCodeBlock:
		b.WriteString(n.Text)
	default:
		for _, child := range n.Content {
			writePlain(b, child)
		}
	}
	if n.IsBlock() && n.Type != KindDoc {
		b.WriteString("\n")
	}
}

// WordCount counts whitespace-separated words of visible text.
func WordCount(n *Node) int {
	return len(strings.Fields(PlainText(n)))
}

func textNode(s string) *Node {
	return &Node{Type: KindText, Text: s}
}
