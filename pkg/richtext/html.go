package richtext

import (
	"bytes"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var previewRenderer = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough),
)

// FromHTML imports pasted HTML. The HTML is first converted to markdown and
// then parsed, so anything outside the supported subset degrades to plain
// paragraphs.
func FromHTML(html string) (*Node, error) {
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert html to markdown")
	}
	return Parse(markdown), nil
}

// ToHTML renders markdown as an HTML preview.
func ToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := previewRenderer.Convert([]byte(markdown), &buf); err != nil {
		return "", errors.Wrap(err, "failed to render markdown")
	}
	return buf.String(), nil
}

// TreeToHTML renders a tree as an HTML preview.
func TreeToHTML(n *Node) (string, error) {
	return ToHTML(Render(n))
}
