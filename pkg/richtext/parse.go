package richtext

import (
	"regexp"
	"strings"
)

var (
	headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	rulePattern    = regexp.MustCompile(`^(?:-{3,}|\*{3,}|_{3,})$`)
	bulletPattern  = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)
	orderedPattern = regexp.MustCompile(`^\s*\d+[.)]\s+(.*)$`)
)

const fence = "```"

// Parse converts markdown into a document tree. Parsing never fails;
// constructs outside the supported subset become paragraphs.
func Parse(markdown string) *Node {
	p := &parser{doc: &Node{Type: KindDoc}}
	text := strings.ReplaceAll(markdown, "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		p.line(line)
	}
	p.finish()
	return p.doc
}

type parser struct {
	doc *Node

	inCode   bool
	codeLang string
	code     []string

	list  *Node
	quote []string
}

func (p *parser) line(l string) {
	if p.inCode {
		if strings.TrimSpace(l) == fence {
			p.closeCode()
			return
		}
		p.code = append(p.code, l)
		return
	}

	trimmed := strings.TrimSpace(l)

	if strings.HasPrefix(trimmed, fence) {
		p.flush()
		p.inCode = true
		p.codeLang = strings.TrimSpace(strings.TrimPrefix(trimmed, fence))
		return
	}

	if m := headingPattern.FindStringSubmatch(trimmed); m != nil {
		p.flush()
		p.emit(&Node{Type: KindHeading, Level: len(m[1]), Content: parseInline(strings.TrimSpace(m[2]))})
		return
	}

	if rulePattern.MatchString(trimmed) {
		p.flush()
		p.emit(&Node{Type: KindHorizontalRule})
		return
	}

	if trimmed == ">" || strings.HasPrefix(trimmed, "> ") {
		p.flushList()
		p.quote = append(p.quote, strings.TrimSpace(strings.TrimPrefix(trimmed, ">")))
		return
	}

	if m := bulletPattern.FindStringSubmatch(l); m != nil {
		p.flushQuote()
		p.item(KindBulletList, m[1])
		return
	}

	if m := orderedPattern.FindStringSubmatch(l); m != nil {
		p.flushQuote()
		p.item(KindOrderedList, m[1])
		return
	}

	if trimmed == "" {
		p.flush()
		return
	}

	p.flush()
	p.emit(paragraph(trimmed))
}

func (p *parser) item(kind Kind, text string) {
	if p.list != nil && p.list.Type != kind {
		p.flushList()
	}
	if p.list == nil {
		p.list = &Node{Type: kind}
	}
	p.list.Content = append(p.list.Content, &Node{
		Type:    KindListItem,
		Content: []*Node{paragraph(strings.TrimSpace(text))},
	})
}

func (p *parser) closeCode() {
	lines := p.code
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	p.emit(&Node{Type: KindCodeBlock, Language: p.codeLang, Text: strings.Join(lines, "\n")})
	p.inCode, p.codeLang, p.code = false, "", nil
}

func (p *parser) emit(n *Node) {
	p.doc.Content = append(p.doc.Content, n)
}

func (p *parser) flush() {
	p.flushList()
	p.flushQuote()
}

func (p *parser) flushList() {
	if p.list == nil {
		return
	}
	p.emit(p.list)
	p.list = nil
}

// flushQuote emits the buffered quote lines as one blockquote. Consecutive
// lines join into a single paragraph; an empty quote line starts a new one.
func (p *parser) flushQuote() {
	if p.quote == nil {
		return
	}
	quote := &Node{Type: KindBlockquote}
	var current []string
	closeParagraph := func() {
		if len(current) > 0 {
			quote.Content = append(quote.Content, paragraph(strings.Join(current, " ")))
			current = nil
		}
	}
	for _, l := range p.quote {
		if l == "" {
			closeParagraph()
			continue
		}
		current = append(current, l)
	}
	closeParagraph()
	p.emit(quote)
	p.quote = nil
}

// finish closes whatever is still open at end of input. An unterminated
// code fence keeps the text buffered so far.
func (p *parser) finish() {
	if p.inCode {
		p.closeCode()
	}
	p.flush()
}

func paragraph(text string) *Node {
	return &Node{Type: KindParagraph, Content: parseInline(text)}
}
