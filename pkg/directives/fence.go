package directives

import "strings"

// FenceToken opens and closes a generic code fence.
const FenceToken = "```"

// Fence is one fenced block located inside a larger text. Offsets are byte
// positions: Start is the first byte of the opening line and End is the byte
// after the closing line (including its newline when present).
type Fence struct {
	Info    string // language tag or marker after the opening token
	Content string // text between the opening and closing lines
	Start   int
	End     int
}

type line struct {
	text  string // without the trailing newline or carriage return
	start int
	end   int // byte after the newline
}

func splitLines(text string) []line {
	var lines []line
	offset := 0
	for offset < len(text) {
		idx := strings.IndexByte(text[offset:], '\n')
		if idx < 0 {
			lines = append(lines, line{text: strings.TrimRight(text[offset:], "\r"), start: offset, end: len(text)})
			break
		}
		lines = append(lines, line{
			text:  strings.TrimRight(text[offset:offset+idx], "\r"),
			start: offset,
			end:   offset + idx + 1,
		})
		offset += idx + 1
	}
	return lines
}

// openingInfo reports whether l opens a fence and returns its info string.
func openingInfo(l string) (string, bool) {
	trimmed := strings.TrimSpace(l)
	if !strings.HasPrefix(trimmed, FenceToken) {
		return "", false
	}
	info := strings.TrimSpace(strings.TrimLeft(trimmed, "`"))
	if strings.Contains(info, "`") {
		return "", false
	}
	return info, true
}

func isClosing(l string) bool {
	return strings.TrimSpace(l) == FenceToken
}

// FindFences returns every closed fenced block in text, in order. A bare
// token line inside an open block closes it; a token line carrying an info
// string opens a nested block that must be closed before the outer one.
// Unclosed blocks are not reported.
func FindFences(text string) []Fence {
	lines := splitLines(text)
	var fences []Fence

	for i := 0; i < len(lines); i++ {
		info, ok := openingInfo(lines[i].text)
		if !ok {
			continue
		}
		closeAt := findClose(lines, i+1)
		if closeAt < 0 {
			continue
		}
		fences = append(fences, Fence{
			Info:    info,
			Content: joinLines(text, lines, i+1, closeAt),
			Start:   lines[i].start,
			End:     lines[closeAt].end,
		})
		i = closeAt
	}
	return fences
}

// findClose returns the index of the line closing a block whose interior
// starts at from, or -1 when the block never closes.
func findClose(lines []line, from int) int {
	depth := 0
	for j := from; j < len(lines); j++ {
		if isClosing(lines[j].text) {
			if depth == 0 {
				return j
			}
			depth--
			continue
		}
		if info, ok := openingInfo(lines[j].text); ok && info != "" {
			depth++
		}
	}
	return -1
}

// joinLines returns the original text spanning lines [from, to) without the
// final newline.
func joinLines(text string, lines []line, from, to int) string {
	if from >= to {
		return ""
	}
	content := text[lines[from].start:lines[to-1].end]
	content = strings.TrimSuffix(content, "\n")
	return strings.TrimSuffix(content, "\r")
}

// WholeFence returns the fence when text, ignoring surrounding whitespace,
// is exactly one fenced block.
func WholeFence(text string) (Fence, bool) {
	trimmed := strings.TrimSpace(text)
	fences := FindFences(trimmed)
	if len(fences) == 0 {
		return Fence{}, false
	}
	first := fences[0]
	if first.Start != 0 || strings.TrimSpace(trimmed[first.End:]) != "" {
		return Fence{}, false
	}
	return first, true
}
