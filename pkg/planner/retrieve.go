package planner

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/TenVexAI/saipling/pkg/generate"
)

const previewLength = 160

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

var stopWords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "been": true,
	"before": true, "from": true, "have": true, "into": true, "just": true,
	"make": true, "more": true, "over": true, "should": true, "some": true,
	"than": true, "that": true, "their": true, "them": true, "then": true,
	"there": true, "these": true, "they": true, "this": true, "when": true,
	"where": true, "which": true, "while": true, "with": true, "would": true,
	"write": true, "your": true, "what": true, "will": true, "each": true,
}

type retrievedSection struct {
	generate.RetrievedContext
	text string
}

type section struct {
	heading string
	text    string
}

// keywords returns the distinct lower-cased words of at least four letters
// that carry meaning.
func keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		w = strings.Trim(w, "'")
		if len([]rune(w)) < 4 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// splitSections cuts a markdown body at its headings. Text before the
// first heading forms a section with an empty heading.
func splitSections(body string) []section {
	var sections []section
	current := section{}
	var lines []string
	flush := func() {
		current.text = strings.TrimSpace(strings.Join(lines, "\n"))
		if current.heading != "" || current.text != "" {
			sections = append(sections, current)
		}
		lines = nil
	}
	for _, line := range strings.Split(body, "\n") {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			flush()
			current = section{heading: strings.TrimSpace(m[1])}
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return sections
}

var headingPattern = regexp.MustCompile(`^#{1,6}\s+(.+)$`)

// retrieve scores every section of docs not in skip by the share of
// instruction keywords it contains and returns the best limit sections.
func retrieve(instruction string, docs []contextDoc, skip map[string]bool, limit int) []retrievedSection {
	kws := keywords(instruction)
	if len(kws) == 0 || limit <= 0 {
		return nil
	}

	var found []retrievedSection
	for _, doc := range docs {
		if skip[doc.Path] {
			continue
		}
		for _, sec := range splitSections(doc.Body) {
			words := make(map[string]bool)
			for _, w := range wordPattern.FindAllString(strings.ToLower(sec.heading+" "+sec.text), -1) {
				words[strings.Trim(w, "'")] = true
			}
			matched := 0
			for _, kw := range kws {
				if words[kw] {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			found = append(found, retrievedSection{
				RetrievedContext: generate.RetrievedContext{
					Source:    doc.Path,
					Section:   sec.heading,
					Relevance: math.Round(float64(matched)/float64(len(kws))*100) / 100,
					Tokens:    EstimateTokens(sec.text),
					Preview:   preview(sec.text),
				},
				text: sec.text,
			})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Relevance > found[j].Relevance
	})
	if len(found) > limit {
		found = found[:limit]
	}
	return found
}

// preview collapses whitespace and keeps the first previewLength runes.
func preview(text string) string {
	runes := []rune(strings.Join(strings.Fields(text), " "))
	if len(runes) > previewLength {
		runes = runes[:previewLength]
	}
	return string(runes)
}
