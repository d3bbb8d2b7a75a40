// Package frontmatter reads and writes the flat key/value header that prefixes
// every saipling document. The header is a deliberately small subset of YAML:
// one `key: value` pair per line, with scalars, booleans, numbers and
// bracketed string lists. Nested structures are not supported.
package frontmatter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Delimiter opens and closes a metadata header.
const Delimiter = "---"

var numberPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Parse splits text into its metadata header and body. Text without a
// complete header is returned unchanged as the body with an empty map.
func Parse(text string) (map[string]any, string) {
	header, body, ok := split(text)
	if !ok {
		return map[string]any{}, text
	}
	return ParseFields(header), body
}

// HasHeader reports whether text starts with a complete metadata header.
func HasHeader(text string) bool {
	_, _, ok := split(text)
	return ok
}

// Strip removes a leading metadata header, if any, and returns the body.
func Strip(text string) string {
	_, body, ok := split(text)
	if !ok {
		return text
	}
	return body
}

// split locates the header interior and the body that follows it.
func split(text string) (header, body string, ok bool) {
	first, rest, found := strings.Cut(text, "\n")
	if !found || strings.TrimRight(first, "\r") != Delimiter {
		return "", "", false
	}

	offset := 0
	for offset <= len(rest) {
		line, next, more := strings.Cut(rest[offset:], "\n")
		if strings.HasPrefix(line, Delimiter) {
			header = rest[:offset]
			if !more {
				return header, "", true
			}
			body = next
			body = strings.TrimPrefix(body, "\r")
			body = strings.TrimPrefix(body, "\n")
			return header, body, true
		}
		if !more {
			break
		}
		offset += len(line) + 1
	}
	return "", "", false
}

// ParseFields decodes `key: value` lines. Lines without a colon are ignored.
// A key may be double-quoted, in which case it can hold a colon.
func ParseFields(header string) map[string]any {
	metadata := map[string]any{}
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimRight(line, "\r")
		key, value, found := cutField(line)
		if !found || key == "" {
			continue
		}
		metadata[key] = DecodeValue(value)
	}
	return metadata
}

func cutField(line string) (key, value string, found bool) {
	if strings.HasPrefix(line, `"`) {
		if prefix, err := strconv.QuotedPrefix(line); err == nil {
			rest := strings.TrimLeft(line[len(prefix):], " \t")
			if after, ok := strings.CutPrefix(rest, ":"); ok {
				key, _ = strconv.Unquote(prefix)
				return key, after, true
			}
		}
	}
	key, value, found = strings.Cut(line, ":")
	return strings.TrimSpace(key), value, found
}

// DecodeValue converts a raw header value into a list, bool, number or
// string. Values that match no rule are returned as the trimmed raw string.
func DecodeValue(raw string) any {
	value := strings.TrimSpace(raw)

	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		return decodeList(value)
	}

	switch value {
	case "true":
		return true
	case "false":
		return false
	}

	if numberPattern.MatchString(value) {
		if !strings.Contains(value, ".") {
			if n, err := strconv.Atoi(value); err == nil {
				return n
			}
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}

	if len(value) >= 2 {
		switch {
		case value[0] == '"' && value[len(value)-1] == '"':
			if s, err := strconv.Unquote(value); err == nil {
				return s
			}
			return value[1 : len(value)-1]
		case value[0] == '\'' && value[len(value)-1] == '\'':
			return value[1 : len(value)-1]
		}
	}

	return value
}

func decodeList(value string) []string {
	var quoted []string
	if err := json.Unmarshal([]byte(value), &quoted); err == nil {
		return quoted
	}

	inner := strings.TrimSpace(value[1 : len(value)-1])
	if inner == "" {
		return []string{}
	}
	parts := strings.Split(inner, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		items = append(items, unquote(strings.TrimSpace(part)))
	}
	return items
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Serialize renders metadata followed by body. Keys are written in sorted
// order so the output is stable. An empty map returns body untouched.
//
// Keys that could not be read back verbatim (a colon, a leading delimiter,
// a leading quote or surrounding space) are written double-quoted.
//
// Numbers are normalised: Parse returns whole numbers as int and the rest
// as float64. A whole float64 such as 4.0 is written as 4 and reads back
// as int, which keeps JSON-decoded counts readable in the header. int64 and
// float32 values likewise come back as int and float64.
func Serialize(metadata map[string]any, body string) string {
	if len(metadata) == 0 {
		return body
	}

	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(Delimiter)
	b.WriteString("\n")
	for _, key := range keys {
		b.WriteString(encodeKey(key))
		b.WriteString(": ")
		b.WriteString(EncodeValue(metadata[key]))
		b.WriteString("\n")
	}
	b.WriteString(Delimiter)
	b.WriteString("\n\n")
	b.WriteString(body)
	return b.String()
}

// EncodeValue renders a single metadata value. Strings that would decode as
// something else are quoted so they survive a round trip.
func EncodeValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return encodeString(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case []string:
		return encodeList(len(v), func(i int) string { return v[i] })
	case []any:
		return encodeList(len(v), func(i int) string { return fmt.Sprint(v[i]) })
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func encodeKey(key string) string {
	if strings.ContainsAny(key, ":\r\n") ||
		strings.HasPrefix(key, Delimiter) ||
		strings.HasPrefix(key, `"`) ||
		key != strings.TrimSpace(key) {
		return strconv.Quote(key)
	}
	return key
}

func encodeList(n int, item func(int) string) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		quoted, _ := json.Marshal(item(i))
		parts[i] = string(quoted)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func encodeString(s string) string {
	if s != strings.TrimSpace(s) || strings.ContainsAny(s, "\r\n") {
		return strconv.Quote(s)
	}
	if decoded, ok := DecodeValue(s).(string); ok && decoded == s {
		return s
	}
	return strconv.Quote(s)
}
