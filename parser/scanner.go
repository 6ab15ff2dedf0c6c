package parser

import "github.com/tidwall/gjson"

// span is a half-open byte range [start, end) of the input text.
type span struct {
	start, end int
}

// balancedObject returns the end offset (exclusive) of the JSON object that
// opens at text[start] == '{'. Braces inside string literals are ignored and
// escapes are honoured. ok is false when the object is not closed.
func balancedObject(text string, start int) (end int, ok bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// scanObjects finds every top-level, syntactically valid JSON object in text.
// Nested objects belong to their enclosing object and are not reported.
func scanObjects(text string) []span {
	var out []span
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end, ok := balancedObject(text, i)
		if !ok {
			continue
		}
		if !gjson.Valid(text[i:end]) {
			continue
		}
		out = append(out, span{start: i, end: end})
		i = end - 1
	}
	return out
}

// skipSpace returns the first offset >= i that is not ASCII whitespace.
func skipSpace(text string, i int) int {
	for i < len(text) {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// pendingObject returns the offset of the first '{' that opens what looks like
// a JSON object but is not closed yet, or -1. Objects found after it may be
// nested inside it once more text arrives.
func pendingObject(text string) int {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		if end, ok := balancedObject(text, i); ok {
			i = end - 1
			continue
		}
		if j := skipSpace(text, i+1); j == len(text) || text[j] == '"' {
			return i
		}
	}
	return -1
}
