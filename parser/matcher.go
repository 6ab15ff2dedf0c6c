package parser

import (
	"regexp"
	"slices"

	"github.com/tidwall/gjson"
)

type family int

const (
	familyTag family = iota
	familyLoose
	familyMessage
)

func (f family) String() string {
	switch f {
	case familyTag:
		return "tag"
	case familyLoose:
		return "loose"
	default:
		return "message"
	}
}

// match is one candidate tool call found in the text. full covers any
// surrounding tags, obj only the JSON object.
type match struct {
	full   span
	obj    span
	family family
	// invalid holds a reason when the object inside a tag is not valid JSON.
	invalid string
}

// Opening tags contain "tool" and are written as <...> or [...]. Closing
// forms (</x>, [/x], [END_x]) are only recognized directly after an object.
var (
	tagOpen  = regexp.MustCompile(`(?i)<\s*[a-z0-9_\-\s]*tool[a-z0-9_\-\s]*>|\[\s*[a-z0-9_\-\s]*tool[a-z0-9_\-\s]*\]`)
	tagClose = regexp.MustCompile(`(?i)^\s*(?:<\s*/\s*[a-z0-9_\-\s]*tool[a-z0-9_\-\s]*>|\[\s*(?:/|end_?)[a-z0-9_\-\s]*tool[a-z0-9_\-\s]*\])`)
)

// tagMatches finds JSON objects that directly follow an opening tool tag.
// Objects that are not yet closed are ignored so the caller can retry once
// more text has arrived.
func tagMatches(text string) []match {
	var out []match
	for _, loc := range tagOpen.FindAllStringIndex(text, -1) {
		i := skipSpace(text, loc[1])
		if i >= len(text) || text[i] != '{' {
			continue
		}
		end, ok := balancedObject(text, i)
		if !ok {
			continue
		}
		m := match{
			full:   span{start: loc[0], end: end},
			obj:    span{start: i, end: end},
			family: familyTag,
		}
		if !gjson.Valid(text[i:end]) {
			m.invalid = "tool call body is not valid JSON"
		}
		if c := tagClose.FindStringIndex(text[end:]); c != nil {
			m.full.end = end + c[1]
		}
		out = append(out, m)
	}
	return out
}

// objectMatches classifies bare JSON objects into the loose and message-only
// families. Objects that fit neither are not tool calls.
func objectMatches(text string) []match {
	var out []match
	for _, s := range scanObjects(text) {
		obj := gjson.Parse(text[s.start:s.end])
		switch {
		case obj.Get("arguments").Exists():
			out = append(out, match{full: s, obj: s, family: familyLoose})
		case isMessageOnly(obj):
			out = append(out, match{full: s, obj: s, family: familyMessage})
		}
	}
	return out
}

// isMessageOnly reports whether obj has exactly one key, "message", holding a string.
func isMessageOnly(obj gjson.Result) bool {
	keys := 0
	onlyMessage := true
	obj.ForEach(func(k, v gjson.Result) bool {
		keys++
		if k.String() != "message" || v.Type != gjson.String {
			onlyMessage = false
			return false
		}
		return true
	})
	return keys == 1 && onlyMessage
}

// findMatches runs every matcher family and returns the non-overlapping
// matches ordered by position. When two matches overlap the one that starts
// first wins; ties go to the family declared first.
func findMatches(text string) []match {
	all := append(tagMatches(text), objectMatches(text)...)
	slices.SortStableFunc(all, func(a, b match) int {
		if a.full.start != b.full.start {
			return a.full.start - b.full.start
		}
		return int(a.family) - int(b.family)
	})

	out := all[:0]
	end := -1
	for _, m := range all {
		if m.full.start < end {
			continue
		}
		out = append(out, m)
		end = m.full.end
	}
	return out
}
