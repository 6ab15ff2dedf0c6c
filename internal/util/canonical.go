package util

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

var canonicalOptions = func() *pretty.Options {
	opts := *pretty.DefaultOptions
	opts.SortKeys = true
	return &opts
}()

// CanonicalJSON renders a JSON document with sorted object keys and no
// insignificant whitespace, so that semantically equal arguments compare
// equal as strings. Invalid JSON is returned trimmed but otherwise untouched.
func CanonicalJSON(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "{}"
	}
	if !gjson.Valid(trimmed) {
		return trimmed
	}
	return string(pretty.Ugly(pretty.PrettyOptions([]byte(trimmed), canonicalOptions)))
}
