package llm

import "unicode/utf8"

// Tokenizer counts the tokens of s.
type Tokenizer func(s string) int

// EstimateTokens approximates a token count at roughly four characters per
// token. It is used when the provider does not report usage.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
