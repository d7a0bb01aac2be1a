package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// charRunLimit is the number of identical consecutive characters that
	// counts as flooding ("aaaaa", "!!!!!").
	charRunLimit = 5
	// wordRunLimit is the number of identical consecutive words, compared
	// case-insensitively, that counts as flooding.
	wordRunLimit = 3
)

var (
	// Bare domains need a path so "v2.0" and "3.14" stay clean.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// +1-555-123-4567, (555) 123-4567, 555.123.4567; must stand alone.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// spamRule flags a message body. The first matching rule wins.
type spamRule struct {
	term  string
	match func(text string) bool
}

var spamRules = []spamRule{
	{term: "url", match: urlPattern.MatchString},
	{term: "phone", match: phonePattern.MatchString},
	{term: "char_flood", match: func(text string) bool {
		return longestRun([]rune(text), func(a, b rune) bool { return a == b }) >= charRunLimit
	}},
	{term: "word_flood", match: func(text string) bool {
		words := strings.FieldsFunc(text, unicode.IsSpace)
		return longestRun(words, strings.EqualFold) >= wordRunLimit
	}},
}

// longestRun returns the length of the longest stretch of consecutive
// elements that eq considers equal.
func longestRun[T any](items []T, eq func(a, b T) bool) int {
	if len(items) == 0 {
		return 0
	}
	best, run := 1, 1
	for i := 1; i < len(items); i++ {
		if eq(items[i-1], items[i]) {
			run++
			best = max(best, run)
		} else {
			run = 1
		}
	}
	return best
}

func (f *Filter) checkSpamPatterns(text string) FilterResult {
	for _, rule := range spamRules {
		if rule.match(text) {
			return FilterResult{Blocked: true, Reason: "spam_pattern", Term: rule.term}
		}
	}
	return FilterResult{}
}
