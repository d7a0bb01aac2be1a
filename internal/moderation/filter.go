// Package moderation provides content filtering for chat messages. The
// moderator service runs every committed room message through a Filter and
// publishes a Flag for the ones that trip it.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of a content check. Reason is
// "blocked_keyword" or "spam_pattern"; Term names the matching term or
// spam check.
type FilterResult struct {
	Blocked bool
	Reason  string
	Term    string
}

// defaultTerms is the built-in blocklist. Single words match whole tokens;
// multi-word entries match consecutive tokens.
var defaultTerms = []string{
	// threats and self-harm
	"kill yourself", "kys", "go die", "bomb threat",
	// sexual solicitation
	"send nudes", "child porn",
	// hate
	"heil hitler",
	// scams
	"free bitcoin", "crypto giveaway", "double your money",
}

// leetMap folds common character substitutions back to letters.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

type phrase struct {
	text   string
	tokens []string
}

// Filter matches text against a keyword blocklist and the spam checks. It
// is immutable after construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases []phrase
}

// NewFilter creates a Filter with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a Filter over the given terms. Terms are
// case-insensitive; blank terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		tokens := tokenizePlain(strings.ToLower(strings.TrimSpace(term)))
		switch len(tokens) {
		case 0:
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, phrase{text: strings.Join(tokens, " "), tokens: tokens})
		}
	}
	return f
}

// Check reports whether text should be flagged. Blocklist matches take
// priority over spam patterns.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	if term, ok := f.match(tokenizePlain(lower)); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	leet := tokenizeLeet(lower)
	for i, tok := range leet {
		leet[i] = normalizeLeet(tok)
	}
	if term, ok := f.match(leet); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	return f.checkSpamPatterns(text)
}

func (f *Filter) match(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}

	for _, p := range f.phrases {
		n := len(p.tokens)
		for i := 0; i+n <= len(tokens); i++ {
			if equalTokens(tokens[i:i+n], p.tokens) {
				return p.text, true
			}
		}
	}
	return "", false
}

func equalTokens(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalizeLeet replaces leetspeak substitutions with the letters they
// stand for.
func normalizeLeet(s string) string {
	return strings.Map(func(r rune) rune {
		if l, ok := leetMap[r]; ok {
			return l
		}
		return r
	}, s)
}

// tokenizePlain splits s into runs of letters and digits.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet is tokenizePlain but keeps leetspeak symbols inside tokens.
func tokenizeLeet(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		if _, ok := leetMap[r]; ok {
			return false
		}
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
