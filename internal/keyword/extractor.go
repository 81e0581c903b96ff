// Package keyword derives search keywords and business mentions from review
// text.
package keyword

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	minTokenLength = 3
	maxTokenLength = 20
	maxKeywords    = 15
	maxMentions    = 10
	mentionRepeats = 2
)

// Extract returns the keywords and mentions of a review's title and content.
//
// Keywords are the distinct tokens of 3 to 20 characters in order of first
// appearance, capped at 15. Mentions are the keywords that are business terms
// or appear at least twice in the text, capped at 10. Extract is pure: the
// result depends only on its arguments.
func Extract(title, content string) (keywords, mentions []string) {
	tokens := tokenize(normalize(title + " " + content))

	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}

	keywords = make([]string, 0, maxKeywords)
	seen := make(map[string]struct{}, maxKeywords)
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
		if len(keywords) == maxKeywords {
			break
		}
	}

	mentions = make([]string, 0, maxMentions)
	for _, kw := range keywords {
		if _, ok := businessTerms[kw]; ok || freq[kw] >= mentionRepeats {
			mentions = append(mentions, kw)
			if len(mentions) == maxMentions {
				break
			}
		}
	}
	return keywords, mentions
}

// IsBusinessTerm reports whether term is in the curated vocabulary.
func IsBusinessTerm(term string) bool {
	_, ok := businessTerms[normalize(term)]
	return ok
}

// normalize composes the text to NFKC and lowercases it. A new Caser is
// built per call because Casers are not safe for concurrent use.
func normalize(s string) string {
	return cases.Lower(language.Und).String(norm.NFKC.String(s))
}

// tokenize splits s into words of letters and digits, keeping tokens whose
// rune length is within bounds and dropping stop words and pure numbers.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		n := utf8.RuneCountInString(f)
		if n < minTokenLength || n > maxTokenLength {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if isNumeric(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
