// Package moderation implements the safety controls of the chat engine:
// the non-optional hard content filter, asymmetric block lists, the
// progressive strike/ban state machine, and transient IP bans. Client-side
// mild masking is a presentation preference and never reaches this code.
package moderation

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// Sentinel replaces the entire content of a message that trips the hard
// filter. Stored content never contains the original text.
const Sentinel = "[removed]"

// FilterResult describes the outcome of a hard-filter check.
type FilterResult struct {
	Blocked bool
	Term    string // the matched term, for moderator logs
}

// Filter is the hard content filter: a configured set of disallowed words
// and phrases matched case-insensitively on word boundaries. Markup is
// stripped before matching so tags cannot smuggle terms past the scan.
type Filter struct {
	words     map[string]struct{}
	phrases   []string
	sanitizer *bluemonday.Policy
}

// NewFilter builds a filter from the configured terms. Terms containing
// whitespace are matched as phrases, everything else as whole words.
func NewFilter(terms []string) *Filter {
	f := &Filter{
		words:     make(map[string]struct{}),
		sanitizer: bluemonday.StrictPolicy(),
	}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if strings.ContainsFunc(t, unicode.IsSpace) {
			f.phrases = append(f.phrases, t)
		} else {
			f.words[t] = struct{}{}
		}
	}
	return f
}

// Check scans text against the disallowed terms.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	for _, phrase := range f.phrases {
		if containsPhrase(lower, phrase) {
			return FilterResult{Blocked: true, Term: phrase}
		}
	}
	for _, word := range fields(lower) {
		if _, ok := f.words[word]; ok {
			return FilterResult{Blocked: true, Term: word}
		}
	}
	return FilterResult{}
}

// Apply sanitizes markup out of content and replaces it entirely with the
// sentinel when a disallowed term matches. This runs before storage; what
// Apply returns is what the log keeps.
func (f *Filter) Apply(content string) (string, FilterResult) {
	clean := f.sanitizer.Sanitize(content)
	res := f.Check(clean)
	if res.Blocked {
		return Sentinel, res
	}
	return clean, res
}

// fields splits on anything that is not a letter or digit, so punctuation
// does not hide a disallowed word.
func fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsPhrase reports whether phrase occurs in s on word boundaries.
func containsPhrase(s, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		startOK := start == 0 || !isWordRune(rune(s[start-1]))
		endOK := end == len(s) || !isWordRune(rune(s[end]))
		if startOK && endOK {
			return true
		}
		idx = start + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
