package verify

import (
	"regexp"
	"strings"
)

// KeywordSet matches safety keywords as whole words, case-insensitively.
// A keyword with surrounding spaces (e.g. "rm ") is matched as the trimmed word.
type KeywordSet struct {
	words    []string
	patterns []*regexp.Regexp
}

// NewKeywordSet compiles words. Blank and duplicate entries are ignored.
func NewKeywordSet(words []string) *KeywordSet {
	ks := &KeywordSet{}
	seen := make(map[string]bool)
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		ks.words = append(ks.words, w)
		ks.patterns = append(ks.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return ks
}

// Match returns the keywords found in text, in configuration order.
func (ks *KeywordSet) Match(text string) []string {
	if ks == nil {
		return nil
	}
	var found []string
	for i, re := range ks.patterns {
		if re.MatchString(text) {
			found = append(found, ks.words[i])
		}
	}
	return found
}

// Any reports whether any keyword appears in any of texts.
func (ks *KeywordSet) Any(texts ...string) bool {
	for _, t := range texts {
		if len(ks.Match(t)) > 0 {
			return true
		}
	}
	return false
}
