// Package filter implements the keyword allowlist predicate applied before analysis.
package filter

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

// KeywordSet is a case-folded, deduplicated keyword allowlist.
type KeywordSet struct {
	keywords []string
	folded   []string
}

// NewKeywordSet folds and deduplicates the configured keywords. Blank entries are ignored.
func NewKeywordSet(keywords []string) KeywordSet {
	fold := cases.Fold()
	set := KeywordSet{}
	seen := map[string]struct{}{}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		f := fold.String(kw)
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		set.keywords = append(set.keywords, kw)
		set.folded = append(set.folded, f)
	}
	return set
}

// Len returns the number of distinct keywords.
func (s KeywordSet) Len() int {
	return len(s.folded)
}

// Keywords returns the original spelling of every keyword.
func (s KeywordSet) Keywords() []string {
	return append([]string(nil), s.keywords...)
}

// Passes reports whether the candidate mentions at least one keyword in its title or text.
// An empty set lets everything through.
func Passes(candidate domain.RawCandidate, set KeywordSet) bool {
	if set.Len() == 0 {
		return true
	}
	haystack := foldCandidate(candidate)
	for _, kw := range set.folded {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// Matches returns every keyword the candidate mentions, in configuration order.
func Matches(candidate domain.RawCandidate, set KeywordSet) []string {
	if set.Len() == 0 {
		return nil
	}
	haystack := foldCandidate(candidate)
	var hits []string
	for i, kw := range set.folded {
		if strings.Contains(haystack, kw) {
			hits = append(hits, set.keywords[i])
		}
	}
	return hits
}

func foldCandidate(candidate domain.RawCandidate) string {
	return cases.Fold().String(candidate.Title + "\n" + candidate.RawText)
}
