package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

// ParseScore coerces a model-supplied score into an integer in [1,10].
// Whole JSON numbers and integer strings are accepted; fractions and out-of-range values are not.
func ParseScore(v any) (int, error) {
	var n int64
	switch x := v.(type) {
	case nil:
		return 0, fmt.Errorf("%w: missing score", domain.ErrAnalysisFailure)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return 0, fmt.Errorf("%w: score %v is not an integer", domain.ErrAnalysisFailure, x)
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return 0, fmt.Errorf("%w: score %q is not an integer", domain.ErrAnalysisFailure, x.String())
			}
			i = int64(f)
		}
		n = i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: score %q is not an integer", domain.ErrAnalysisFailure, x)
		}
		n = i
	default:
		return 0, fmt.Errorf("%w: score has type %T", domain.ErrAnalysisFailure, v)
	}
	if n < 1 || n > 10 {
		return 0, fmt.Errorf("%w: score %d outside [1,10]", domain.ErrAnalysisFailure, n)
	}
	return int(n), nil
}

// StringList converts a decoded JSON array into trimmed strings, dropping blanks and
// case-insensitive duplicates. Any non-string entry is rejected.
func StringList(field string, items []any) ([]string, error) {
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] has type %T", domain.ErrAnalysisFailure, field, i, item)
		}
		out = append(out, s)
	}
	return Dedupe(out), nil
}

// Dedupe trims entries and keeps the first spelling of each case-insensitive value.
func Dedupe(items []string) []string {
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := fold.String(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

var (
	wordPattern = regexp.MustCompile(`[a-z]{4,}`)

	stopWords = map[string]struct{}{
		"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "into": {}, "that": {},
		"this": {}, "their": {}, "your": {}, "about": {}, "across": {}, "through": {},
		"over": {}, "under": {}, "health": {}, "wellness": {}, "services": {},
		"service": {}, "business": {},
	}
)

// Keywords extracts lowercase tokens of at least four letters, minus generic words.
func Keywords(text string) []string {
	tokens := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := tokens[:0]
	for _, tok := range tokens {
		if _, stop := stopWords[tok]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

// MatchGoals returns every goal sharing at least one keyword with the text.
func MatchGoals(text string, goals []string) []string {
	lower := strings.ToLower(text)
	var matches []string
	for _, goal := range goals {
		for _, kw := range Keywords(goal) {
			if strings.Contains(lower, kw) {
				matches = append(matches, goal)
				break
			}
		}
	}
	return matches
}

// KnownGoals keeps the reported entries that name one of goals, compared
// case-insensitively, and returns them in the configured spelling.
func KnownGoals(reported, goals []string) []string {
	fold := cases.Fold()
	canonical := make(map[string]string, len(goals))
	for _, goal := range goals {
		canonical[fold.String(strings.TrimSpace(goal))] = goal
	}
	var out []string
	for _, r := range reported {
		if goal, ok := canonical[fold.String(strings.TrimSpace(r))]; ok {
			out = append(out, goal)
		}
	}
	return out
}

// Clip cuts text to at most limit runes. A non-positive limit disables clipping.
func Clip(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}
