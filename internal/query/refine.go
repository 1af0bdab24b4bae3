// File: internal/query/refine.go
// Search query refinement. Raw intent queries arrive as natural language
// ("buy me a samsung phone under 20000"); search boxes want compact
// keyword strings. Everything here is pure and total.
package query

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

// leadingStopwords are stripped only from the front of the query; a product
// genuinely named "the frame" should survive mid-query.
var leadingStopwords = map[string]bool{
	"buy": true, "find": true, "get": true, "order": true, "purchase": true,
	"search": true, "for": true, "me": true, "a": true, "an": true, "the": true,
	"please": true, "i": true, "want": true, "need": true,
}

var comparisonPatterns = []struct {
	re      *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`(?i)\b(?:greater|more|higher)\s+than\s+(\d[\d,]*)\b`), "above $1"},
	{regexp.MustCompile(`(?i)\b(?:less|lower|cheaper)\s+than\s+(\d[\d,]*)\b`), "under $1"},
	{regexp.MustCompile(`(?i)\bbelow\s+(\d[\d,]*)\b`), "under $1"},
	{regexp.MustCompile(`(?i)\bat\s+least\s+(\d[\d,]*)\b`), "above $1"},
	{regexp.MustCompile(`(?i)\bup\s+to\s+(\d[\d,]*)\b`), "under $1"},
}

// highPriorityKeys are the filters whose values get appended to the query
// when not already present: they narrow the result set far more than
// cosmetic constraints and most sites honor them as plain keywords.
var highPriorityKeys = []schemas.FilterKey{
	schemas.FilterBrand,
	schemas.FilterCategory,
	schemas.FilterRAM,
	schemas.FilterStorage,
}

// filterSuffixes decorates bare numeric filter values so the site's search
// parser understands them ("6" alone is meaningless; "6gb ram" is not).
var filterSuffixes = map[schemas.FilterKey]string{
	schemas.FilterRAM:     "gb ram",
	schemas.FilterStorage: "gb",
}

// Refine turns a natural-language query into a compact search string: strip
// leading stopwords, fold comparison phrases into normalized tokens, append
// still-absent high-priority filter values and any supplied suggested
// keywords, then deduplicate words case-insensitively preserving first
// occurrence.
func Refine(raw string, filters schemas.FilterSet, suggested []string) string {
	q := strings.TrimSpace(raw)

	for _, p := range comparisonPatterns {
		q = p.re.ReplaceAllString(q, p.replace)
	}

	words := strings.Fields(q)
	for len(words) > 0 && leadingStopwords[strings.ToLower(words[0])] {
		words = words[1:]
	}

	for _, key := range highPriorityKeys {
		value, ok := filters[key]
		if !ok || value == "" {
			continue
		}
		token := strings.ToLower(strings.TrimSpace(value))
		if suffix, ok := filterSuffixes[key]; ok && isAllDigits(token) {
			token += suffix
		}
		words = append(words, strings.Fields(token)...)
	}

	for _, kw := range suggested {
		words = append(words, strings.Fields(strings.TrimSpace(kw))...)
	}

	return strings.Join(dedupeFold(words), " ")
}

// dedupeFold removes case-insensitive duplicate words, keeping the first
// occurrence's casing.
func dedupeFold(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := words[:0]
	for _, w := range words {
		key := strings.ToLower(w)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, w)
	}
	return out
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
