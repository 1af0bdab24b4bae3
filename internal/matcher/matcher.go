// File: internal/matcher/matcher.go
// Pure parsing, matching and ranking functions over product records. Every
// function in this package is total: malformed input degrades to "no
// information" and is never treated as a violation.
package matcher

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

var (
	// priceRegex captures the first numeric token with an optional
	// thousands suffix ("15k", "15 thousand").
	priceRegex = regexp.MustCompile(`(?i)([0-9][0-9,.]*)\s*(k\b|thousand\b)?`)
	// ratingRegex captures a rating like "4.3", "4.3 out of 5", "4.3★".
	ratingRegex = regexp.MustCompile(`([0-9](?:\.[0-9]+)?)`)

	ramRegex     = regexp.MustCompile(`(?i)(\d+)\s*gb\s*(?:of\s*)?ram`)
	batteryRegex = regexp.MustCompile(`(?i)(\d{3,5})\s*mah`)
	storageRegex = regexp.MustCompile(`(?i)(\d+)\s*(gb|tb)`)
)

// brandAliases expands a canonical brand to the sub-brands and product lines
// commonly used in listing titles instead of the brand itself.
var brandAliases = map[string][]string{
	"xiaomi":   {"xiaomi", "mi", "redmi", "poco"},
	"samsung":  {"samsung", "galaxy"},
	"apple":    {"apple", "iphone", "ipad", "macbook"},
	"oneplus":  {"oneplus", "one plus"},
	"motorola": {"motorola", "moto"},
	"google":   {"google", "pixel"},
	"oppo":     {"oppo"},
	"vivo":     {"vivo", "iqoo"},
	"realme":   {"realme"},
	"nokia":    {"nokia"},
	"hp":       {"hp", "hewlett packard"},
	"boat":     {"boat", "boat audio"},
}

// unavailableKeywords mark a listing that cannot be bought right now.
var unavailableKeywords = []string{
	"out of stock",
	"sold out",
	"currently unavailable",
	"unavailable",
	"discontinued",
	"notify me",
	"coming soon",
	"pre-order",
}

// knownColors is the palette used for contradiction checks on the color
// filter. A title naming none of these carries no color information.
var knownColors = []string{
	"black", "white", "blue", "red", "green", "grey", "gray", "silver",
	"gold", "purple", "pink", "yellow", "orange", "brown", "bronze",
}

// contradictingConditions reject a "new" condition request.
var contradictingConditions = []string{"refurbished", "renewed", "used", "pre-owned", "open box"}

// ParsePrice extracts a price from free-form listing text. It strips
// currency symbols and separators, resolves "k"/"thousand" suffixes and
// takes the lower bound of a range. Unparseable text returns 0, which all
// consumers treat as "unknown" rather than a bound violation.
func ParsePrice(text string) float64 {
	m := priceRegex.FindStringSubmatch(text)
	if m == nil {
		return 0
	}

	numeric := strings.ReplaceAll(m[1], ",", "")
	// A trailing dot is a sentence artifact, not a decimal point.
	numeric = strings.TrimSuffix(numeric, ".")
	value, err := strconv.ParseFloat(numeric, 64)
	if err != nil || value < 0 {
		return 0
	}

	if m[2] != "" {
		value *= 1000
	}
	return value
}

// ParseRating extracts a star rating from free-form text. Values outside
// the plausible 0..5 band are discarded as noise (review counts, prices).
func ParseRating(text string) float64 {
	m := ratingRegex.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || value < 0 || value > 5 {
		return 0
	}
	return value
}

// MatchesFilters reports whether the item satisfies every filter in the
// set. Bound filters (price, rating) reject only when a concretely parsed
// value violates the bound; attribute filters (ram, storage, battery) are
// lenient: a title that simply does not mention the attribute is accepted.
func MatchesFilters(item schemas.ValidatedItem, filters schemas.FilterSet) bool {
	title := strings.ToLower(item.Title)

	for key, value := range filters {
		if value == "" {
			continue
		}
		if !matchesOne(item, title, key, value) {
			return false
		}
	}
	return true
}

func matchesOne(item schemas.ValidatedItem, title string, key schemas.FilterKey, value string) bool {
	switch key {
	case schemas.FilterPriceMin:
		bound := ParsePrice(value)
		price := ParsePrice(item.PriceText)
		return bound == 0 || price == 0 || price >= bound

	case schemas.FilterPriceMax:
		bound := ParsePrice(value)
		price := ParsePrice(item.PriceText)
		return bound == 0 || price == 0 || price <= bound

	case schemas.FilterRating:
		bound := ParseRating(value)
		rating := ParseRating(item.RatingText)
		return bound == 0 || rating == 0 || rating >= bound

	case schemas.FilterBrand:
		return brandMatches(title, value)

	case schemas.FilterRAM:
		return lenientNumericMatch(ramRegex, title, value)

	case schemas.FilterBattery:
		return lenientNumericMatch(batteryRegex, title, value)

	case schemas.FilterStorage:
		return storageMatches(title, value)

	case schemas.FilterColor:
		return colorMatches(title, value)

	case schemas.FilterCategory:
		return categoryMatches(title, value)

	case schemas.FilterCondition:
		return conditionMatches(title, value)

	default:
		// Unknown filter keys carry no rejection power.
		return true
	}
}

// IsUnavailable reports whether the listing title advertises that the item
// cannot currently be bought.
func IsUnavailable(item schemas.ValidatedItem) bool {
	title := strings.ToLower(item.Title)
	for _, kw := range unavailableKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

// RankResults orders items by the intent's ranking strategy. The sort is
// stable: re-applying it to its own output yields an identical order.
// Unknown prices and ratings (parsed as 0) sort last under their key so a
// listing with no price never wins "cheapest".
func RankResults(items []schemas.ValidatedItem, strategy schemas.RankingStrategy) []schemas.ValidatedItem {
	out := make([]schemas.ValidatedItem, len(items))
	copy(out, items)

	price := func(it schemas.ValidatedItem) float64 { return ParsePrice(it.PriceText) }
	rating := func(it schemas.ValidatedItem) float64 { return ParseRating(it.RatingText) }

	// priceLess treats unknown (0) as +inf.
	priceLess := func(a, b float64) (less, decided bool) {
		if a == b {
			return false, false
		}
		if a == 0 {
			return false, true
		}
		if b == 0 {
			return true, true
		}
		return a < b, true
	}

	sort.SliceStable(out, func(i, j int) bool {
		switch strategy {
		case schemas.RankCheapest:
			if less, decided := priceLess(price(out[i]), price(out[j])); decided {
				return less
			}
		case schemas.RankBestRated:
			if ri, rj := rating(out[i]), rating(out[j]); ri != rj {
				return ri > rj
			}
		}
		if ri, rj := rating(out[i]), rating(out[j]); ri != rj {
			return ri > rj
		}
		if less, decided := priceLess(price(out[i]), price(out[j])); decided {
			return less
		}
		return false
	})
	return out
}

// -- Filter helpers --

// brandMatches expands the requested brand to its alias group and accepts
// the title when every token of some alias fuzzy-matches it.
func brandMatches(title, brand string) bool {
	brand = strings.ToLower(strings.TrimSpace(brand))
	aliases, ok := brandAliases[brand]
	if !ok {
		aliases = []string{brand}
	}

	for _, alias := range aliases {
		if aliasMatches(title, alias) {
			return true
		}
	}
	return false
}

func aliasMatches(title, alias string) bool {
	for _, token := range strings.Fields(alias) {
		if !tokenFuzzyMatch(title, token) {
			return false
		}
	}
	return true
}

// tokenFuzzyMatch accepts a substring hit anywhere in the title, or a
// single-edit hit against any title token when the needle is longer than
// three characters. The threshold is deliberate: short tokens ("mi", "hp")
// would false-positive wildly under edit tolerance.
func tokenFuzzyMatch(title, token string) bool {
	token = strings.ToLower(token)
	if strings.Contains(title, token) {
		return true
	}
	if len(token) <= 3 {
		return false
	}
	for _, word := range strings.Fields(title) {
		word = strings.Trim(word, "()[],.;:!-")
		if editDistance(word, token) <= 1 {
			return true
		}
	}
	return false
}

// editDistance is a plain Levenshtein distance over bytes. Titles and
// filter values are normalized ASCII by the time they reach here.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// lenientNumericMatch extracts the attribute via regex and compares against
// the digits of the requested value. A title without the attribute is
// accepted: sellers omit specs constantly, and rejecting on absence would
// filter out most of the catalog.
func lenientNumericMatch(re *regexp.Regexp, title, value string) bool {
	want := digitsOf(value)
	if want == "" {
		return true
	}
	m := re.FindStringSubmatch(title)
	if m == nil {
		return true
	}
	return m[1] == want
}

// storageMatches is lenient like the other capacity filters, but has to
// avoid reading the RAM spec as storage: "6GB RAM 128GB" must match a
// storage request of 128, not 6.
func storageMatches(title, value string) bool {
	want := digitsOf(value)
	if want == "" {
		return true
	}

	ramPos := -1
	if loc := ramRegex.FindStringIndex(title); loc != nil {
		ramPos = loc[0]
	}

	found := false
	for _, loc := range storageRegex.FindAllStringSubmatchIndex(title, -1) {
		if loc[0] == ramPos {
			continue // This capacity token is the RAM spec.
		}
		found = true
		if title[loc[2]:loc[3]] == want {
			return true
		}
	}
	return !found
}

// colorMatches rejects only on contradiction: the title names a color from
// the known palette and it is not the requested one.
func colorMatches(title, value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if tokenFuzzyMatch(title, value) {
		return true
	}
	for _, c := range knownColors {
		if c != value && strings.Contains(title, c) {
			return false
		}
	}
	return true
}

// categoryMatches requires at least one token of the requested category to
// fuzzy-match the title.
func categoryMatches(title, value string) bool {
	for _, token := range strings.Fields(strings.ToLower(value)) {
		if tokenFuzzyMatch(title, token) {
			return true
		}
	}
	return false
}

// conditionMatches rejects a "new" request only when the title explicitly
// advertises otherwise; any other requested condition must appear in the
// title to be believed.
func conditionMatches(title, value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "new" {
		for _, kw := range contradictingConditions {
			if strings.Contains(title, kw) {
				return false
			}
		}
		return true
	}
	return tokenFuzzyMatch(title, value)
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
