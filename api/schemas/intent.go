package schemas

// -- Intent Schemas --

// RankingStrategy selects the primary ordering applied to search results
// before the selection walk.
type RankingStrategy string

const (
	RankRelevant  RankingStrategy = "relevant"   // Keep the surface's own ordering.
	RankCheapest  RankingStrategy = "cheapest"   // Ascending by parsed price.
	RankBestRated RankingStrategy = "best_rated" // Descending by parsed rating.
)

// Urgency is a free-form hint ("asap", "this_week") carried through for
// logging and prompts. The state machine never branches on it.
type Urgency string

// Intent is the structured purchase request. It is produced externally
// (an LLM or deterministic parser upstream of this binary) and treated as
// immutable for the lifetime of a session. The orchestrator validates only
// that Query is present.
type Intent struct {
	Query           string          `json:"query"`
	PlatformHint    string          `json:"platform_hint,omitempty"`
	Filters         FilterSet       `json:"filters,omitempty"`
	RankingStrategy RankingStrategy `json:"ranking_strategy,omitempty"`
	Urgency         Urgency         `json:"urgency,omitempty"`
}

// FilterKey identifies one user-requested product constraint.
type FilterKey string

const (
	FilterPriceMin  FilterKey = "price_min"
	FilterPriceMax  FilterKey = "price_max"
	FilterBrand     FilterKey = "brand"
	FilterRAM       FilterKey = "ram"
	FilterStorage   FilterKey = "storage"
	FilterBattery   FilterKey = "battery"
	FilterRating    FilterKey = "rating"
	FilterCategory  FilterKey = "category"
	FilterColor     FilterKey = "color"
	FilterCondition FilterKey = "condition"
)

// FilterPriority is the fixed order in which filters are applied on the
// remote surface. Price bounds go first because they prune the result set
// hardest; cosmetic constraints go last.
var FilterPriority = []FilterKey{
	FilterPriceMin,
	FilterPriceMax,
	FilterRating,
	FilterBrand,
	FilterRAM,
	FilterBattery,
	FilterStorage,
	FilterColor,
	FilterCategory,
	FilterCondition,
}

// FilterSet maps filter keys to their raw requested values. Values are kept
// as strings; numeric interpretation happens at match time so that malformed
// input degrades to "no information" instead of an error.
type FilterSet map[FilterKey]string

// Ordered returns the set's keys in application-priority order, skipping
// absent keys.
func (f FilterSet) Ordered() []FilterKey {
	keys := make([]FilterKey, 0, len(f))
	for _, k := range FilterPriority {
		if v, ok := f[k]; ok && v != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ActiveCount reports how many filters carry a non-empty value.
func (f FilterSet) ActiveCount() int {
	n := 0
	for _, v := range f {
		if v != "" {
			n++
		}
	}
	return n
}

// Relaxed returns the fallback subset used by the second selection tier:
// brand and category only, when present. The narrow subset is deliberate;
// see the selection engine for the walk that consumes it.
func (f FilterSet) Relaxed() FilterSet {
	relaxed := FilterSet{}
	if v, ok := f[FilterBrand]; ok && v != "" {
		relaxed[FilterBrand] = v
	}
	if v, ok := f[FilterCategory]; ok && v != "" {
		relaxed[FilterCategory] = v
	}
	return relaxed
}

// Clone returns an independent copy of the set.
func (f FilterSet) Clone() FilterSet {
	out := make(FilterSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
