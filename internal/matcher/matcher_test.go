package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

func item(title, price, rating string) schemas.ValidatedItem {
	return schemas.ValidatedItem{
		RawItem: schemas.RawItem{Title: title, PriceText: price, RatingText: rating, Link: "https://example.com/p"},
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"plain", "15999", 15999},
		{"currency and commas", "₹15,999", 15999},
		{"k suffix", "15k", 15000},
		{"decimal k suffix", "15.5k", 15500},
		{"thousand suffix", "15 thousand", 15000},
		{"range takes lower bound", "From ₹1,200 - ₹1,500", 1200},
		{"embedded in sentence", "Deal price: ₹2,499.", 2499},
		{"unparseable", "price on request", 0},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePrice(tt.in))
		})
	}
}

func TestParseRating(t *testing.T) {
	assert.Equal(t, 4.3, ParseRating("4.3 out of 5 stars"))
	assert.Equal(t, 4.0, ParseRating("4★"))
	assert.Equal(t, 0.0, ParseRating("no ratings yet"))
	// Values outside the star band are noise, not ratings.
	assert.Equal(t, 0.0, ParseRating("78 bought last month"))
}

func TestMatchesFilters_BoundsRejectOnlyParsedViolations(t *testing.T) {
	filters := schemas.FilterSet{
		schemas.FilterPriceMax: "19500",
		schemas.FilterRating:   "4",
	}

	// Violating values reject.
	assert.False(t, MatchesFilters(item("Phone X", "₹21,000", "4.5"), filters))
	assert.False(t, MatchesFilters(item("Phone X", "₹18,000", "3.2"), filters))

	// Passing values accept.
	assert.True(t, MatchesFilters(item("Phone X", "₹18,000", "4.5"), filters))

	// Missing data never fails a filter.
	assert.True(t, MatchesFilters(item("Phone X", "", ""), filters))
	assert.True(t, MatchesFilters(item("Phone X", "call for price", "new arrival"), filters))
}

func TestMatchesFilters_PriceMin(t *testing.T) {
	filters := schemas.FilterSet{schemas.FilterPriceMin: "5000"}
	assert.False(t, MatchesFilters(item("Phone", "₹4,999", ""), filters))
	assert.True(t, MatchesFilters(item("Phone", "₹5,000", ""), filters))
	assert.True(t, MatchesFilters(item("Phone", "", ""), filters))
}

func TestMatchesFilters_BrandAliases(t *testing.T) {
	filters := schemas.FilterSet{schemas.FilterBrand: "xiaomi"}

	assert.True(t, MatchesFilters(item("Xiaomi 14 Ultra", "", ""), filters))
	assert.True(t, MatchesFilters(item("Redmi Note 13 Pro", "", ""), filters))
	assert.True(t, MatchesFilters(item("POCO X6 5G", "", ""), filters))
	assert.False(t, MatchesFilters(item("Samsung Galaxy S24", "", ""), filters))

	// Single-edit tolerance for tokens longer than three characters.
	assert.True(t, MatchesFilters(item("Redmii Note 13", "", ""),
		schemas.FilterSet{schemas.FilterBrand: "redmi"}))
}

func TestMatchesFilters_AttributesAreLenient(t *testing.T) {
	filters := schemas.FilterSet{
		schemas.FilterRAM:     "6",
		schemas.FilterBattery: "5000",
		schemas.FilterStorage: "128",
	}

	// All attributes present and matching.
	assert.True(t, MatchesFilters(item("Galaxy M14 6GB RAM 128GB 5000mAh", "", ""), filters))

	// Absent attributes are accepted, not rejected.
	assert.True(t, MatchesFilters(item("Galaxy M14", "", ""), filters))

	// Present but contradicting attributes reject.
	assert.False(t, MatchesFilters(item("Galaxy M14 4GB RAM", "", ""), filters))
	assert.False(t, MatchesFilters(item("Galaxy M14 6000mAh", "", ""), filters))
}

func TestMatchesFilters_StorageIgnoresRAMSpec(t *testing.T) {
	filters := schemas.FilterSet{schemas.FilterStorage: "128"}

	// The 6GB token is RAM, the 128GB token is storage.
	assert.True(t, MatchesFilters(item("Phone 6GB RAM 128GB Storage", "", ""), filters))
	// Only a RAM spec present: no storage information, lenient accept.
	assert.True(t, MatchesFilters(item("Phone 6GB RAM", "", ""), filters))
	// Storage present and wrong.
	assert.False(t, MatchesFilters(item("Phone 6GB RAM 64GB", "", ""), filters))
}

func TestMatchesFilters_ColorAndCondition(t *testing.T) {
	assert.True(t, MatchesFilters(item("Phone Midnight Black", "", ""),
		schemas.FilterSet{schemas.FilterColor: "black"}))
	assert.False(t, MatchesFilters(item("Phone Ocean Blue", "", ""),
		schemas.FilterSet{schemas.FilterColor: "black"}))
	// No color information in the title: accepted.
	assert.True(t, MatchesFilters(item("Phone 128GB", "", ""),
		schemas.FilterSet{schemas.FilterColor: "black"}))

	assert.False(t, MatchesFilters(item("Phone (Renewed)", "", ""),
		schemas.FilterSet{schemas.FilterCondition: "new"}))
	assert.True(t, MatchesFilters(item("Phone 128GB", "", ""),
		schemas.FilterSet{schemas.FilterCondition: "new"}))
}

func TestIsUnavailable(t *testing.T) {
	assert.True(t, IsUnavailable(item("Phone X - Currently unavailable", "", "")))
	assert.True(t, IsUnavailable(item("Phone X (Sold Out)", "", "")))
	assert.False(t, IsUnavailable(item("Phone X 128GB", "", "")))
}

func TestRankResults_Cheapest(t *testing.T) {
	items := []schemas.ValidatedItem{
		item("A", "₹300", "4.0"),
		item("B", "₹100", "4.5"),
		item("C", "", "5.0"), // Unknown price sorts last under "cheapest".
		item("D", "₹200", "3.0"),
	}

	ranked := RankResults(items, schemas.RankCheapest)
	titles := []string{ranked[0].Title, ranked[1].Title, ranked[2].Title, ranked[3].Title}
	assert.Equal(t, []string{"B", "D", "A", "C"}, titles)
}

func TestRankResults_BestRated(t *testing.T) {
	items := []schemas.ValidatedItem{
		item("A", "₹300", "4.0"),
		item("B", "₹100", "4.5"),
		item("C", "₹50", "4.5"), // Ties break by price ascending.
	}

	ranked := RankResults(items, schemas.RankBestRated)
	assert.Equal(t, "C", ranked[0].Title)
	assert.Equal(t, "B", ranked[1].Title)
	assert.Equal(t, "A", ranked[2].Title)
}

func TestRankResults_Stable(t *testing.T) {
	items := []schemas.ValidatedItem{
		item("A", "₹100", "4.0"),
		item("B", "₹100", "4.0"),
		item("C", "₹100", "4.0"),
	}

	first := RankResults(items, schemas.RankCheapest)
	second := RankResults(first, schemas.RankCheapest)
	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].Title, second[i].Title, "re-ranking must not reorder equal items")
	}
	// Equal keys preserve input order.
	assert.Equal(t, "A", first[0].Title)
	assert.Equal(t, "B", first[1].Title)
	assert.Equal(t, "C", first[2].Title)
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, editDistance("redmi", "redmi"))
	assert.Equal(t, 1, editDistance("redmii", "redmi"))
	assert.Equal(t, 1, editDistance("redmi", "redmy"))
	assert.Equal(t, 2, editDistance("redmi", "rdmy"))
}
