// File: internal/pageagent/profiles.go
// Per-site selector profiles. All site knowledge lives here; the agent code
// itself is site-agnostic, and the orchestrator never sees any of it.
package pageagent

import (
	"fmt"
	"net/url"
	"strings"
)

// Profile carries the DOM knowledge for one retail site family.
type Profile struct {
	Name string

	// ReloadsOnSearch is true when submitting the search box navigates to a
	// fresh results document instead of updating in place.
	ReloadsOnSearch bool

	// SearchURLTemplate builds a direct results URL; %s is the escaped query.
	SearchURLTemplate string

	SearchBoxSelectors []string
	ResultSelectors    ResultSelectors
	BuyNowSelectors    []string
	AddToCartSelectors []string
	LoginMarkers       []string
	LoadingSelectors   []string
	FilterChipSelector string
	ResultCountText    []string

	OrderIDPatterns  []string
	DeliveryPatterns []string
}

// ResultSelectors locate the listing fields inside one result card.
type ResultSelectors struct {
	Card    string
	Title   string
	Price   string
	Rating  string
	Link    string
	Image   string
	Reviews string
}

var profiles = map[string]Profile{
	"amazon": {
		Name:              "amazon",
		ReloadsOnSearch:   true,
		SearchURLTemplate: "https://www.amazon.in/s?k=%s",
		SearchBoxSelectors: []string{
			"#twotabsearchtextbox",
			"input[name='field-keywords']",
		},
		ResultSelectors: ResultSelectors{
			Card:    "div[data-component-type='s-search-result']",
			Title:   "h2 span",
			Price:   ".a-price .a-offscreen",
			Rating:  ".a-icon-alt",
			Link:    "h2 a, a.a-link-normal.s-link-style",
			Image:   "img.s-image",
			Reviews: "span.a-size-base.s-underline-text",
		},
		BuyNowSelectors:    []string{"#buy-now-button", "input[name='submit.buy-now']"},
		AddToCartSelectors: []string{"#add-to-cart-button", "input[name='submit.add-to-cart']"},
		LoginMarkers:       []string{"#ap_email", "#ap_password", "form[name='signIn']"},
		LoadingSelectors:   []string{".s-loading-spinner", "#search-page-loading"},
		FilterChipSelector: ".a-button-selected, #filters .a-text-bold",
		ResultCountText:    []string{"span[data-component-type='s-result-info-bar'] span", "h1.a-size-base"},
		OrderIDPatterns:    []string{`(?i)order\s*#?\s*([0-9]{3}-[0-9]{7}-[0-9]{7})`},
		DeliveryPatterns:   []string{`(?i)delivery\s*(?:by|:)?\s*([A-Za-z]+,?\s*[A-Za-z]+\s*\d{1,2})`},
	},
	"flipkart": {
		Name:              "flipkart",
		ReloadsOnSearch:   true,
		SearchURLTemplate: "https://www.flipkart.com/search?q=%s",
		SearchBoxSelectors: []string{
			"input[name='q']",
			"input[title='Search for products, brands and more']",
		},
		ResultSelectors: ResultSelectors{
			Card:   "div[data-id]",
			Title:  "div.KzDlHZ, a.wjcEIp, a.WKTcLC",
			Price:  "div.Nx9bqj",
			Rating: "div.XQDdHH",
			Link:   "a[href*='/p/']",
			Image:  "img",
		},
		BuyNowSelectors:    []string{"button.QqFHMw", "button._2KpZ6l._2U9uOA._3v1-ww"},
		AddToCartSelectors: []string{"button._2KpZ6l._2U9uOA", "button.QqFHMw.vslbG\\+"},
		LoginMarkers:       []string{"input[class*='_2IX_2-']", "form[action*='login']"},
		LoadingSelectors:   []string{"div._2ZdXDB", "div[class*='loader']"},
		FilterChipSelector: "div._6tw8ju, span._6iqKR0",
		ResultCountText:    []string{"span._10Ermr"},
		OrderIDPatterns:    []string{`(?i)order\s*id\s*:?\s*(OD[0-9]{12,})`},
		DeliveryPatterns:   []string{`(?i)delivery\s*by\s*([A-Za-z]+\s*\d{1,2})`},
	},
	"generic": {
		Name:              "generic",
		ReloadsOnSearch:   false,
		SearchURLTemplate: "https://shop.example/search?q=%s",
		SearchBoxSelectors: []string{
			"input[type='search']",
			"input[name='q']",
			"input[name='query']",
		},
		ResultSelectors: ResultSelectors{
			Card:    "[data-testid='product-card'], .product-card, .product-item, li.product",
			Title:   "h2, h3, .product-title, [itemprop='name']",
			Price:   ".price, [itemprop='price'], .product-price",
			Rating:  ".rating, [itemprop='ratingValue'], .stars",
			Link:    "a",
			Image:   "img",
			Reviews: ".reviews, .review-count",
		},
		BuyNowSelectors:    []string{"#buy-now", "button[data-action='buy-now']", "button.buy-now"},
		AddToCartSelectors: []string{"#add-to-cart", "button[data-action='add-to-cart']", "button.add-to-cart"},
		LoginMarkers:       []string{"input[type='password']", "form[action*='login']", "form[action*='signin']"},
		LoadingSelectors:   []string{".spinner", ".loading", "[aria-busy='true']"},
		FilterChipSelector: ".filter-chip, .active-filter, [data-active-filter]",
		ResultCountText:    []string{".result-count", "[data-testid='result-count']"},
		OrderIDPatterns:    []string{`(?i)order\s*(?:id|number|#)\s*:?\s*([A-Z0-9-]{6,})`},
		DeliveryPatterns:   []string{`(?i)delivery\s*(?:by|on|:)?\s*([A-Za-z]+,?\s*[A-Za-z]*\s*\d{1,2})`},
	},
}

// ProfileFor resolves a platform name to its profile, defaulting to the
// generic one.
func ProfileFor(platform string) Profile {
	if p, ok := profiles[strings.ToLower(strings.TrimSpace(platform))]; ok {
		return p
	}
	return profiles["generic"]
}

// SearchURL builds the site's direct results URL for a query.
func (p Profile) SearchURL(query string) string {
	return fmt.Sprintf(p.SearchURLTemplate, url.QueryEscape(query))
}
