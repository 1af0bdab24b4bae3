package schemas

// -- Product Schemas --

// RawItem is one listing as scraped off the results surface. Everything is
// text exactly as the page rendered it; nothing here is trusted or persisted.
type RawItem struct {
	Title       string `json:"title"`
	PriceText   string `json:"price,omitempty"`
	RatingText  string `json:"rating,omitempty"`
	Link        string `json:"link,omitempty"`
	Image       string `json:"image,omitempty"`
	ReviewsText string `json:"reviews,omitempty"`
}

// ValidatedItem is a RawItem that survived structural validation: non-empty
// title and a plausible, normalized link. QualityScore is a presentation
// heuristic (how complete the listing looks), not a ranking signal.
type ValidatedItem struct {
	RawItem
	QualityScore int `json:"quality_score"`
}

// ProductRef identifies the single candidate the engine accepted for
// purchase. Price and Rating carry the parsed values at selection time so
// terminal status messages do not need to re-scrape.
type ProductRef struct {
	Title  string  `json:"title"`
	Link   string  `json:"link"`
	Price  float64 `json:"price,omitempty"`
	Rating float64 `json:"rating,omitempty"`
}

// OrderDetails is the metadata extracted from an order confirmation page.
type OrderDetails struct {
	OrderID      string `json:"order_id,omitempty"`
	DeliveryDate string `json:"delivery_date,omitempty"`
}
