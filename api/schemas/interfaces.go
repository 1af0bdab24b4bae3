package schemas

import (
	"context"
)

// -- Page Agent --

// NavTechnique selects how a navigation is issued. The controller escalates
// through techniques when verification keeps failing.
type NavTechnique string

const (
	NavDirect        NavTechnique = "direct"         // Normal page navigation.
	NavScriptAssign  NavTechnique = "script_assign"  // window.location.assign via script.
	NavScriptReplace NavTechnique = "script_replace" // window.location.replace via script.
)

// PageAgent is the capability that observes and acts on the live retail
// page. One implementation exists per site family; the orchestrator only
// ever sees this interface. Every method honors its context deadline: no
// response within the caller's timeout is a failure, never a hang.
//
// Mutating calls may cause a page navigation as a side effect; callers must
// tolerate that and re-verify location rather than assume the page held
// still.
type PageAgent interface {
	// Search drives the site's search box with the given query. The returned
	// reloaded flag tells the caller whether the site navigates to a fresh
	// results page (wait for a page-loaded event) or updates in place
	// (advance synchronously).
	Search(ctx context.Context, query string) (reloaded bool, err error)
	// ApplyFilter applies a single filter control on the results surface.
	ApplyFilter(ctx context.Context, key FilterKey, value string) error
	// GetSearchResults extracts the currently visible listings.
	GetSearchResults(ctx context.Context) ([]RawItem, error)
	// ClickBuyNow attempts the buy-now control on a product page.
	ClickBuyNow(ctx context.Context) (bool, error)
	// AddToCart attempts the add-to-cart control on a product page.
	AddToCart(ctx context.Context) (bool, error)
	// DetectLoginScreen reports whether a login wall is blocking the page.
	DetectLoginScreen(ctx context.Context) (bool, error)
	// ExtractPageContent returns the page's visible text for LLM analysis.
	ExtractPageContent(ctx context.Context) (string, error)
	// GetOrderDetails scrapes order metadata from a confirmation page.
	GetOrderDetails(ctx context.Context) (OrderDetails, error)
	// CurrentLocation returns the tab's current URL.
	CurrentLocation(ctx context.Context) (string, error)
	// Navigate issues a navigation using the given technique.
	Navigate(ctx context.Context, url string, technique NavTechnique) error
	// Click clicks an arbitrary selector (LLM-recommended recovery actions).
	Click(ctx context.Context, selector string) error
	// Input types a value into an arbitrary selector.
	Input(ctx context.Context, selector, value string) error
	// IsLoading reports whether the site's loading indicator is visible.
	IsLoading(ctx context.Context) (bool, error)
	// HasActiveFilter reports whether an active-filter chip for the value is
	// shown on the results surface.
	HasActiveFilter(ctx context.Context, value string) (bool, error)
	// ResultCount returns the surface's advertised result count, or 0 when
	// the site does not expose one.
	ResultCount(ctx context.Context) (int, error)
	// SearchURL builds the site's direct search URL for the query. Used by
	// the raw scripted fallback when driving the search box fails.
	SearchURL(query string) string
}

// ContentProvider is the narrow slice of PageAgent the selection engine
// needs for its LLM escalation tier.
type ContentProvider interface {
	ExtractPageContent(ctx context.Context) (string, error)
}

// -- LLM Page Analysis --

// AnalysisMode selects what the analyzer is asked to produce.
type AnalysisMode string

const (
	ModeExtractProducts AnalysisMode = "extract_products" // Re-read the page into ranked listings.
	ModeRecommendAction AnalysisMode = "recommend_action" // Recommend one recovery action.
)

// PageActionKind enumerates the analyzer's possible outputs.
type PageActionKind string

const (
	ActionSelectProduct   PageActionKind = "select_product"
	ActionClick           PageActionKind = "click"
	ActionInput           PageActionKind = "input"
	ActionExtractProducts PageActionKind = "extract_products"
	ActionCompleted       PageActionKind = "completed"
	ActionError           PageActionKind = "error"
)

// PageAction is the analyzer's structured verdict. Exactly one of the
// field groups is meaningful depending on Kind.
type PageAction struct {
	Kind     PageActionKind `json:"action"`
	URL      string         `json:"url,omitempty"`
	Title    string         `json:"title,omitempty"`
	Selector string         `json:"selector,omitempty"`
	Value    string         `json:"value,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Message  string         `json:"message,omitempty"`
	Products []RawItem      `json:"products,omitempty"`
}

// AnalysisContext carries the session context into the analyzer's prompt.
type AnalysisContext struct {
	Intent   Intent
	State    SessionState
	Platform string
}

// PageAnalyzer is the opaque LLM-backed page re-analysis capability. It is
// a last-resort escalation path: callers must treat every output as
// untrusted and validate it exactly like scraped data.
type PageAnalyzer interface {
	Analyze(ctx context.Context, pageText string, actx AnalysisContext, mode AnalysisMode) (PageAction, error)
	// SuggestKeywords proposes extra search tokens for the query. Failures
	// are non-fatal; callers proceed without suggestions.
	SuggestKeywords(ctx context.Context, intent Intent) ([]string, error)
}

// -- LLM Client --

// ModelTier selects a model by speed/capability preference.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions tunes a single generation call.
type GenerationOptions struct {
	Temperature     float32
	ForceJSONFormat bool
}

// GenerationRequest is one prompt pair sent to a model.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tier         ModelTier
	Options      GenerationOptions
}

// LLMClient generates text from a prompt. Implementations own their
// transport-level retries; a returned error is final for this request.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// -- History Store --

// HistoryStore records completed sessions: human handoffs and confirmed
// orders. A nil store disables persistence.
type HistoryStore interface {
	RecordHandoff(ctx context.Context, session Session, note string) error
	RecordOrder(ctx context.Context, session Session, order OrderDetails) error
}
