// File: internal/pageagent/agent.go
// The one concrete schemas.PageAgent: drives a chromedp tab using a site
// profile's selectors. Every method combines the tab context with the
// caller's deadline, so each call is individually bounded.
package pageagent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

// CDPAgent drives a single browser tab over the Chrome DevTools Protocol.
type CDPAgent struct {
	logger  *zap.Logger
	tabCtx  context.Context
	profile Profile
}

var _ schemas.PageAgent = (*CDPAgent)(nil)

// NewCDPAgent binds an agent to an existing chromedp tab context and a site
// profile.
func NewCDPAgent(logger *zap.Logger, tabCtx context.Context, profile Profile) *CDPAgent {
	return &CDPAgent{
		logger:  logger.Named("pageagent").With(zap.String("profile", profile.Name)),
		tabCtx:  tabCtx,
		profile: profile,
	}
}

// run executes chromedp actions bounded by both the tab lifetime and the
// caller's deadline.
func (a *CDPAgent) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(a.tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// evaluate runs a script and unmarshals the result.
func (a *CDPAgent) evaluate(ctx context.Context, script string, res interface{}) error {
	return a.run(ctx, chromedp.Evaluate(script, res))
}

// Search types the query into the site's search box and submits it. The
// reloaded return tells the orchestrator whether to wait for a page-loaded
// event or advance synchronously.
func (a *CDPAgent) Search(ctx context.Context, query string) (bool, error) {
	var lastErr error
	for _, sel := range a.profile.SearchBoxSelectors {
		err := a.run(ctx,
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Clear(sel, chromedp.ByQuery),
			chromedp.SendKeys(sel, query, chromedp.ByQuery),
			chromedp.SendKeys(sel, kb.Enter, chromedp.ByQuery),
		)
		if err == nil {
			a.logger.Debug("Search submitted", zap.String("selector", sel), zap.String("query", query))
			return a.profile.ReloadsOnSearch, nil
		}
		lastErr = err
	}
	return false, fmt.Errorf("no search box responded: %w", lastErr)
}

// ApplyFilter clicks the filter control whose visible text matches the
// value. Sites render filters too differently for fixed selectors, so this
// walks the common facet containers by text.
func (a *CDPAgent) ApplyFilter(ctx context.Context, key schemas.FilterKey, value string) error {
	script := fmt.Sprintf(`(function() {
		const needle = %s.toLowerCase();
		const scopes = document.querySelectorAll("aside, [class*='filter'], [class*='facet'], [id*='filter'], nav");
		for (const scope of scopes) {
			const controls = scope.querySelectorAll("a, label, button, span[role='button'], li");
			for (const el of controls) {
				const text = (el.innerText || "").trim().toLowerCase();
				if (text && (text === needle || text.includes(needle))) {
					el.click();
					return true;
				}
			}
		}
		return false;
	})()`, strconv.Quote(value))

	var clicked bool
	if err := a.evaluate(ctx, script, &clicked); err != nil {
		return fmt.Errorf("filter interaction for %s=%s failed: %w", key, value, err)
	}
	if !clicked {
		return fmt.Errorf("no filter control matched %s=%s", key, value)
	}
	return nil
}

// GetSearchResults extracts the visible listings using the profile's result
// selectors. Extraction runs entirely in-page and returns plain text; no
// field is interpreted here.
func (a *CDPAgent) GetSearchResults(ctx context.Context) ([]schemas.RawItem, error) {
	sel := a.profile.ResultSelectors
	script := fmt.Sprintf(`(function() {
		const pick = (card, selector) => {
			if (!selector) return "";
			const el = card.querySelector(selector);
			return el ? (el.innerText || el.getAttribute("alt") || "").trim() : "";
		};
		const pickAttr = (card, selector, attr) => {
			if (!selector) return "";
			const el = card.querySelector(selector);
			return el ? (el.getAttribute(attr) || "") : "";
		};
		const items = [];
		for (const card of document.querySelectorAll(%s)) {
			items.push({
				title:   pick(card, %s),
				price:   pick(card, %s),
				rating:  pick(card, %s),
				link:    pickAttr(card, %s, "href"),
				image:   pickAttr(card, %s, "src"),
				reviews: pick(card, %s)
			});
			if (items.length >= 60) break;
		}
		return JSON.stringify(items);
	})()`,
		strconv.Quote(sel.Card), strconv.Quote(sel.Title), strconv.Quote(sel.Price),
		strconv.Quote(sel.Rating), strconv.Quote(sel.Link), strconv.Quote(sel.Image),
		strconv.Quote(sel.Reviews))

	var payload string
	if err := a.evaluate(ctx, script, &payload); err != nil {
		return nil, fmt.Errorf("listing extraction failed: %w", err)
	}

	var items []schemas.RawItem
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, fmt.Errorf("listing payload did not decode: %w", err)
	}
	a.logger.Debug("Listings extracted", zap.Int("count", len(items)))
	return items, nil
}

// ClickBuyNow tries the profile's buy-now controls in order.
func (a *CDPAgent) ClickBuyNow(ctx context.Context) (bool, error) {
	return a.clickFirst(ctx, a.profile.BuyNowSelectors, "buy-now")
}

// AddToCart tries the profile's add-to-cart controls in order.
func (a *CDPAgent) AddToCart(ctx context.Context) (bool, error) {
	return a.clickFirst(ctx, a.profile.AddToCartSelectors, "add-to-cart")
}

func (a *CDPAgent) clickFirst(ctx context.Context, selectors []string, what string) (bool, error) {
	var lastErr error
	for _, sel := range selectors {
		if err := a.run(ctx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
			lastErr = err
			continue
		}
		a.logger.Debug("Control clicked", zap.String("control", what), zap.String("selector", sel))
		return true, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no %s selectors configured", what)
	}
	return false, fmt.Errorf("%s click failed: %w", what, lastErr)
}

// DetectLoginScreen reports whether any of the profile's login markers is
// present and visible.
func (a *CDPAgent) DetectLoginScreen(ctx context.Context) (bool, error) {
	markers, err := json.MarshalToString(a.profile.LoginMarkers)
	if err != nil {
		return false, err
	}
	script := fmt.Sprintf(`(function() {
		for (const sel of %s) {
			const el = document.querySelector(sel);
			if (el && el.offsetParent !== null) return true;
		}
		return false;
	})()`, markers)

	var detected bool
	if err := a.evaluate(ctx, script, &detected); err != nil {
		return false, fmt.Errorf("login detection failed: %w", err)
	}
	return detected, nil
}

// ExtractPageContent returns the page's visible text.
func (a *CDPAgent) ExtractPageContent(ctx context.Context) (string, error) {
	var content string
	if err := a.evaluate(ctx, "document.body ? document.body.innerText : ''", &content); err != nil {
		return "", fmt.Errorf("page content extraction failed: %w", err)
	}
	return content, nil
}

// GetOrderDetails scrapes order metadata off a confirmation page using the
// profile's text patterns.
func (a *CDPAgent) GetOrderDetails(ctx context.Context) (schemas.OrderDetails, error) {
	content, err := a.ExtractPageContent(ctx)
	if err != nil {
		return schemas.OrderDetails{}, err
	}

	details := schemas.OrderDetails{
		OrderID:      firstMatch(content, a.profile.OrderIDPatterns),
		DeliveryDate: firstMatch(content, a.profile.DeliveryPatterns),
	}
	if details.OrderID == "" {
		return details, fmt.Errorf("no order identifier found on confirmation page")
	}
	return details, nil
}

func firstMatch(content string, patterns []string) string {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(content); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// CurrentLocation returns the tab's URL.
func (a *CDPAgent) CurrentLocation(ctx context.Context) (string, error) {
	var loc string
	if err := a.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location read failed: %w", err)
	}
	return loc, nil
}

// Navigate issues a navigation with the requested technique. The scripted
// variants sidestep sites that intercept the normal navigation path.
func (a *CDPAgent) Navigate(ctx context.Context, target string, technique schemas.NavTechnique) error {
	switch technique {
	case schemas.NavScriptAssign:
		return a.evaluate(ctx, fmt.Sprintf("window.location.assign(%s)", strconv.Quote(target)), nil)
	case schemas.NavScriptReplace:
		return a.evaluate(ctx, fmt.Sprintf("window.location.replace(%s)", strconv.Quote(target)), nil)
	default:
		return a.run(ctx, chromedp.Navigate(target))
	}
}

// Click clicks an arbitrary selector. Used for LLM-recommended recovery
// actions only.
func (a *CDPAgent) Click(ctx context.Context, selector string) error {
	return a.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Input types a value into an arbitrary selector.
func (a *CDPAgent) Input(ctx context.Context, selector, value string) error {
	return a.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// IsLoading reports whether the document is still loading or a spinner is
// visible.
func (a *CDPAgent) IsLoading(ctx context.Context) (bool, error) {
	spinners, err := json.MarshalToString(a.profile.LoadingSelectors)
	if err != nil {
		return false, err
	}
	script := fmt.Sprintf(`(function() {
		if (document.readyState !== "complete") return true;
		for (const sel of %s) {
			const el = document.querySelector(sel);
			if (el && el.offsetParent !== null) return true;
		}
		return false;
	})()`, spinners)

	var loading bool
	if err := a.evaluate(ctx, script, &loading); err != nil {
		return false, err
	}
	return loading, nil
}

// HasActiveFilter reports whether an active-filter chip showing the value
// is present on the results surface.
func (a *CDPAgent) HasActiveFilter(ctx context.Context, value string) (bool, error) {
	script := fmt.Sprintf(`(function() {
		const needle = %s.toLowerCase();
		for (const el of document.querySelectorAll(%s)) {
			if ((el.innerText || "").toLowerCase().includes(needle)) return true;
		}
		return false;
	})()`, strconv.Quote(value), strconv.Quote(a.profile.FilterChipSelector))

	var active bool
	if err := a.evaluate(ctx, script, &active); err != nil {
		return false, err
	}
	return active, nil
}

var digitRegex = regexp.MustCompile(`[0-9][0-9,]*`)

// ResultCount parses the surface's advertised result count, 0 when the site
// does not expose one.
func (a *CDPAgent) ResultCount(ctx context.Context) (int, error) {
	selectors, err := json.MarshalToString(a.profile.ResultCountText)
	if err != nil {
		return 0, err
	}
	script := fmt.Sprintf(`(function() {
		for (const sel of %s) {
			const el = document.querySelector(sel);
			if (el && el.innerText) return el.innerText;
		}
		return "";
	})()`, selectors)

	var text string
	if err := a.evaluate(ctx, script, &text); err != nil {
		return 0, err
	}
	m := digitRegex.FindString(text)
	if m == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// SearchURL builds the site's direct results URL.
func (a *CDPAgent) SearchURL(query string) string {
	return a.profile.SearchURL(query)
}
