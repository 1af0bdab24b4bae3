// File: internal/orchestrator/orchestrator.go
// Owns the purchase session and its state machine. All other components are
// injected via interfaces; only the orchestrator mutates the session, and
// only the orchestrator decides whether a failure is fatal.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
	"github.com/xkilldash9x/cartpilot-cli/internal/config"
	"github.com/xkilldash9x/cartpilot-cli/internal/navigation"
	"github.com/xkilldash9x/cartpilot-cli/internal/query"
	"github.com/xkilldash9x/cartpilot-cli/internal/selection"
)

// Selector is the product-selection capability the orchestrator consumes.
type Selector interface {
	Select(ctx context.Context, raw []schemas.RawItem, intent schemas.Intent, content schemas.ContentProvider) (schemas.ProductRef, selection.Diagnostic, error)
}

// FilterApplier drives remote filter application on the results surface.
type FilterApplier interface {
	Apply(ctx context.Context, filters schemas.FilterSet) bool
}

// Navigator verifies that navigations actually land.
type Navigator interface {
	NavigateAndVerify(ctx context.Context, target string) bool
}

// Orchestrator drives one purchase session at a time through the state
// machine. A single control loop executes transitions; external page events
// re-invoke it. The mutex serializes event handling against the loop, so no
// two transitions are ever in flight.
type Orchestrator struct {
	logger   *zap.Logger
	cfg      config.PurchaseConfig
	agent    schemas.PageAgent
	analyzer schemas.PageAnalyzer
	selector Selector
	filters  FilterApplier
	nav      Navigator
	store    schemas.HistoryStore

	mu      sync.Mutex
	session *schemas.Session
	// awaitingLoad pauses the loop until a page-loaded event for the bound
	// tab arrives (sites that reload on search or checkout entry).
	awaitingLoad bool
	done         chan struct{}
}

// New creates an orchestrator. The store may be nil to disable persistence;
// everything else is required.
func New(
	logger *zap.Logger,
	cfg config.PurchaseConfig,
	agent schemas.PageAgent,
	analyzer schemas.PageAnalyzer,
	selector Selector,
	filters FilterApplier,
	nav Navigator,
	store schemas.HistoryStore,
) (*Orchestrator, error) {
	if logger == nil || agent == nil || analyzer == nil || selector == nil || filters == nil || nav == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		logger:   logger.Named("orchestrator"),
		cfg:      cfg,
		agent:    agent,
		analyzer: analyzer,
		selector: selector,
		filters:  filters,
		nav:      nav,
		store:    store,
		done:     make(chan struct{}),
	}, nil
}

// StartSession opens a session for the intent, bound to the given tab, and
// runs the control loop until the session is terminal or waiting on an
// external page event. Only structural presence of the query is validated;
// everything else is the intent producer's problem.
func (o *Orchestrator) StartSession(ctx context.Context, intent schemas.Intent, tabID string) (schemas.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if intent.Query == "" {
		return schemas.Session{}, fmt.Errorf("intent is missing a query")
	}
	if o.session != nil && !o.session.State.Terminal() {
		return schemas.Session{}, fmt.Errorf("a session is already active: %s", o.session.ID)
	}

	platform := intent.PlatformHint
	if platform == "" {
		platform = o.cfg.Platform
	}

	o.session = &schemas.Session{
		ID:        uuid.NewString(),
		State:     schemas.StateSearching,
		Intent:    intent,
		TabID:     tabID,
		Platform:  platform,
		StartedAt: time.Now().UTC(),
	}
	o.awaitingLoad = false
	o.done = make(chan struct{})

	o.logger.Info("Purchase session started",
		zap.String("session_id", o.session.ID),
		zap.String("tab_id", tabID),
		zap.String("query", intent.Query),
		zap.String("platform", platform))

	o.run(ctx)
	return o.snapshot(), nil
}

// HandleEvent feeds an external page event into the state machine. Events
// for a tab other than the session's bound tab are stale by definition and
// discarded, never queued. A query-submitted event with no active session
// starts one.
func (o *Orchestrator) HandleEvent(ctx context.Context, event schemas.PageEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil || o.session.State.Terminal() {
		if event.Kind == schemas.EventQuerySubmitted && event.Query != "" {
			o.mu.Unlock()
			_, err := o.StartSession(ctx, schemas.Intent{Query: event.Query}, event.TabID)
			o.mu.Lock()
			if err != nil {
				o.logger.Warn("Could not start session from submitted query", zap.Error(err))
			}
			return
		}
		o.logger.Debug("Discarding event with no active session", zap.String("kind", string(event.Kind)))
		return
	}

	if event.TabID != o.session.TabID {
		o.logger.Debug("Discarding stale event for unbound tab",
			zap.String("event_tab", event.TabID),
			zap.String("session_tab", o.session.TabID))
		return
	}

	switch event.Kind {
	case schemas.EventPageLoaded:
		if o.session.State == schemas.StateCheckoutFlow {
			o.monitorCheckout(ctx, event.URL)
			return
		}
		if o.awaitingLoad {
			o.awaitingLoad = false
			o.run(ctx)
		}
	default:
		o.logger.Debug("Ignoring event kind in current state",
			zap.String("kind", string(event.Kind)),
			zap.String("state", string(o.session.State)))
	}
}

// Session returns a copy of the current session, or a zero session when
// none is active.
func (o *Orchestrator) Session() schemas.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

// Done is closed when the current session reaches a terminal state.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Reset discards the session. Safe from any state; in-flight remote calls
// complete into the discarded session and are ignored.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.logger.Info("Session reset", zap.String("session_id", o.session.ID), zap.String("state", string(o.session.State)))
	}
	o.session = nil
	o.awaitingLoad = false
	select {
	case <-o.done:
	default:
		close(o.done)
	}
}

// run executes transitions until the session is terminal, waiting on an
// external event, or the context dies. Caller holds the mutex.
func (o *Orchestrator) run(ctx context.Context) {
	for o.session != nil && !o.session.State.Terminal() && !o.awaitingLoad {
		if ctx.Err() != nil {
			o.terminate(ctx, "Session cancelled before completion. No purchase was made.")
			return
		}

		state := o.session.State
		switch state {
		case schemas.StateSearching:
			o.handleSearching(ctx)
		case schemas.StateSelecting:
			o.handleSelecting(ctx)
		case schemas.StateProductPage:
			o.handleProductPage(ctx)
		case schemas.StateCheckoutFlow:
			// Passive: only page events advance this state.
			o.awaitingLoad = true
		default:
			o.terminate(ctx, fmt.Sprintf("Session entered unknown state %q. No purchase was made.", state))
			return
		}
	}
}

// -- SEARCHING --

func (o *Orchestrator) handleSearching(ctx context.Context) {
	if loc, err := o.currentLocation(ctx); err == nil && navigation.IsResultsSurface(loc) {
		o.logger.Info("Already on a results surface, skipping search", zap.String("location", loc))
		o.session.State = schemas.StateSelecting
		return
	}

	// Keyword suggestions sharpen the query but are never load-bearing.
	suggested, err := o.analyzer.SuggestKeywords(ctx, o.session.Intent)
	if err != nil {
		o.logger.Debug("Proceeding without keyword suggestions", zap.Error(err))
	}
	refined := query.Refine(o.session.Intent.Query, o.session.Intent.Filters, suggested)
	o.logger.Info("Searching", zap.String("refined_query", refined))

	searchCtx, cancel := context.WithTimeout(ctx, o.cfg.SearchTimeout)
	reloaded, err := o.agent.Search(searchCtx, refined)
	cancel()
	if err != nil {
		o.logger.Warn("Search interaction failed, falling back to direct search URL", zap.Error(err))
		if !o.nav.NavigateAndVerify(ctx, o.agent.SearchURL(refined)) {
			o.terminate(ctx, fmt.Sprintf(
				"Could not reach a search results page for %q. Search the site manually and re-run.", refined))
			return
		}
		o.session.State = schemas.StateSelecting
		return
	}

	o.session.State = schemas.StateSelecting
	if reloaded {
		// The site navigates to a fresh results page; wait for its load event.
		o.awaitingLoad = true
	}
}

// -- SELECTING --

func (o *Orchestrator) handleSelecting(ctx context.Context) {
	intent := o.session.Intent

	// Filters are applied exactly once per session. Re-entering SELECTING
	// after a filter-triggered reload must not re-apply them.
	if !o.session.FiltersApplied && intent.Filters.ActiveCount() > 0 {
		o.session.FiltersApplied = true
		if !o.filters.Apply(ctx, intent.Filters) {
			o.logger.Warn("No filter could be verified, selecting from unfiltered results")
		}
	}

	raw, err := o.extractResults(ctx)
	if err != nil {
		o.terminate(ctx, "Could not read the search results from the page. Retry, or complete the search manually.")
		return
	}

	ref, diag, err := o.selector.Select(ctx, raw, intent, o.agent)
	if err != nil {
		o.terminate(ctx, fmt.Sprintf(
			"No product matched the request (%s). Relax the filters or choose manually.", diag.String()))
		return
	}

	o.session.Selected = &ref
	o.session.NavRetries = 0
	o.session.State = schemas.StateProductPage
	o.logger.Info("Product selected",
		zap.String("title", ref.Title),
		zap.String("link", ref.Link),
		zap.Float64("price", ref.Price))
}

// extractResults pulls the visible listings with bounded retries. Transient
// channel errors are common right after a filter reload.
func (o *Orchestrator) extractResults(ctx context.Context) ([]schemas.RawItem, error) {
	var raw []schemas.RawItem

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), uint64(o.cfg.ExtractAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ExtractTimeout)
		defer cancel()
		items, err := o.agent.GetSearchResults(callCtx)
		if err != nil {
			o.logger.Warn("Listing extraction attempt failed", zap.Error(err))
			return err
		}
		raw = items
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// -- PRODUCT_PAGE --

func (o *Orchestrator) handleProductPage(ctx context.Context) {
	selected := o.session.Selected
	if selected == nil {
		// Unreachable through normal transitions; SELECTING always stores a
		// candidate before advancing.
		o.terminate(ctx, "Internal error: product page reached without a selected product.")
		return
	}

	// Confirm the tab actually left the results surface.
	loc, err := o.currentLocation(ctx)
	if err != nil || navigation.IsResultsSurface(loc) || !navigation.SameDestination(loc, selected.Link) {
		if navigation.IsCheckoutLocation(loc) {
			o.enterCheckout(ctx)
			return
		}
		if o.session.NavRetries >= o.cfg.MaxNavRetries {
			o.terminate(ctx, fmt.Sprintf(
				"Could not open the product page after %d attempts. Open %s and complete the purchase manually.",
				o.session.NavRetries, selected.Link))
			return
		}
		o.session.NavRetries++
		o.nav.NavigateAndVerify(ctx, selected.Link)
		return
	}

	// A login wall is a hard handoff; credentials are never automated.
	checkCtx, cancel := context.WithTimeout(ctx, o.cfg.CheckTimeout)
	loginWall, err := o.agent.DetectLoginScreen(checkCtx)
	cancel()
	if err == nil && loginWall {
		o.terminate(ctx, fmt.Sprintf(
			"A login screen is blocking the product page. Sign in to %s and re-run.", o.session.Platform))
		return
	}

	actionCtx, cancel := context.WithTimeout(ctx, o.cfg.ActionTimeout)
	clicked, err := o.agent.ClickBuyNow(actionCtx)
	cancel()
	if err != nil {
		o.logger.Warn("Buy-now click failed", zap.Error(err))
	}

	if clicked && o.landedOnCheckout(ctx) {
		o.enterCheckout(ctx)
		return
	}

	// One LLM-recommended recovery action before the cart fallback.
	if o.tryRecoveryAction(ctx) && o.landedOnCheckout(ctx) {
		o.enterCheckout(ctx)
		return
	}

	o.fallBackToCart(ctx, selected)
}

// tryRecoveryAction asks the analyzer for exactly one action and executes
// it. Returns whether an action was actually performed.
func (o *Orchestrator) tryRecoveryAction(ctx context.Context) bool {
	extractCtx, cancel := context.WithTimeout(ctx, o.cfg.ExtractTimeout)
	content, err := o.agent.ExtractPageContent(extractCtx)
	cancel()
	if err != nil {
		o.logger.Warn("Could not extract page content for recovery analysis", zap.Error(err))
		return false
	}

	actx := schemas.AnalysisContext{
		Intent:   o.session.Intent,
		State:    o.session.State,
		Platform: o.session.Platform,
	}
	action, err := o.analyzer.Analyze(ctx, content, actx, schemas.ModeRecommendAction)
	if err != nil {
		o.logger.Warn("Recovery analysis failed", zap.Error(err))
		return false
	}

	actionCtx, cancel := context.WithTimeout(ctx, o.cfg.ActionTimeout)
	defer cancel()

	switch action.Kind {
	case schemas.ActionClick:
		o.logger.Info("Executing recommended click", zap.String("selector", action.Selector), zap.String("reason", action.Reason))
		return o.agent.Click(actionCtx, action.Selector) == nil
	case schemas.ActionInput:
		o.logger.Info("Executing recommended input", zap.String("selector", action.Selector))
		return o.agent.Input(actionCtx, action.Selector, action.Value) == nil
	case schemas.ActionSelectProduct:
		return o.nav.NavigateAndVerify(ctx, action.URL)
	case schemas.ActionCompleted:
		return true
	default:
		o.logger.Info("Recovery analysis offered no usable action",
			zap.String("kind", string(action.Kind)),
			zap.String("message", action.Message))
		return false
	}
}

// fallBackToCart is the last resort before giving up on autonomy entirely.
func (o *Orchestrator) fallBackToCart(ctx context.Context, selected *schemas.ProductRef) {
	actionCtx, cancel := context.WithTimeout(ctx, o.cfg.ActionTimeout)
	added, err := o.agent.AddToCart(actionCtx)
	cancel()
	if err == nil && added {
		o.terminate(ctx, fmt.Sprintf("%q added to cart, complete the purchase manually.", selected.Title))
		return
	}
	o.terminate(ctx, fmt.Sprintf(
		"Could not reach checkout or add to cart. Open %s and complete the purchase manually.", selected.Link))
}

// -- CHECKOUT_FLOW --

// enterCheckout crosses into the monitored checkout phase. This is the
// autonomy boundary: from here the system only observes.
func (o *Orchestrator) enterCheckout(ctx context.Context) {
	o.session.State = schemas.StateCheckoutFlow
	o.session.StatusNote = "Checkout reached. Review the order and confirm payment yourself; no further actions will be taken."
	o.awaitingLoad = true
	o.logger.Info("Checkout boundary reached, switching to read-only monitoring",
		zap.String("session_id", o.session.ID))
	o.recordHandoff(ctx, o.session.StatusNote)
}

// monitorCheckout inspects a page load during checkout. Only an
// order-confirmation location does anything; every other load keeps
// waiting. Caller holds the mutex.
func (o *Orchestrator) monitorCheckout(ctx context.Context, url string) {
	if !navigation.IsOrderConfirmation(url) {
		o.logger.Debug("Checkout page load observed, still awaiting confirmation", zap.String("url", url))
		return
	}

	extractCtx, cancel := context.WithTimeout(ctx, o.cfg.ExtractTimeout)
	order, err := o.agent.GetOrderDetails(extractCtx)
	cancel()
	if err != nil {
		o.logger.Warn("Order confirmed but details could not be extracted", zap.Error(err))
		o.terminate(ctx, "Order placed. Details could not be read automatically; check the site's order history.")
		return
	}

	if o.store != nil {
		if err := o.store.RecordOrder(ctx, *o.session, order); err != nil {
			o.logger.Warn("Could not record confirmed order", zap.Error(err))
		}
	}

	note := fmt.Sprintf("Order %s placed.", order.OrderID)
	if order.DeliveryDate != "" {
		note = fmt.Sprintf("Order %s placed, delivery expected %s.", order.OrderID, order.DeliveryDate)
	}
	o.complete(note)
}

// -- Terminal handling --

// terminate short-circuits the session to COMPLETED with a human-readable
// explanation and records the handoff.
func (o *Orchestrator) terminate(ctx context.Context, note string) {
	o.recordHandoff(ctx, note)
	o.complete(note)
}

func (o *Orchestrator) complete(note string) {
	o.session.State = schemas.StateCompleted
	o.session.StatusNote = note
	o.awaitingLoad = false
	o.logger.Info("Session completed",
		zap.String("session_id", o.session.ID),
		zap.String("status", note))
	select {
	case <-o.done:
	default:
		close(o.done)
	}
}

func (o *Orchestrator) recordHandoff(ctx context.Context, note string) {
	if o.store == nil {
		return
	}
	if err := o.store.RecordHandoff(ctx, *o.session, note); err != nil {
		o.logger.Warn("Could not record session handoff", zap.Error(err))
	}
}

// -- Helpers --

func (o *Orchestrator) currentLocation(ctx context.Context) (string, error) {
	checkCtx, cancel := context.WithTimeout(ctx, o.cfg.CheckTimeout)
	defer cancel()
	return o.agent.CurrentLocation(checkCtx)
}

func (o *Orchestrator) landedOnCheckout(ctx context.Context) bool {
	loc, err := o.currentLocation(ctx)
	if err != nil {
		return false
	}
	return navigation.IsCheckoutLocation(loc)
}

func (o *Orchestrator) snapshot() schemas.Session {
	if o.session == nil {
		return schemas.Session{}
	}
	s := *o.session
	if o.session.Selected != nil {
		sel := *o.session.Selected
		s.Selected = &sel
	}
	return s
}
