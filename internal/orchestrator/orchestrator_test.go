// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
	"github.com/xkilldash9x/cartpilot-cli/internal/config"
	"github.com/xkilldash9x/cartpilot-cli/internal/mocks"
	"github.com/xkilldash9x/cartpilot-cli/internal/selection"
)

const (
	testTab     = "tab-1"
	homeURL     = "https://shop.example/"
	resultsURL  = "https://shop.example/search?q=samsung+phone"
	productURL  = "https://shop.example/product/galaxy-m14"
	checkoutURL = "https://shop.example/checkout/payment"
	confirmURL  = "https://shop.example/order-confirmation?id=407"
)

// -- Test doubles for the in-process collaborators --

type stubSelector struct {
	ref   schemas.ProductRef
	diag  selection.Diagnostic
	err   error
	calls int
}

func (s *stubSelector) Select(ctx context.Context, raw []schemas.RawItem, intent schemas.Intent, content schemas.ContentProvider) (schemas.ProductRef, selection.Diagnostic, error) {
	s.calls++
	return s.ref, s.diag, s.err
}

type stubFilters struct {
	verified bool
	calls    int
}

func (s *stubFilters) Apply(ctx context.Context, filters schemas.FilterSet) bool {
	s.calls++
	return s.verified
}

type stubNav struct {
	result bool
	calls  int
}

func (s *stubNav) NavigateAndVerify(ctx context.Context, target string) bool {
	s.calls++
	return s.result
}

type harness struct {
	agent    *mocks.MockPageAgent
	analyzer *mocks.MockPageAnalyzer
	store    *mocks.MockHistoryStore
	selector *stubSelector
	filters  *stubFilters
	nav      *stubNav
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		agent:    new(mocks.MockPageAgent),
		analyzer: new(mocks.MockPageAnalyzer),
		store:    new(mocks.MockHistoryStore),
		selector: &stubSelector{ref: schemas.ProductRef{Title: "Samsung Galaxy M14", Link: productURL, Price: 18499, Rating: 4.3}},
		filters:  &stubFilters{verified: true},
		nav:      &stubNav{result: true},
	}

	cfg := config.NewDefaultConfig().Purchase
	cfg.CheckTimeout = 100 * time.Millisecond
	cfg.ActionTimeout = 100 * time.Millisecond
	cfg.ExtractTimeout = 100 * time.Millisecond
	cfg.SearchTimeout = 100 * time.Millisecond

	orch, err := New(zaptest.NewLogger(t), cfg, h.agent, h.analyzer, h.selector, h.filters, h.nav, h.store)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func testIntent() schemas.Intent {
	return schemas.Intent{
		Query: "samsung phone",
		Filters: schemas.FilterSet{
			schemas.FilterBrand:  "samsung",
			schemas.FilterRating: "4",
		},
	}
}

// expectSearchPhase wires the agent for an in-place search that lands on a
// results surface.
func (h *harness) expectSearchPhase() {
	h.agent.On("CurrentLocation", mock.Anything).Return(homeURL, nil).Once()
	h.analyzer.On("SuggestKeywords", mock.Anything, mock.Anything).Return([]string(nil), errors.New("no suggestions")).Maybe()
	h.agent.On("Search", mock.Anything, mock.Anything).Return(false, nil).Once()
}

func (h *harness) expectSelectPhase(items []schemas.RawItem) {
	h.agent.On("GetSearchResults", mock.Anything).Return(items, nil).Once()
}

// -- Tests --

func TestStartSession_RequiresQuery(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.StartSession(context.Background(), schemas.Intent{}, testTab)
	assert.Error(t, err)
}

func TestHappyPath_ReachesCheckoutBoundaryAndStops(t *testing.T) {
	h := newHarness(t)

	h.expectSearchPhase()
	h.expectSelectPhase([]schemas.RawItem{{Title: "Samsung Galaxy M14", Link: productURL}})

	// Product page: tab already on the product link, no login wall, buy
	// works and lands on checkout.
	h.agent.On("CurrentLocation", mock.Anything).Return(productURL, nil).Once()
	h.agent.On("DetectLoginScreen", mock.Anything).Return(false, nil).Once()
	h.agent.On("ClickBuyNow", mock.Anything).Return(true, nil).Once()
	h.agent.On("CurrentLocation", mock.Anything).Return(checkoutURL, nil).Once()
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	session, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)

	// Autonomy stops at the boundary: checkout is entered, never crossed.
	assert.Equal(t, schemas.StateCheckoutFlow, session.State)
	assert.Contains(t, session.StatusNote, "confirm payment yourself")
	assert.Equal(t, 1, h.filters.calls)
	assert.Equal(t, 1, h.selector.calls)
	h.agent.AssertNotCalled(t, "AddToCart", mock.Anything)
	h.agent.AssertExpectations(t)
}

func TestCheckoutMonitoring_ConfirmationCompletesSession(t *testing.T) {
	h := newHarness(t)

	h.expectSearchPhase()
	h.expectSelectPhase([]schemas.RawItem{{Title: "Samsung Galaxy M14", Link: productURL}})
	h.agent.On("CurrentLocation", mock.Anything).Return(productURL, nil).Once()
	h.agent.On("DetectLoginScreen", mock.Anything).Return(false, nil).Once()
	h.agent.On("ClickBuyNow", mock.Anything).Return(true, nil).Once()
	h.agent.On("CurrentLocation", mock.Anything).Return(checkoutURL, nil).Once()
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)

	// A mid-checkout page load changes nothing.
	h.orch.HandleEvent(context.Background(), schemas.PageEvent{
		Kind: schemas.EventPageLoaded, TabID: testTab, URL: checkoutURL,
	})
	assert.Equal(t, schemas.StateCheckoutFlow, h.orch.Session().State)

	// The confirmation page triggers order extraction and completion.
	order := schemas.OrderDetails{OrderID: "407-991", DeliveryDate: "2026-09-03"}
	h.agent.On("GetOrderDetails", mock.Anything).Return(order, nil).Once()
	h.store.On("RecordOrder", mock.Anything, mock.Anything, order).Return(nil).Once()

	h.orch.HandleEvent(context.Background(), schemas.PageEvent{
		Kind: schemas.EventPageLoaded, TabID: testTab, URL: confirmURL,
	})

	session := h.orch.Session()
	assert.Equal(t, schemas.StateCompleted, session.State)
	assert.Contains(t, session.StatusNote, "407-991")

	select {
	case <-h.orch.Done():
	default:
		t.Fatal("done channel should be closed after completion")
	}
	h.store.AssertExpectations(t)
}

func TestProductPageNeverReachedWithoutSelecting(t *testing.T) {
	h := newHarness(t)

	// Selection fails: the session must terminate, never reach PRODUCT_PAGE.
	h.selector.err = selection.ErrNoMatch
	h.expectSearchPhase()
	h.expectSelectPhase([]schemas.RawItem{{Title: "Nothing useful"}})
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	session, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateCompleted, session.State)
	assert.Nil(t, session.Selected)
	assert.Contains(t, session.StatusNote, "No product matched")
	h.agent.AssertNotCalled(t, "ClickBuyNow", mock.Anything)
}

func TestNavRetriesAreCapped(t *testing.T) {
	h := newHarness(t)
	h.nav.result = false

	h.expectSearchPhase()
	h.expectSelectPhase([]schemas.RawItem{{Title: "Samsung Galaxy M14", Link: productURL}})
	// The tab never leaves the results surface.
	h.agent.On("CurrentLocation", mock.Anything).Return(resultsURL, nil)
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	session, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateCompleted, session.State)
	assert.Contains(t, session.StatusNote, productURL)
	assert.Contains(t, session.StatusNote, "manually")
	// Exactly the configured cap, never an unbounded loop.
	assert.Equal(t, h.orch.cfg.MaxNavRetries, h.nav.calls)
}

func TestBuyClickFailureEscalatesThenFallsBackToCart(t *testing.T) {
	h := newHarness(t)

	h.expectSearchPhase()
	h.expectSelectPhase([]schemas.RawItem{{Title: "Samsung Galaxy M14", Link: productURL}})

	h.agent.On("CurrentLocation", mock.Anything).Return(productURL, nil).Once()
	h.agent.On("DetectLoginScreen", mock.Anything).Return(false, nil).Once()
	h.agent.On("ClickBuyNow", mock.Anything).Return(false, errors.New("element not found")).Once()

	// LLM escalation recommends nothing usable.
	h.agent.On("ExtractPageContent", mock.Anything).Return("page text", nil).Once()
	h.analyzer.On("Analyze", mock.Anything, "page text", mock.Anything, schemas.ModeRecommendAction).
		Return(schemas.PageAction{Kind: schemas.ActionError, Message: "captcha wall"}, nil).Once()

	// Cart fallback succeeds.
	h.agent.On("AddToCart", mock.Anything).Return(true, nil).Once()
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	session, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateCompleted, session.State)
	assert.Contains(t, session.StatusNote, "added to cart, complete the purchase manually")
	h.agent.AssertExpectations(t)
}

func TestRecoveryActionClickReachesCheckout(t *testing.T) {
	h := newHarness(t)

	h.expectSearchPhase()
	h.expectSelectPhase([]schemas.RawItem{{Title: "Samsung Galaxy M14", Link: productURL}})

	h.agent.On("CurrentLocation", mock.Anything).Return(productURL, nil).Once()
	h.agent.On("DetectLoginScreen", mock.Anything).Return(false, nil).Once()
	h.agent.On("ClickBuyNow", mock.Anything).Return(false, nil).Once()
	// Failed click's location probe shows the tab stayed put.
	h.agent.On("CurrentLocation", mock.Anything).Return(productURL, nil).Once()

	h.agent.On("ExtractPageContent", mock.Anything).Return("page text", nil).Once()
	h.analyzer.On("Analyze", mock.Anything, "page text", mock.Anything, schemas.ModeRecommendAction).
		Return(schemas.PageAction{Kind: schemas.ActionClick, Selector: "#buy-alt", Reason: "alternate buy button"}, nil).Once()
	h.agent.On("Click", mock.Anything, "#buy-alt").Return(nil).Once()
	h.agent.On("CurrentLocation", mock.Anything).Return(checkoutURL, nil).Once()
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	session, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateCheckoutFlow, session.State)
	h.agent.AssertNotCalled(t, "AddToCart", mock.Anything)
}

func TestLoginWallHandsOff(t *testing.T) {
	h := newHarness(t)

	h.expectSearchPhase()
	h.expectSelectPhase([]schemas.RawItem{{Title: "Samsung Galaxy M14", Link: productURL}})
	h.agent.On("CurrentLocation", mock.Anything).Return(productURL, nil).Once()
	h.agent.On("DetectLoginScreen", mock.Anything).Return(true, nil).Once()
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	session, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateCompleted, session.State)
	assert.Contains(t, session.StatusNote, "login screen")
	h.agent.AssertNotCalled(t, "ClickBuyNow", mock.Anything)
}

func TestStaleEventsAreDiscarded(t *testing.T) {
	h := newHarness(t)

	h.expectSearchPhase()
	h.expectSelectPhase([]schemas.RawItem{{Title: "Samsung Galaxy M14", Link: productURL}})
	h.agent.On("CurrentLocation", mock.Anything).Return(productURL, nil).Once()
	h.agent.On("DetectLoginScreen", mock.Anything).Return(false, nil).Once()
	h.agent.On("ClickBuyNow", mock.Anything).Return(true, nil).Once()
	h.agent.On("CurrentLocation", mock.Anything).Return(checkoutURL, nil).Once()
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)
	require.Equal(t, schemas.StateCheckoutFlow, h.orch.Session().State)

	// A confirmation load on a different tab must not complete this session.
	h.orch.HandleEvent(context.Background(), schemas.PageEvent{
		Kind: schemas.EventPageLoaded, TabID: "tab-other", URL: confirmURL,
	})
	assert.Equal(t, schemas.StateCheckoutFlow, h.orch.Session().State)
	h.agent.AssertNotCalled(t, "GetOrderDetails", mock.Anything)
}

func TestSearchReloadWaitsForPageLoad(t *testing.T) {
	h := newHarness(t)

	h.agent.On("CurrentLocation", mock.Anything).Return(homeURL, nil).Once()
	h.analyzer.On("SuggestKeywords", mock.Anything, mock.Anything).Return([]string{"5g"}, nil).Once()
	// The site reloads on search; the loop must pause for the load event.
	h.agent.On("Search", mock.Anything, mock.Anything).Return(true, nil).Once()

	session, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)
	require.Equal(t, schemas.StateSelecting, session.State)
	h.agent.AssertNotCalled(t, "GetSearchResults", mock.Anything)

	// The load event resumes the loop into extraction and selection.
	h.expectSelectPhase([]schemas.RawItem{{Title: "Samsung Galaxy M14", Link: productURL}})
	h.agent.On("CurrentLocation", mock.Anything).Return(productURL, nil).Once()
	h.agent.On("DetectLoginScreen", mock.Anything).Return(false, nil).Once()
	h.agent.On("ClickBuyNow", mock.Anything).Return(true, nil).Once()
	h.agent.On("CurrentLocation", mock.Anything).Return(checkoutURL, nil).Once()
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	h.orch.HandleEvent(context.Background(), schemas.PageEvent{
		Kind: schemas.EventPageLoaded, TabID: testTab, URL: resultsURL,
	})
	assert.Equal(t, schemas.StateCheckoutFlow, h.orch.Session().State)
}

func TestSearchFailureFallsBackToDirectURL(t *testing.T) {
	h := newHarness(t)

	h.agent.On("CurrentLocation", mock.Anything).Return(homeURL, nil).Once()
	h.analyzer.On("SuggestKeywords", mock.Anything, mock.Anything).Return([]string(nil), errors.New("unavailable")).Once()
	h.agent.On("Search", mock.Anything, mock.Anything).Return(false, errors.New("search box not found")).Once()

	// Scripted fallback navigation succeeds, selection proceeds.
	h.expectSelectPhase([]schemas.RawItem{{Title: "Samsung Galaxy M14", Link: productURL}})
	h.agent.On("CurrentLocation", mock.Anything).Return(productURL, nil).Once()
	h.agent.On("DetectLoginScreen", mock.Anything).Return(false, nil).Once()
	h.agent.On("ClickBuyNow", mock.Anything).Return(true, nil).Once()
	h.agent.On("CurrentLocation", mock.Anything).Return(checkoutURL, nil).Once()
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	session, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, h.nav.calls, 1)
	assert.Equal(t, schemas.StateCheckoutFlow, session.State)
}

func TestFiltersAppliedExactlyOnce(t *testing.T) {
	h := newHarness(t)

	h.agent.On("CurrentLocation", mock.Anything).Return(homeURL, nil).Once()
	h.analyzer.On("SuggestKeywords", mock.Anything, mock.Anything).Return([]string(nil), errors.New("unavailable")).Once()
	h.agent.On("Search", mock.Anything, mock.Anything).Return(true, nil).Once()

	_, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)

	// Extraction fails transiently; the session terminates after retries,
	// but filters ran once despite SELECTING re-entry via events.
	h.agent.On("GetSearchResults", mock.Anything).Return(nil, errors.New("channel closed"))
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	h.orch.HandleEvent(context.Background(), schemas.PageEvent{
		Kind: schemas.EventPageLoaded, TabID: testTab, URL: resultsURL,
	})

	assert.Equal(t, 1, h.filters.calls)
	assert.Equal(t, schemas.StateCompleted, h.orch.Session().State)
}

func TestResetIsSafeFromAnyState(t *testing.T) {
	h := newHarness(t)

	h.expectSearchPhase()
	h.expectSelectPhase([]schemas.RawItem{{Title: "Samsung Galaxy M14", Link: productURL}})
	h.agent.On("CurrentLocation", mock.Anything).Return(productURL, nil).Once()
	h.agent.On("DetectLoginScreen", mock.Anything).Return(false, nil).Once()
	h.agent.On("ClickBuyNow", mock.Anything).Return(true, nil).Once()
	h.agent.On("CurrentLocation", mock.Anything).Return(checkoutURL, nil).Once()
	h.store.On("RecordHandoff", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := h.orch.StartSession(context.Background(), testIntent(), testTab)
	require.NoError(t, err)

	h.orch.Reset()
	assert.Equal(t, schemas.Session{}, h.orch.Session())

	// Events after reset are discarded without panicking.
	h.orch.HandleEvent(context.Background(), schemas.PageEvent{
		Kind: schemas.EventPageLoaded, TabID: testTab, URL: confirmURL,
	})
	assert.Equal(t, schemas.Session{}, h.orch.Session())
}

func TestQuerySubmittedEventStartsSession(t *testing.T) {
	h := newHarness(t)

	h.agent.On("CurrentLocation", mock.Anything).Return(homeURL, nil).Once()
	h.analyzer.On("SuggestKeywords", mock.Anything, mock.Anything).Return([]string(nil), errors.New("unavailable")).Once()
	h.agent.On("Search", mock.Anything, mock.Anything).Return(true, nil).Once()

	h.orch.HandleEvent(context.Background(), schemas.PageEvent{
		Kind: schemas.EventQuerySubmitted, TabID: testTab, Query: "wireless earbuds",
	})

	session := h.orch.Session()
	assert.Equal(t, schemas.StateSelecting, session.State)
	assert.Equal(t, "wireless earbuds", session.Intent.Query)
	assert.Equal(t, testTab, session.TabID)
}
