// File: internal/mocks/mocks.go
// Shared testify mocks for the interfaces defined in api/schemas.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

// -- Page Agent Mock --

// MockPageAgent mocks the schemas.PageAgent interface.
type MockPageAgent struct {
	mock.Mock
	// SearchURLFunc optionally overrides SearchURL without mock plumbing.
	SearchURLFunc func(query string) string
}

func (m *MockPageAgent) Search(ctx context.Context, query string) (bool, error) {
	args := m.Called(ctx, query)
	return args.Bool(0), args.Error(1)
}

func (m *MockPageAgent) ApplyFilter(ctx context.Context, key schemas.FilterKey, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockPageAgent) GetSearchResults(ctx context.Context) ([]schemas.RawItem, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.RawItem), args.Error(1)
}

func (m *MockPageAgent) ClickBuyNow(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockPageAgent) AddToCart(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockPageAgent) DetectLoginScreen(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockPageAgent) ExtractPageContent(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPageAgent) GetOrderDetails(ctx context.Context) (schemas.OrderDetails, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.OrderDetails), args.Error(1)
}

func (m *MockPageAgent) CurrentLocation(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPageAgent) Navigate(ctx context.Context, url string, technique schemas.NavTechnique) error {
	args := m.Called(ctx, url, technique)
	return args.Error(0)
}

func (m *MockPageAgent) Click(ctx context.Context, selector string) error {
	args := m.Called(ctx, selector)
	return args.Error(0)
}

func (m *MockPageAgent) Input(ctx context.Context, selector, value string) error {
	args := m.Called(ctx, selector, value)
	return args.Error(0)
}

func (m *MockPageAgent) IsLoading(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockPageAgent) HasActiveFilter(ctx context.Context, value string) (bool, error) {
	args := m.Called(ctx, value)
	return args.Bool(0), args.Error(1)
}

func (m *MockPageAgent) ResultCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockPageAgent) SearchURL(query string) string {
	if m.SearchURLFunc != nil {
		return m.SearchURLFunc(query)
	}
	return "https://shop.example/search?q=" + query
}

// -- Page Analyzer Mock --

// MockPageAnalyzer mocks the schemas.PageAnalyzer interface.
type MockPageAnalyzer struct {
	mock.Mock
}

func (m *MockPageAnalyzer) Analyze(ctx context.Context, pageText string, actx schemas.AnalysisContext, mode schemas.AnalysisMode) (schemas.PageAction, error) {
	args := m.Called(ctx, pageText, actx, mode)
	return args.Get(0).(schemas.PageAction), args.Error(1)
}

func (m *MockPageAnalyzer) SuggestKeywords(ctx context.Context, intent schemas.Intent) ([]string, error) {
	args := m.Called(ctx, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// -- History Store Mock --

// MockHistoryStore mocks the schemas.HistoryStore interface.
type MockHistoryStore struct {
	mock.Mock
}

func (m *MockHistoryStore) RecordHandoff(ctx context.Context, session schemas.Session, note string) error {
	args := m.Called(ctx, session, note)
	return args.Error(0)
}

func (m *MockHistoryStore) RecordOrder(ctx context.Context, session schemas.Session, order schemas.OrderDetails) error {
	args := m.Called(ctx, session, order)
	return args.Error(0)
}
