package selection

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

// -- Page Analyzer Mock --

// MockAnalyzer mocks the schemas.PageAnalyzer interface.
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, pageText string, actx schemas.AnalysisContext, mode schemas.AnalysisMode) (schemas.PageAction, error) {
	args := m.Called(ctx, pageText, actx, mode)
	return args.Get(0).(schemas.PageAction), args.Error(1)
}

func (m *MockAnalyzer) SuggestKeywords(ctx context.Context, intent schemas.Intent) ([]string, error) {
	args := m.Called(ctx, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// -- Content Provider Mock --

// MockContentProvider mocks the schemas.ContentProvider interface.
type MockContentProvider struct {
	mock.Mock
}

func (m *MockContentProvider) ExtractPageContent(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
