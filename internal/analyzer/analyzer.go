// File: internal/analyzer/analyzer.go
// LLM-backed page re-analysis. This is the escalation path for when scraping
// and selector-driven interaction run dry: the raw page text goes to the
// model, which either re-reads the listings into structured products or
// recommends exactly one next action. Output is untrusted and callers
// validate it like any scraped data.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
	"github.com/xkilldash9x/cartpilot-cli/internal/llmutil"
)

// maxPageTextRunes caps how much page text goes into a prompt. Retail pages
// routinely exceed model context budgets; the head of the page carries the
// listings.
const maxPageTextRunes = 24000

const analysisTimeout = 45 * time.Second

// Analyzer implements schemas.PageAnalyzer on top of an LLM client.
type Analyzer struct {
	logger *zap.Logger
	client schemas.LLMClient
}

var _ schemas.PageAnalyzer = (*Analyzer)(nil)

// New creates an analyzer bound to the given client.
func New(logger *zap.Logger, client schemas.LLMClient) *Analyzer {
	return &Analyzer{
		logger: logger.Named("analyzer"),
		client: client,
	}
}

// Analyze sends the page text to the model and parses its verdict. A
// response that cannot be parsed into a valid action degrades to the error
// action rather than failing the call; the caller's fallback ladder decides
// what to do with it.
func (a *Analyzer) Analyze(ctx context.Context, pageText string, actx schemas.AnalysisContext, mode schemas.AnalysisMode) (schemas.PageAction, error) {
	apiCtx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	req := schemas.GenerationRequest{
		SystemPrompt: a.systemPrompt(mode),
		UserPrompt:   a.userPrompt(pageText, actx, mode),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	}

	response, err := a.client.Generate(apiCtx, req)
	if err != nil {
		return schemas.PageAction{}, fmt.Errorf("page analysis generation failed: %w", err)
	}

	action, err := llmutil.ParseJSONResponse[schemas.PageAction](response)
	if err != nil {
		a.logger.Warn("Could not parse analysis response, degrading to error action",
			zap.String("mode", string(mode)),
			zap.Error(err))
		return schemas.PageAction{Kind: schemas.ActionError, Message: "unparseable analysis response"}, nil
	}

	if !validKind(action.Kind) {
		a.logger.Warn("Analysis returned unknown action kind", zap.String("kind", string(action.Kind)))
		return schemas.PageAction{Kind: schemas.ActionError, Message: fmt.Sprintf("unknown action kind %q", action.Kind)}, nil
	}

	a.logger.Debug("Page analysis complete",
		zap.String("mode", string(mode)),
		zap.String("action", string(action.Kind)),
		zap.Int("products", len(action.Products)))
	return *action, nil
}

// SuggestKeywords asks the fast tier for extra search tokens. Errors are
// returned but callers treat them as advisory.
func (a *Analyzer) SuggestKeywords(ctx context.Context, intent schemas.Intent) ([]string, error) {
	apiCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	filtersJSON, err := json.MarshalToString(intent.Filters)
	if err != nil {
		return nil, fmt.Errorf("marshal filters for keyword prompt: %w", err)
	}

	req := schemas.GenerationRequest{
		SystemPrompt: `You help build e-commerce search queries. Given a user's raw shopping request and their structured filters, suggest up to 3 short keywords that would sharpen the site search. Respond with only a JSON array of strings, for example ["5g", "dual sim"]. Suggest nothing that is already in the query.`,
		UserPrompt:   fmt.Sprintf("Raw request: %s\nStructured filters: %s", intent.Query, filtersJSON),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.4},
	}

	response, err := a.client.Generate(apiCtx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword suggestion failed: %w", err)
	}

	keywords, err := llmutil.ParseJSONResponse[[]string](response)
	if err != nil {
		return nil, fmt.Errorf("parse keyword suggestions: %w", err)
	}

	cleaned := make([]string, 0, len(*keywords))
	for _, kw := range *keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw != "" {
			cleaned = append(cleaned, kw)
		}
	}
	if len(cleaned) > 3 {
		cleaned = cleaned[:3]
	}
	return cleaned, nil
}

func validKind(kind schemas.PageActionKind) bool {
	switch kind {
	case schemas.ActionSelectProduct, schemas.ActionClick, schemas.ActionInput,
		schemas.ActionExtractProducts, schemas.ActionCompleted, schemas.ActionError:
		return true
	}
	return false
}

func (a *Analyzer) systemPrompt(mode schemas.AnalysisMode) string {
	base := `You are the page analyst of 'cartpilot-cli', an assistant that automates retail purchases in a real browser.
You receive the visible text of the current page plus the shopper's intent, and you must respond with a single JSON object.
Never invent products or URLs that do not appear in the page text.`

	switch mode {
	case schemas.ModeExtractProducts:
		return base + `

Task: re-read the page text as a product listing.
Respond with: {"action": "extract_products", "products": [{"title": "...", "price": "...", "rating": "...", "link": "...", "reviews": "..."}]}
Order products best match first against the shopper's intent. Include every field you can find; leave fields you cannot find empty.
If the page contains no product listings at all, respond with {"action": "error", "message": "<what the page actually shows>"}.`
	default:
		return base + `

Task: recommend exactly ONE next action to make progress toward the purchase.

Available actions:
- {"action": "select_product", "url": "...", "title": "..."} when a suitable product link is visible.
- {"action": "click", "selector": "...", "reason": "..."} to click one element (CSS selector).
- {"action": "input", "selector": "...", "value": "...", "reason": "..."} to type into one field.
- {"action": "completed", "message": "..."} when the page shows the purchase flow has finished.
- {"action": "error", "message": "..."} when the page is blocked (login wall, captcha, outage) or no safe action exists.

Never recommend an action that confirms payment or places an order. Respond with only the JSON object.`
	}
}

func (a *Analyzer) userPrompt(pageText string, actx schemas.AnalysisContext, mode schemas.AnalysisMode) string {
	filtersJSON, err := json.MarshalToString(actx.Intent.Filters)
	if err != nil {
		filtersJSON = "{}"
	}

	runes := []rune(pageText)
	if len(runes) > maxPageTextRunes {
		pageText = string(runes[:maxPageTextRunes]) + "\n[truncated]"
	}

	return fmt.Sprintf(`Shopper request: %s
Structured filters: %s
Session state: %s
Platform: %s
Analysis mode: %s

Page text:
%s

Respond with a single JSON object.`, actx.Intent.Query, filtersJSON, actx.State, actx.Platform, mode, pageText)
}
