// File: internal/selection/engine.go
// The selection engine turns a pile of scraped listings into exactly one
// purchasable candidate, or a diagnostic explaining why it could not.
// Selection runs three short-circuiting tiers: strict (all filters),
// relaxed (brand/category only), then an LLM page re-analysis as explicit
// last resort.
package selection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
	"github.com/xkilldash9x/cartpilot-cli/internal/matcher"
)

// ErrNoMatch reports that no tier produced an acceptable candidate. It is a
// structural outcome, not a transient error: callers must not retry it.
var ErrNoMatch = errors.New("no product matched the request")

// Tier names the selection path that produced a candidate.
type Tier string

const (
	TierStrict  Tier = "strict"
	TierRelaxed Tier = "relaxed"
	TierLLM     Tier = "llm"
)

// Diagnostic records the counts at each stage of a selection run. It is
// attached to every outcome so a failed run can explain itself.
type Diagnostic struct {
	RawCount      int                 `json:"raw_count"`
	ValidCount    int                 `json:"valid_count"`
	DedupedCount  int                 `json:"deduped_count"`
	Tier          Tier                `json:"tier,omitempty"`
	RelaxedTried  bool                `json:"relaxed_tried"`
	LLMTried      bool                `json:"llm_tried"`
	LLMItemCount  int                 `json:"llm_item_count,omitempty"`
	ActiveFilters []schemas.FilterKey `json:"active_filters,omitempty"`
}

// String renders the diagnostic as the human-readable tail of a status note.
func (d Diagnostic) String() string {
	keys := make([]string, 0, len(d.ActiveFilters))
	for _, k := range d.ActiveFilters {
		keys = append(keys, string(k))
	}
	return fmt.Sprintf("raw=%d valid=%d deduped=%d relaxed_tried=%v llm_tried=%v filters=[%s]",
		d.RawCount, d.ValidCount, d.DedupedCount, d.RelaxedTried, d.LLMTried, strings.Join(keys, ","))
}

// Engine selects one product from extracted listings. The analyzer is
// optional; without one the LLM tier is skipped.
type Engine struct {
	logger   *zap.Logger
	analyzer schemas.PageAnalyzer
}

// New creates a selection engine.
func New(logger *zap.Logger, analyzer schemas.PageAnalyzer) *Engine {
	return &Engine{
		logger:   logger.Named("selection"),
		analyzer: analyzer,
	}
}

// Select walks the tiers and returns the first acceptable candidate.
// The content provider is only consulted for the LLM escalation tier.
func (e *Engine) Select(
	ctx context.Context,
	raw []schemas.RawItem,
	intent schemas.Intent,
	content schemas.ContentProvider,
) (schemas.ProductRef, Diagnostic, error) {

	diag := Diagnostic{
		RawCount:      len(raw),
		ActiveFilters: intent.Filters.Ordered(),
	}

	validated := Validate(raw)
	diag.ValidCount = len(validated)

	deduped := dedupeByLink(validated)
	diag.DedupedCount = len(deduped)

	ranked := matcher.RankResults(deduped, intent.RankingStrategy)

	// Tier 1: strict, all filters.
	if ref, ok := acceptFirst(ranked, intent.Filters); ok {
		diag.Tier = TierStrict
		e.logger.Info("Product selected via strict match", zap.String("title", ref.Title))
		return ref, diag, nil
	}

	// Tier 2: relaxed to brand/category, only worth trying when more than
	// one filter key was constraining the strict walk.
	if intent.Filters.ActiveCount() > 1 {
		relaxed := intent.Filters.Relaxed()
		if len(relaxed) > 0 {
			diag.RelaxedTried = true
			if ref, ok := acceptFirst(ranked, relaxed); ok {
				diag.Tier = TierRelaxed
				e.logger.Info("Product selected via relaxed match", zap.String("title", ref.Title))
				return ref, diag, nil
			}
		}
	}

	// Tier 3: LLM page re-analysis. Output is validated and filtered
	// exactly like scraped data; if nothing passes, its first result is
	// accepted unconditionally as the documented last-resort degradation.
	if e.analyzer != nil && content != nil {
		diag.LLMTried = true
		if ref, n, ok := e.llmFallback(ctx, intent, content); ok {
			diag.Tier = TierLLM
			diag.LLMItemCount = n
			e.logger.Warn("Product selected via LLM fallback", zap.String("title", ref.Title))
			return ref, diag, nil
		}
	}

	e.logger.Warn("Selection exhausted all tiers", zap.String("diagnostic", diag.String()))
	return schemas.ProductRef{}, diag, ErrNoMatch
}

func (e *Engine) llmFallback(
	ctx context.Context,
	intent schemas.Intent,
	content schemas.ContentProvider,
) (schemas.ProductRef, int, bool) {

	pageText, err := content.ExtractPageContent(ctx)
	if err != nil {
		e.logger.Warn("LLM fallback aborted: could not extract page content", zap.Error(err))
		return schemas.ProductRef{}, 0, false
	}

	action, err := e.analyzer.Analyze(ctx, pageText, schemas.AnalysisContext{
		Intent:   intent,
		State:    schemas.StateSelecting,
		Platform: intent.PlatformHint,
	}, schemas.ModeExtractProducts)
	if err != nil {
		e.logger.Warn("LLM fallback failed", zap.Error(err))
		return schemas.ProductRef{}, 0, false
	}

	var candidates []schemas.RawItem
	switch action.Kind {
	case schemas.ActionExtractProducts:
		candidates = action.Products
	case schemas.ActionSelectProduct:
		candidates = []schemas.RawItem{{Title: action.Title, Link: action.URL}}
	default:
		e.logger.Warn("LLM fallback returned no products", zap.String("action", string(action.Kind)))
		return schemas.ProductRef{}, 0, false
	}

	validated := dedupeByLink(Validate(candidates))
	if len(validated) == 0 {
		return schemas.ProductRef{}, 0, false
	}
	ranked := matcher.RankResults(validated, intent.RankingStrategy)

	if ref, ok := acceptFirst(ranked, intent.Filters); ok {
		return ref, len(validated), true
	}
	// Nothing passed the filters: take the analyzer's best guess anyway.
	return toRef(ranked[0]), len(validated), true
}

// Validate keeps items with a non-empty title and a structurally plausible
// link, normalizes the link, and attaches a presentation-quality score.
func Validate(raw []schemas.RawItem) []schemas.ValidatedItem {
	out := make([]schemas.ValidatedItem, 0, len(raw))
	for _, it := range raw {
		link, ok := normalizeLink(it.Link)
		if !ok || strings.TrimSpace(it.Title) == "" {
			continue
		}
		it.Link = link
		out = append(out, schemas.ValidatedItem{
			RawItem:      it,
			QualityScore: qualityScore(it),
		})
	}
	// Order by presentation quality, best first. This is a heuristic over
	// how complete the listing looks; ranking by intent happens later.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].QualityScore > out[j].QualityScore
	})
	return out
}

// qualityScore measures how complete a listing looks: titles of healthy
// length, a visible price/rating/image/review count, and an absolute link
// all add confidence that this is a real product card and not page chrome.
func qualityScore(it schemas.RawItem) int {
	score := 0
	titleLen := len(strings.TrimSpace(it.Title))
	switch {
	case titleLen >= 20:
		score += 3
	case titleLen >= 10:
		score += 2
	case titleLen > 0:
		score++
	}
	if it.PriceText != "" {
		score += 2
	}
	if it.RatingText != "" {
		score += 2
	}
	if it.Image != "" {
		score++
	}
	if it.ReviewsText != "" {
		score++
	}
	if strings.HasPrefix(it.Link, "http://") || strings.HasPrefix(it.Link, "https://") {
		score += 2
	}
	return score
}

// normalizeLink validates the link's structure and strips tracking query
// noise while keeping the path identity intact.
func normalizeLink(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", false
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	// Relative product links are plausible; javascript: and friends are not.
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Scheme != "" && u.Host == "" {
		return "", false
	}
	if u.Path == "" && u.Host == "" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func dedupeByLink(items []schemas.ValidatedItem) []schemas.ValidatedItem {
	seen := make(map[string]bool, len(items))
	out := make([]schemas.ValidatedItem, 0, len(items))
	for _, it := range items {
		key := strings.ToLower(it.Link)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

// acceptFirst walks the ranked list and accepts the first item that passes
// the filters and is not advertised as unavailable.
func acceptFirst(ranked []schemas.ValidatedItem, filters schemas.FilterSet) (schemas.ProductRef, bool) {
	for _, it := range ranked {
		if matcher.IsUnavailable(it) {
			continue
		}
		if !matcher.MatchesFilters(it, filters) {
			continue
		}
		return toRef(it), true
	}
	return schemas.ProductRef{}, false
}

func toRef(it schemas.ValidatedItem) schemas.ProductRef {
	return schemas.ProductRef{
		Title:  it.Title,
		Link:   it.Link,
		Price:  matcher.ParsePrice(it.PriceText),
		Rating: matcher.ParseRating(it.RatingText),
	}
}
