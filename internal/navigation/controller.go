// File: internal/navigation/controller.go
// Issues and verifies page navigations. Retail sites redirect, rewrite and
// silently swallow navigations, so every navigation is verified against the
// resulting location and retried with an escalating technique when it did
// not land.
package navigation

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

// techniques is the escalation ladder: a plain navigation first, then
// scripted location changes that sidestep interception of the normal path.
var techniques = []schemas.NavTechnique{
	schemas.NavDirect,
	schemas.NavScriptAssign,
	schemas.NavScriptReplace,
}

// Controller verifies navigations against their target.
type Controller struct {
	logger      *zap.Logger
	agent       schemas.PageAgent
	settleDelay time.Duration
	maxAttempts int
}

// New creates a controller. maxAttempts <= 0 defaults to 3.
func New(logger *zap.Logger, agent schemas.PageAgent, settleDelay time.Duration, maxAttempts int) *Controller {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}
	return &Controller{
		logger:      logger.Named("navigation"),
		agent:       agent,
		settleDelay: settleDelay,
		maxAttempts: maxAttempts,
	}
}

// NavigateAndVerify drives the tab to the target URL and confirms it
// arrived. Each failed verification escalates to the next technique with a
// growing settle delay. A landing on a recognized checkout/cart surface
// counts as success even off-target: checkout flows legitimately redirect.
// The caller decides whether a false return is a stall or terminal.
func (c *Controller) NavigateAndVerify(ctx context.Context, target string) bool {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		technique := techniques[attempt%len(techniques)]

		if err := c.agent.Navigate(ctx, target, technique); err != nil {
			c.logger.Warn("Navigation issue failed",
				zap.String("technique", string(technique)),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}

		// Give the page time to settle, longer on each retry.
		settle := c.settleDelay * time.Duration(attempt+1)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(settle):
		}

		loc, err := c.agent.CurrentLocation(ctx)
		if err != nil {
			c.logger.Warn("Could not read location after navigation", zap.Error(err))
			continue
		}

		if SameDestination(loc, target) || IsCheckoutLocation(loc) {
			return true
		}

		c.logger.Warn("Navigation landed off-target",
			zap.String("target", target),
			zap.String("location", loc),
			zap.Int("attempt", attempt+1))
	}
	return false
}

// -- Location pattern helpers --

var checkoutPatterns = []string{
	"checkout", "/cart", "cart.", "buy/", "/gp/buy", "payment", "order/new", "proceed-to-pay",
}

var confirmationPatterns = []string{
	"thankyou", "thank-you", "order-confirm", "orderconfirm", "confirmation", "order-placed", "/orders/",
}

var resultsPatterns = []string{
	"/s?", "/search", "q=", "k=", "query=", "/sr/", "results",
}

// IsCheckoutLocation reports whether the URL looks like a checkout or cart
// surface.
func IsCheckoutLocation(loc string) bool { return matchesAny(loc, checkoutPatterns) }

// IsOrderConfirmation reports whether the URL looks like an order
// confirmation surface.
func IsOrderConfirmation(loc string) bool { return matchesAny(loc, confirmationPatterns) }

// IsResultsSurface reports whether the URL looks like a search results
// surface.
func IsResultsSurface(loc string) bool { return matchesAny(loc, resultsPatterns) }

func matchesAny(loc string, patterns []string) bool {
	loc = strings.ToLower(loc)
	for _, p := range patterns {
		if strings.Contains(loc, p) {
			return true
		}
	}
	return false
}

// SameDestination compares two URLs ignoring scheme, fragment, tracking
// parameters and trailing slashes. Sites decorate product URLs heavily;
// the path identity is what matters.
func SameDestination(a, b string) bool {
	ua, errA := url.Parse(strings.TrimSpace(a))
	ub, errB := url.Parse(strings.TrimSpace(b))
	if errA != nil || errB != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}

	hostA := strings.TrimPrefix(strings.ToLower(ua.Host), "www.")
	hostB := strings.TrimPrefix(strings.ToLower(ub.Host), "www.")
	if hostA != "" && hostB != "" && hostA != hostB {
		return false
	}

	pathA := strings.TrimSuffix(ua.Path, "/")
	pathB := strings.TrimSuffix(ub.Path, "/")
	return pathA == pathB
}
