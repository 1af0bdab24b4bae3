// File: internal/filters/coordinator.go
// Drives and verifies remote filter application. Filter controls on retail
// surfaces fail silently all the time: the click lands, nothing happens, or
// the page reloads and drops the state. Each filter therefore gets bounded
// attempts with explicit verification, and one stubborn filter never aborts
// the rest.
package filters

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

// Coordinator applies a filter set on the remote results surface.
type Coordinator struct {
	logger      *zap.Logger
	agent       schemas.PageAgent
	maxAttempts int
	// perFilterTimeout bounds one apply-plus-verify round.
	perFilterTimeout time.Duration
	// verifyPoll is the spacing between verification probes.
	verifyPoll time.Duration
}

// New creates a coordinator. maxAttempts <= 0 defaults to 3.
func New(logger *zap.Logger, agent schemas.PageAgent, maxAttempts int, perFilterTimeout time.Duration) *Coordinator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if perFilterTimeout <= 0 {
		perFilterTimeout = 10 * time.Second
	}
	return &Coordinator{
		logger:           logger.Named("filters"),
		agent:            agent,
		maxAttempts:      maxAttempts,
		perFilterTimeout: perFilterTimeout,
		verifyPoll:       250 * time.Millisecond,
	}
}

// Apply iterates the set in fixed priority order and returns true iff at
// least one filter was verified on the surface. The before/after result
// counts are recorded for observability only; a shrinking count is a good
// sign but never a veto.
func (c *Coordinator) Apply(ctx context.Context, filters schemas.FilterSet) bool {
	keys := filters.Ordered()
	if len(keys) == 0 {
		return false
	}

	before, _ := c.agent.ResultCount(ctx)

	verified := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		if c.applyOne(ctx, key, filters[key]) {
			verified++
		} else {
			c.logger.Warn("Filter could not be verified, continuing with the rest",
				zap.String("filter", string(key)),
				zap.String("value", filters[key]))
		}
	}

	after, _ := c.agent.ResultCount(ctx)
	c.logger.Info("Filter application finished",
		zap.Int("requested", len(keys)),
		zap.Int("verified", verified),
		zap.Int("results_before", before),
		zap.Int("results_after", after))

	return verified > 0
}

// applyOne drives a single filter with bounded attempts, verifying after
// each one.
func (c *Coordinator) applyOne(ctx context.Context, key schemas.FilterKey, value string) bool {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.perFilterTimeout)

		beforeURL, _ := c.agent.CurrentLocation(attemptCtx)

		if err := c.agent.ApplyFilter(attemptCtx, key, value); err != nil {
			cancel()
			c.logger.Debug("Filter apply attempt failed",
				zap.String("filter", string(key)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		ok := c.verify(attemptCtx, beforeURL, value)
		cancel()
		if ok {
			c.logger.Debug("Filter verified",
				zap.String("filter", string(key)),
				zap.Int("attempt", attempt))
			return true
		}
	}
	return false
}

// verify polls for any of the three application signals until the attempt
// deadline: the location changed, the loading indicator came and went, or
// an active-filter chip for the value showed up.
func (c *Coordinator) verify(ctx context.Context, beforeURL, value string) bool {
	loadingSeen := false

	ticker := time.NewTicker(c.verifyPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		if loc, err := c.agent.CurrentLocation(ctx); err == nil && loc != "" && loc != beforeURL {
			return true
		}

		if active, err := c.agent.HasActiveFilter(ctx, value); err == nil && active {
			return true
		}

		loading, err := c.agent.IsLoading(ctx)
		if err == nil {
			if loading {
				loadingSeen = true
			} else if loadingSeen {
				// The surface finished a refresh triggered by our click.
				return true
			}
		}
	}
}
