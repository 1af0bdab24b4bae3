// File: internal/pageagent/context.go
package pageagent

import "context"

// combineContext derives a context from the tab context (which carries the
// CDP connection info) that is additionally cancelled when the operation
// context dies. Every remote call races its chromedp actions against the
// caller's deadline this way; no response within it is a failure, never a
// hang.
func combineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)

	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
