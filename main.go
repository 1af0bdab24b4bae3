// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/cartpilot-cli/cmd"
)

// main is the entry point for the cartpilot CLI application.
func main() {
	// Commands receive a signal-aware context so an interrupt aborts the
	// purchase session cleanly instead of orphaning the browser.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.ExecuteContext(ctx)
}
