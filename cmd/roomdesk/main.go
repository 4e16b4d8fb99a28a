// Command roomdesk runs the back-office API and its maintenance tasks.
//
// Usage:
//
//	roomdesk [--config roomdesk.yaml] <command>
//
// Commands:
//   - serve:   run the HTTP API (and the metrics listener when enabled)
//   - migrate: apply pending schema migrations
//   - seed:    apply a roles/permissions/users seed file
//   - version: print build information
//
// Every setting can be overridden with ROOMDESK_* environment variables,
// e.g. ROOMDESK_DATABASE_DSN.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
