// Command tandem is the local client for the couples journey: it keeps the
// device snapshot, syncs with the remote profile and drives billing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DukeRupert/tandem/internal/domain"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", userMessage(err))
		os.Exit(1)
	}
}

// userMessage prefers the presentable message of a domain error. Plain
// errors (config, flags) are shown as-is.
func userMessage(err error) string {
	if domain.ErrorOp(err) == "" && domain.ErrorCode(err) == domain.EINTERNAL {
		return err.Error()
	}
	return domain.ErrorMessage(err)
}
