package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			_, _ = fmt.Fprintf(os.Stderr, "error: %s\n", redact.Secrets(err.Error()))
		}
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if core.IsConfig(err) {
		return 2
	}
	return 1
}
