// Command portalctl drives the portal's API from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wispberry-tech/wispy-portal/action"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx); err != nil {
		var reported reportedError
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			fmt.Fprintln(os.Stderr, "\nOperation cancelled")
		case errors.Is(err, action.ErrCancelled):
			fmt.Fprintln(os.Stderr, "Cancelled")
		case !errors.As(err, &reported):
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
