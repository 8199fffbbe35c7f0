// docvault command line
// Versioned, lockable, auditable documents backed by a local data directory
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nainya/docvault/pkg/docerr"
)

// Exit codes
const (
	exitOK           = 0
	exitError        = 1
	exitValidation   = 2
	exitNotFound     = 3
	exitConflict     = 4
	exitUnauthorized = 5
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch kind := docerr.Kind(err); {
	case err == nil:
		return exitOK
	case errors.Is(kind, docerr.ErrValidation):
		return exitValidation
	case errors.Is(kind, docerr.ErrNotFound):
		return exitNotFound
	case errors.Is(kind, docerr.ErrConflict):
		return exitConflict
	case errors.Is(kind, docerr.ErrUnauthorized):
		return exitUnauthorized
	default:
		return exitError
	}
}
