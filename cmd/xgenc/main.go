// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command xgenc runs batches of hardware video encodes, either as a daemon
// with an HTTP control API or directly from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	xgversion "github.com/ManuGH/xgenc/internal/version"
)

var (
	version   = xgversion.Version
	commit    = xgversion.Commit
	buildDate = xgversion.Date
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(exitCode(err))
	}
}
