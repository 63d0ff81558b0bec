// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lseval evaluates the Lightspeed assistant with LLM-as-judge
// metrics.
//
//	lseval --system-config config/system.yaml --eval-data config/evaluation_data.yaml
//
// The exit status is 0 when the run completes, even if some evaluations
// FAIL or ERROR, and 1 when the run cannot complete.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinterlante1206/lightspeed-eval/pkg/secrets"
	"github.com/jinterlante1206/lightspeed-eval/pkg/ux"
)

// Set with -ldflags "-X main.version=..." at build time.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command line and returns the process exit code.
func run(args []string) int {
	// SIGINT is handled by memguard, which purges and exits. SIGTERM cancels
	// the run so partial results are still reported.
	secrets.Init()
	defer secrets.Purge()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		ux.Error(err.Error())
		return 1
	}
	return 0
}
