// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package script runs the shell scripts referenced by evaluation data.

Conversations may name a setup_script and a cleanup_script, and turns may
name a verify_script for script:action_eval. All of them go through the
Executor interface so the pipeline and the metric handler can be tested
without spawning processes.
*/
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds a script run when the runner has no timeout.
const DefaultTimeout = 300 * time.Second

var (
	// ErrScriptNotFound is returned when the script path does not exist.
	ErrScriptNotFound = errors.New("script not found")

	// ErrScriptTimeout is returned when a script exceeds its timeout.
	ErrScriptTimeout = errors.New("script timed out")

	// ErrScriptFailed is returned when a script exits non-zero.
	ErrScriptFailed = errors.New("script failed")
)

// Result describes a finished script.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Executor runs scripts.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Executor interface {
	// Run executes the script at path and waits for it.
	//
	// # Outputs
	//
	//   - Result: Exit code and combined output, also set on failure.
	//   - error: ErrScriptNotFound, ErrScriptTimeout or ErrScriptFailed
	//     (wrapped), or a start error.
	Run(ctx context.Context, path string) (Result, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// Runner implements Executor with os/exec.
//
// Executable files are run directly; anything else is passed to bash.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a runner. A zero timeout uses DefaultTimeout.
func NewRunner(timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{timeout: timeout, logger: logger.With(slog.String("component", "script"))}
}

// Run implements Executor.
func (r *Runner) Run(ctx context.Context, path string) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{}, fmt.Errorf("resolve script path %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrScriptNotFound, path)
		}
		return Result{}, fmt.Errorf("stat script %s: %w", path, err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s is a directory", ErrScriptNotFound, path)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if info.Mode().Perm()&0o111 != 0 {
		cmd = exec.CommandContext(runCtx, abs)
	} else {
		cmd = exec.CommandContext(runCtx, "bash", abs)
	}
	cmd.Dir = filepath.Dir(abs)
	// Children that outlive a killed script would hold the output pipe open.
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err = cmd.Run()
	res := Result{Output: strings.TrimSpace(out.String()), Duration: time.Since(start)}

	if runCtx.Err() == context.DeadlineExceeded {
		res.ExitCode = -1
		return res, fmt.Errorf("%w: %s after %s", ErrScriptTimeout, path, r.timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.logger.Debug("script exited non-zero",
				slog.String("path", path),
				slog.Int("exit_code", res.ExitCode),
				slog.String("output", res.Output))
			return res, fmt.Errorf("%w: %s exited with code %d", ErrScriptFailed, path, res.ExitCode)
		}
		return res, fmt.Errorf("run script %s: %w", path, err)
	}

	r.logger.Debug("script finished", slog.String("path", path), slog.Duration("duration", res.Duration))
	return res, nil
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockExecutor is a test double for Executor.
//
// RunFunc must be set before Run is called.
type MockExecutor struct {
	RunFunc func(ctx context.Context, path string) (Result, error)
}

// Run implements Executor.
func (m *MockExecutor) Run(ctx context.Context, path string) (Result, error) {
	return m.RunFunc(ctx, path)
}
