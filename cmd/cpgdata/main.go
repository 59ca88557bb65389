package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/broadinstitute/cpg/internal/config"
	"github.com/broadinstitute/cpg/internal/exitcode"
	"github.com/broadinstitute/cpg/internal/runner"
)

func main() {
	// stdout carries command output, logs go to stderr
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// Ensure environment variables are loaded
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitcode.ConfigError)
	}
	level.Set(cfg.LogLevel)

	// Create a cancellable context (for graceful shutdown)
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(newApp(cfg, slog.Default()))
	err = root.ExecuteContext(ctx)
	code := exitCode(ctx, err)
	if code != exitcode.Success {
		slog.Error("command failed", "error", err, "exit_code", code)
	}
	cancel()
	os.Exit(code)
}

// codedError attaches an exit code to an error.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// exitCode maps a command error to a process exit code. Errors without an
// explicit code come from flag and argument handling.
func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return exitcode.Success
	}
	if ctx.Err() != nil {
		return exitcode.Interrupted
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	var perr *runner.PartitionError
	if errors.As(err, &perr) {
		return exitcode.PartitionError
	}
	return exitcode.ConfigError
}
