// Package cli implements the pplxchat command dispatcher.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"pplxchat/config"
	"pplxchat/internal/app"
	"pplxchat/internal/core"
	"pplxchat/internal/logging"
	"pplxchat/internal/version"
)

const rootUsage = `pplxchat runs Perplexity chat-completion tasks.

Usage:
  pplxchat <command> [flags]

Commands:
  run      Run one task file and print the completion
  serve    Start the HTTP task server
  usage    Summarize the usage ledger
  version  Print build information

Flags:
  -h, --help  Show this help message`

// ErrInvalidArgs marks command-line mistakes.
var ErrInvalidArgs = errors.New("invalid arguments")

// shutdownTimeout bounds the ledger flush and server drain on exit.
const shutdownTimeout = 30 * time.Second

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return printUsage(stdout)
	}

	switch args[0] {
	case "run":
		return runTask(ctx, args[1:], stdout, stderr)
	case "serve":
		return serve(ctx, args[1:], stderr)
	case "usage":
		return usageSummary(ctx, args[1:], stdout, stderr)
	case "version", "--version":
		_, err := fmt.Fprintln(stdout, version.Info())
		return err
	case "help", "-h", "--help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("%w: unknown command %q\n\n%s", ErrInvalidArgs, args[0], rootUsage)
	}
}

// ExitCode maps an Execute error to a process exit status: 0 on success,
// 2 for argument and configuration problems, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidArgs), core.IsType(err, core.ErrorTypeConfiguration):
		return 2
	default:
		return 1
	}
}

func printUsage(w io.Writer) error {
	_, err := fmt.Fprintln(w, strings.TrimSpace(rootUsage))
	return err
}

// parseFlags parses args, turning a help request into errHelp.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errHelp
		}
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %q", ErrInvalidArgs, fs.Arg(0))
	}
	return nil
}

var errHelp = errors.New("help requested")

// setup loads configuration and installs the process logger.
func setup(cfgPath string, stderr io.Writer) (*config.LoadResult, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, core.NewConfigurationError(err.Error(), err)
	}

	logger, err := logging.New(logging.Options{
		Format: cfg.Config.Logging.Format,
		Level:  cfg.Config.Logging.Level,
		Writer: stderr,
	})
	if err != nil {
		return nil, nil, core.NewConfigurationError(err.Error(), err)
	}
	slog.SetDefault(logger)

	if cfg.Path != "" {
		logger.Debug("configuration loaded", "path", cfg.Path)
	}
	return cfg, logger, nil
}

func shutdown(a *app.App, logger *slog.Logger) error {
	if err := closeApp(a); err != nil {
		logger.Error("shutdown failed", "error", err)
		return err
	}
	return nil
}

func closeApp(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}
