// Command pplxchat runs Perplexity chat-completion tasks from the command line
// or over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pplxchat/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "shutdown requested, exiting")
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	cancel()
	os.Exit(cli.ExitCode(err))
}
