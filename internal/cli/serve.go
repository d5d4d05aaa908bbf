package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"

	"pplxchat/internal/app"
)

const serveUsage = `Usage:
  pplxchat serve [--config <path>] [--port <port>]

Flags:
  --config string   Service configuration file (default: $PPLXCHAT_CONFIG or ./config.yaml)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := parseFlags(fs, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}
	if overridePort < 0 || overridePort > 65535 {
		return fmt.Errorf("%w: port override %d must be a valid TCP port", ErrInvalidArgs, overridePort)
	}

	cfg, logger, err := setup(cfgPath, stderr)
	if err != nil {
		return err
	}
	if overridePort != 0 {
		cfg.Config.Server.Port = strconv.Itoa(overridePort)
	}

	application, err := app.New(ctx, app.Config{
		AppConfig: cfg,
		Logger:    logger,
		Source:    app.SourceServer,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start(net.JoinHostPort("", cfg.Config.Server.Port))
	}()

	select {
	case err := <-errCh:
		closeErr := shutdown(application, logger)
		return errors.Join(err, closeErr)
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	closeErr := shutdown(application, logger)
	return errors.Join(<-errCh, closeErr)
}
