package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"pplxchat/internal/app"
	"pplxchat/internal/core"
	"pplxchat/internal/usage"
)

const ledgerUsage = `Usage:
  pplxchat usage [--config <path>] [--since <time|duration>] [--model <name>] [--format text|json]

Flags:
  --config string   Service configuration file (default: $PPLXCHAT_CONFIG or ./config.yaml)
  --since  string   Only count entries since an RFC 3339 time or a duration ago (e.g. 24h)
  --model  string   Only count entries for this model
  --format string   Output format: text or json (default: text)`

func usageSummary(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("usage", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, ledgerUsage)
	}

	var cfgPath, since, model, format string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&since, "since", "", "lower time bound")
	fs.StringVar(&model, "model", "", "model filter")
	fs.StringVar(&format, "format", formatText, "output format")

	if err := parseFlags(fs, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}
	if format != formatText && format != formatJSON {
		return fmt.Errorf("%w: --format must be text or json, got %q", ErrInvalidArgs, format)
	}
	params, err := usage.ParseQueryParams(since, model, time.Now())
	if err != nil {
		return fmt.Errorf("%w: --since: %v", ErrInvalidArgs, err)
	}

	cfg, logger, err := setup(cfgPath, stderr)
	if err != nil {
		return err
	}
	if !cfg.Config.Usage.Enabled {
		return core.NewConfigurationError("usage ledger is disabled (set usage.enabled or USAGE_ENABLED=true)", nil)
	}

	application, err := app.New(ctx, app.Config{AppConfig: cfg, Logger: logger})
	if err != nil {
		return err
	}

	summary, err := application.UsageReader().Summary(ctx, params)
	closeErr := shutdown(application, logger)
	if err != nil {
		return fmt.Errorf("read usage ledger: %w", err)
	}
	if closeErr != nil {
		return closeErr
	}

	if format == formatJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return writeSummaryTable(stdout, summary)
}

func writeSummaryTable(w io.Writer, s *usage.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "MODEL\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL\t")
	for _, m := range s.Models {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t\n", m.Model, m.Requests, m.PromptTokens, m.CompletionTokens, m.TotalTokens)
	}
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t\n", "(all)", s.Requests, s.PromptTokens, s.CompletionTokens, s.TotalTokens)
	return tw.Flush()
}
