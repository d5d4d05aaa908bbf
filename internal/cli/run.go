package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"pplxchat/config"
	"pplxchat/internal/app"
	"pplxchat/internal/core"
	"pplxchat/internal/usage"
)

const runUsage = `Usage:
  pplxchat run --task <path> [--config <path>] [--format text|json]

Flags:
  --task   string   Task file (YAML) to run (required)
  --config string   Service configuration file (default: $PPLXCHAT_CONFIG or ./config.yaml)
  --format string   Output format: text or json (default: text)`

// Output formats shared by run and usage.
const (
	formatText = "text"
	formatJSON = "json"
)

type runOutput struct {
	OutputText  string       `json:"output_text"`
	RawResponse string       `json:"raw_response"`
	Usage       *usageTotals `json:"usage,omitempty"`
}

type usageTotals struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func runTask(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, runUsage)
	}

	var taskPath, cfgPath, format string
	fs.StringVar(&taskPath, "task", "", "path to task file")
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&format, "format", formatText, "output format")

	if err := parseFlags(fs, args); err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}
	if taskPath == "" {
		return fmt.Errorf("%w: run command requires --task <path>", ErrInvalidArgs)
	}
	if format != formatText && format != formatJSON {
		return fmt.Errorf("%w: --format must be text or json, got %q", ErrInvalidArgs, format)
	}

	cfg, logger, err := setup(cfgPath, stderr)
	if err != nil {
		return err
	}

	task, err := config.LoadTask(taskPath)
	if err != nil {
		return err
	}
	in, err := task.Render(cfg.Config.Perplexity.APIKey)
	if err != nil {
		return err
	}

	recorder := &usage.Recorder{}
	application, err := app.New(ctx, app.Config{
		AppConfig: cfg,
		Logger:    logger,
		Source:    app.SourceCLI,
		Sinks:     []usage.Sink{recorder},
	})
	if err != nil {
		return err
	}

	result, err := application.Task().Run(ctx, in)
	if err != nil {
		_ = shutdown(application, logger)
		return err
	}

	return finishRun(logger,
		func() error { return writeResult(stdout, format, result, recorder.Totals()) },
		func() error { return closeApp(application) },
	)
}

// finishRun emits the result of a completed task and then releases the
// application. Once the completion is written, a close failure is only
// logged: the task itself succeeded.
func finishRun(logger *slog.Logger, write, closeFn func() error) error {
	writeErr := write()
	if err := closeFn(); err != nil {
		logger.Warn("shutdown after completed task failed", "error", err)
	}
	return writeErr
}

func writeResult(w io.Writer, format string, result *core.CompletionResult, totals map[string]int64) error {
	if format == formatText {
		_, err := fmt.Fprintln(w, result.OutputText)
		return err
	}

	out := runOutput{
		OutputText:  result.OutputText,
		RawResponse: result.RawResponse,
	}
	if len(totals) > 0 {
		out.Usage = &usageTotals{
			PromptTokens:     totals[usage.CounterPromptTokens],
			CompletionTokens: totals[usage.CounterCompletionTokens],
			TotalTokens:      totals[usage.CounterTotalTokens],
		}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
