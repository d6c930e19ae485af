package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/lsm/rolewatch/internal/observability"
	"github.com/lsm/rolewatch/internal/pipeline"
	"github.com/lsm/rolewatch/internal/report"
	"github.com/lsm/rolewatch/internal/tracing"
)

const serviceName = "rolewatch"

const runUsage = `Usage: rolewatch run [flags]

Runs one aggregation and delivery pass, prints a role summary and exits.
Nothing is delivered if any stage before delivery fails.

Flags:`

// RunOnce performs a single pipeline run. The summary table is written to
// stdout; nil means os.Stdout.
func RunOnce(args []string, stdout io.Writer) error {
	if stdout == nil {
		stdout = os.Stdout
	}

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	quiet := fs.Bool("quiet", false, "do not print the role summary")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), runUsage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := observability.NewLogger(serviceName, observability.GetLogLevel(common.logLevel))
	slog.SetDefault(logger)

	cfg, err := loadConfig(common.configPath)
	if err != nil {
		return err
	}

	tracer, shutdownTracing, err := tracing.Initialize(tracingConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer flushTracing(shutdownTracing, logger)

	p, err := buildPipeline(cfg, observers{logger: logger, tracer: tracer})
	if err != nil {
		return err
	}
	defer closePipeline(p, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer cancel()

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	if *quiet {
		return nil
	}
	fmt.Fprintf(stdout, "Run %s: %d records across %d roles in %s\n\n",
		res.RunID, res.Records, res.Roles, res.Duration.Round(time.Millisecond))
	return report.WriteSummary(stdout, res.Dataset)
}

func flushTracing(shutdown func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}
}

func closePipeline(p *pipeline.Pipeline, logger *slog.Logger) {
	if err := p.Close(); err != nil {
		logger.Error("sink close error", "error", err)
	}
}
