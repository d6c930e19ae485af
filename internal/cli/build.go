// Package cli implements the rolewatch subcommands.
package cli

import (
	"flag"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lsm/rolewatch/internal/aggregate"
	"github.com/lsm/rolewatch/internal/auth"
	"github.com/lsm/rolewatch/internal/config"
	"github.com/lsm/rolewatch/internal/failure"
	"github.com/lsm/rolewatch/internal/filter"
	"github.com/lsm/rolewatch/internal/graph"
	"github.com/lsm/rolewatch/internal/observability"
	"github.com/lsm/rolewatch/internal/pipeline"
	"github.com/lsm/rolewatch/internal/sink/kafka"
	"github.com/lsm/rolewatch/internal/sink/webhook"
	"github.com/lsm/rolewatch/internal/tracing"
)

const (
	sinkWebhook = "webhook"
	sinkKafka   = "kafka"
)

// observers carries the cross-cutting dependencies shared by every component.
type observers struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics
	health  *observability.HealthServer
}

func (o observers) withDefaults() observers {
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("rolewatch")
	}
	return o
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	logLevel   string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to the YAML config file (optional; environment only when empty)")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error (default from ROLEWATCH_LOG_LEVEL)")
}

// loadConfig loads and validates the configuration.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// tracingConfig tags traces with the tenant being reported on and the
// binary's module version.
func tracingConfig(cfg *config.Config) tracing.Config {
	tc := tracing.GetConfig(serviceName)
	tc.TenantID = cfg.TenantID
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		tc.ServiceVersion = info.Main.Version
	}
	return tc
}

// compileFilter returns nil when no filter is configured.
func compileFilter(expr string) (*filter.Filter, error) {
	if expr == "" {
		return nil, nil
	}
	f, err := filter.New(expr)
	if err != nil {
		return nil, failure.At(failure.Configuration("filter: %w", err), failure.StageConfig, "")
	}
	return f, nil
}

// buildPipeline wires one pipeline from a validated configuration.
func buildPipeline(cfg *config.Config, obs observers) (*pipeline.Pipeline, error) {
	obs = obs.withDefaults()

	graphSpec, err := cfg.GraphSpec()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	flt, err := compileFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	client := graph.NewClient(cfg.Graph.BaseURL,
		graph.WithTimeout(cfg.Graph.Timeout),
		graph.WithTracer(obs.tracer),
		graph.WithMetrics(obs.metrics),
		graph.WithLogger(obs.logger),
	)
	resolver := auth.NewResolver(client.HTTPClient())

	agg := aggregate.New(aggregate.Config{
		Credential:     graphSpec,
		MaxConcurrency: cfg.Graph.MaxConcurrency,
		Filter:         flt,
	}, resolver, client)
	agg.SetTracer(obs.tracer)
	agg.SetLogger(obs.logger)

	sinks, err := buildSinks(cfg, obs)
	if err != nil {
		return nil, err
	}

	p := pipeline.New(pipeline.Config{
		Title:    cfg.Report.Title,
		TopRoles: cfg.Report.TopRoles,
		Location: loc,
	}, agg, sinks...)
	p.SetLogger(obs.logger)
	p.SetTracer(obs.tracer)
	if obs.metrics != nil {
		p.SetMetrics(obs.metrics)
	}
	if obs.health != nil {
		p.SetHealth(obs.health)
	}
	return p, nil
}

// buildSinks returns the webhook sink followed by the Kafka sink when one is
// configured.
func buildSinks(cfg *config.Config, obs observers) ([]pipeline.NamedSink, error) {
	wh, err := webhook.NewSink(webhook.Config{
		URL:         cfg.Webhook.URL,
		Headers:     cfg.Webhook.Headers,
		Timeout:     cfg.Webhook.Timeout,
		CloudEvents: cfg.Webhook.CloudEvents,
	})
	if err != nil {
		return nil, failure.At(err, failure.StageConfig, "")
	}
	wh.SetTracer(obs.tracer)
	wh.SetLogger(obs.logger.With("sink", sinkWebhook))
	sinks := []pipeline.NamedSink{{Name: sinkWebhook, Sink: wh}}

	if !cfg.Kafka.Enabled() {
		return sinks, nil
	}
	ks, err := kafka.NewSink(cfg.Kafka)
	if err != nil {
		_ = wh.Close()
		return nil, failure.At(failure.Configuration("kafka sink: %w", err), failure.StageConfig, "")
	}
	ks.SetTracer(obs.tracer)
	ks.SetLogger(obs.logger.With("sink", sinkKafka))
	return append(sinks, pipeline.NamedSink{Name: sinkKafka, Sink: ks}), nil
}
