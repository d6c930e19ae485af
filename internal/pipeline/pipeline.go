// Package pipeline runs one end-to-end rolewatch pass: aggregate, render and
// deliver.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lsm/rolewatch/internal/aggregate"
	"github.com/lsm/rolewatch/internal/chart"
	"github.com/lsm/rolewatch/internal/correlation"
	"github.com/lsm/rolewatch/internal/dataset"
	"github.com/lsm/rolewatch/internal/failure"
	"github.com/lsm/rolewatch/internal/observability"
	"github.com/lsm/rolewatch/internal/report"
	"github.com/lsm/rolewatch/internal/sink"
	"github.com/lsm/rolewatch/internal/tracing"
)

// TimeLayout is the layout of the payload's time field.
const TimeLayout = "2006-01-02 15:04:05"

// Aggregator produces the dataset for one run.
type Aggregator interface {
	Run(ctx context.Context) (*aggregate.Result, error)
}

// NamedSink is a delivery target with a name for logs and metrics.
type NamedSink struct {
	Name string
	Sink sink.Sink
}

// Config holds pipeline configuration.
type Config struct {
	Title    string
	TopRoles int
	// Location is the timezone of the payload timestamp. Nil means UTC.
	Location *time.Location
}

// Payload is the JSON document delivered to every sink.
type Payload struct {
	CSV   string `json:"csv"`
	HTML  string `json:"html"`
	Graph string `json:"graph"`
	Time  string `json:"time"`
}

// RunResult summarizes a successful run.
type RunResult struct {
	RunID    string
	Records  int
	Roles    int
	Started  time.Time
	Duration time.Duration
	// DeliveryStatus maps sink name to the status it returned.
	DeliveryStatus map[string]int
	Dataset        *dataset.Dataset
}

// Pipeline sequences aggregation, rendering and delivery.
type Pipeline struct {
	config     Config
	aggregator Aggregator
	sinks      []NamedSink
	metrics    *observability.Metrics
	health     *observability.HealthServer
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// New creates a Pipeline. Sinks are delivered to in order.
func New(cfg Config, agg Aggregator, sinks ...NamedSink) *Pipeline {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Title == "" {
		cfg.Title = "AAD Roles"
	}
	return &Pipeline{
		config:     cfg,
		aggregator: agg,
		sinks:      sinks,
		logger:     slog.Default(),
		tracer:     noop.NewTracerProvider().Tracer("pipeline"),
		now:        time.Now,
	}
}

// SetLogger sets the logger.
func (p *Pipeline) SetLogger(logger *slog.Logger) { p.logger = logger }

// SetTracer sets the tracer for the run span.
func (p *Pipeline) SetTracer(tracer trace.Tracer) { p.tracer = tracer }

// SetMetrics enables run metrics.
func (p *Pipeline) SetMetrics(m *observability.Metrics) { p.metrics = m }

// SetHealth records each run outcome on h.
func (p *Pipeline) SetHealth(h *observability.HealthServer) { p.health = h }

// Run performs one pass. Nothing is delivered unless aggregation and rendering
// both succeed; the first delivery failure stops the remaining sinks.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	started := p.now()
	runID := correlation.NewRunID()
	ctx = correlation.WithRunID(ctx, runID)

	ctx, span := tracing.StartSpan(ctx, p.tracer, tracing.SpanRun,
		trace.WithAttributes(tracing.RunIDAttr(runID)),
	)
	defer span.End()

	logger := observability.NewTraceLogger(p.logger.With("run_id", runID)).WithTraceContext(ctx)
	logger.Info("run started")

	res, err := p.run(ctx, logger, runID, started)
	if err != nil {
		tracing.SetSpanError(span, err)
		span.SetAttributes(tracing.ErrorKindAttr(failure.KindOf(err).String()))
		p.finish(runID, started, 0, err)
		logger.Error("run failed", "error", err, "duration_ms", time.Since(started).Milliseconds())
		return nil, err
	}

	tracing.SetSpanOK(span)
	span.SetAttributes(tracing.RecordsAttr(res.Records))
	res.Duration = p.now().Sub(started)
	p.finish(runID, started, res.Records, nil)
	if p.metrics != nil {
		p.metrics.Records.Set(float64(res.Records))
		p.metrics.Roles.Set(float64(res.Roles))
		p.metrics.LastSuccess.Set(float64(p.now().Unix()))
	}
	logger.Info("run finished",
		"records", res.Records,
		"roles", res.Roles,
		"delivery_status", res.DeliveryStatus,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, runID string, started time.Time) (*RunResult, error) {
	agg, err := p.aggregator.Run(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := p.render(agg.Dataset, started)
	if err != nil {
		return nil, err
	}

	status, err := p.deliver(ctx, logger, runID, payload)
	if err != nil {
		return nil, err
	}

	return &RunResult{
		RunID:          runID,
		Records:        agg.Dataset.Len(),
		Roles:          len(agg.Roles),
		Started:        started,
		DeliveryStatus: status,
		Dataset:        agg.Dataset,
	}, nil
}

// render builds the JSON payload from the dataset.
func (p *Pipeline) render(ds *dataset.Dataset, started time.Time) ([]byte, error) {
	local := started.In(p.config.Location)

	csv, err := ds.CSV()
	if err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	html, err := report.HTML(p.config.Title, local, ds)
	if err != nil {
		return nil, err
	}
	graph, err := chart.Pie(ds.UPNRoleCounts(), chart.Options{
		Title: fmt.Sprintf("The Top %d most UPN assigned %s", p.topRoles(), p.config.Title),
		Top:   p.topRoles(),
	})
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(Payload{
		CSV:   csv,
		HTML:  html,
		Graph: graph,
		Time:  local.Format(TimeLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}

func (p *Pipeline) topRoles() int {
	if p.config.TopRoles > 0 {
		return p.config.TopRoles
	}
	return chart.DefaultTop
}

func (p *Pipeline) deliver(ctx context.Context, logger *slog.Logger, runID string, payload []byte) (map[string]int, error) {
	status := make(map[string]int, len(p.sinks))
	for _, s := range p.sinks {
		headers := correlation.AddToHeaders(nil, runID)
		code, err := s.Sink.Deliver(ctx, payload, headers)
		status[s.Name] = code
		if err != nil {
			if p.metrics != nil {
				p.metrics.DeliveryErrors.WithLabelValues(s.Name).Inc()
			}
			return nil, fmt.Errorf("deliver to %s: %w", s.Name, failure.At(err, failure.StageDelivery, ""))
		}
		logger.Info("summary delivered", "sink", s.Name, "status", code, "bytes", len(payload))
	}
	return status, nil
}

func (p *Pipeline) finish(runID string, started time.Time, records int, err error) {
	outcome := "success"
	if err != nil {
		outcome = failure.KindOf(err).String()
		if outcome == "unknown" {
			outcome = "error"
		}
	}
	if p.metrics != nil {
		p.metrics.RunsTotal.WithLabelValues(outcome).Inc()
		p.metrics.RunDuration.Observe(p.now().Sub(started).Seconds())
	}
	if p.health != nil {
		st := observability.RunStatus{RunID: runID, Finished: p.now(), OK: err == nil, Records: records}
		if err != nil {
			st.Error = err.Error()
		}
		p.health.RecordRun(st)
	}
}

// Close closes every sink.
func (p *Pipeline) Close() error {
	var errs []error
	for _, s := range p.sinks {
		if err := s.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
