// Package webhook POSTs the run summary to an HTTP endpoint such as a Logic
// App trigger.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/cloudevents/sdk-go/v2/binding"
	"github.com/cloudevents/sdk-go/v2/event"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lsm/rolewatch/internal/correlation"
	"github.com/lsm/rolewatch/internal/failure"
	"github.com/lsm/rolewatch/internal/tracing"
)

const (
	// EventType is the CloudEvents type of the summary.
	EventType = "io.rolewatch.roles.summary"
	// EventSource is the CloudEvents source of the summary.
	EventSource = "rolewatch"

	defaultTimeout = 30 * time.Second
)

// Config holds the configuration for a webhook sink.
type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// CloudEvents sends the payload as a binary-mode CloudEvent: the body is
	// unchanged and the event attributes travel as ce-* headers.
	CloudEvents bool
}

// Sink delivers the summary with a single POST. There are no retries.
type Sink struct {
	client *http.Client
	config Config
	logger *slog.Logger
	tracer trace.Tracer
}

// NewSink creates a webhook sink.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, failure.Configuration("webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Sink{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		config: cfg,
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("webhook-sink"),
	}, nil
}

// SetTracer sets the tracer for the sink.
func (s *Sink) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// SetLogger sets the logger.
func (s *Sink) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Deliver POSTs payload and returns the response status. A non-2xx status is
// returned together with a *StatusError.
func (s *Sink) Deliver(ctx context.Context, payload []byte, headers map[string]string) (int, error) {
	start := time.Now()
	runID := correlation.FromHeaders(headers)

	ctx, span := tracing.StartSpan(ctx, s.tracer, tracing.SpanDeliver,
		trace.WithAttributes(
			tracing.SinkAttr("webhook"),
			tracing.RunIDAttr(runID),
		),
	)
	defer span.End()

	status, err := s.post(ctx, runID, payload, headers)
	span.SetAttributes(tracing.HTTPStatusAttr(status))
	if err != nil {
		err = failure.At(err, failure.StageDelivery, "")
		tracing.SetSpanError(span, err)
		s.logger.Error("delivery failed", "run_id", runID, "status", status, "error", err)
		return status, err
	}

	tracing.SetSpanOK(span)
	s.logger.Info("summary delivered",
		"run_id", runID,
		"status", status,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return status, nil
}

// Close releases idle connections.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Sink) post(ctx context.Context, runID string, payload []byte, headers map[string]string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, nil)
	if err != nil {
		return 0, failure.Configuration("create webhook request: %w", err)
	}

	if s.config.CloudEvents {
		if err := writeEvent(ctx, req, runID, payload); err != nil {
			return 0, failure.Protocol(fmt.Errorf("encode cloudevent: %w", err))
		}
	} else {
		req.Body = io.NopCloser(bytes.NewReader(payload))
		req.ContentLength = int64(len(payload))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
		req.Header.Set("Content-Type", "application/json")
	}

	// Static headers first, then per-delivery headers.
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}
	out := correlation.AddToHeaders(maps.Clone(headers), runID)
	tracing.Inject(ctx, out)
	for k, v := range out {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, failure.Transport(fmt.Errorf("POST webhook: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, failure.Protocol(&StatusError{Code: resp.StatusCode})
	}
	return resp.StatusCode, nil
}

func writeEvent(ctx context.Context, req *http.Request, runID string, payload []byte) error {
	e := event.New()
	e.SetID(runID)
	e.SetSource(EventSource)
	e.SetType(EventType)
	e.SetTime(time.Now())
	if err := e.SetData(event.ApplicationJSON, payload); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	return cehttp.WriteRequest(ctx, binding.ToMessage(&e), req)
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned http status %d", e.Code)
}
