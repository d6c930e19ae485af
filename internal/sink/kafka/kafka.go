// Package kafka publishes the run summary to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lsm/rolewatch/internal/correlation"
	"github.com/lsm/rolewatch/internal/failure"
	"github.com/lsm/rolewatch/internal/tracing"
)

// The summary carries a full HTML report and an image, so it is well above
// the franz-go default batch size.
const maxPayloadBytes = 16 << 20

// producer is the subset of *kgo.Client the sink uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Sink publishes each payload as one record keyed by run ID.
type Sink struct {
	client producer
	topic  string
	logger *slog.Logger
	tracer trace.Tracer
}

// NewSink connects a producer for cfg.
func NewSink(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	opts, err := ClientOptions(&cfg)
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return newSink(client, cfg.Topic), nil
}

func newSink(client producer, topic string) *Sink {
	return &Sink{
		client: client,
		topic:  topic,
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("kafka-sink"),
	}
}

// SetTracer sets the tracer for the sink.
func (s *Sink) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// SetLogger sets the logger.
func (s *Sink) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Deliver produces payload synchronously. Kafka has no response status, so
// the returned status is always zero.
func (s *Sink) Deliver(ctx context.Context, payload []byte, headers map[string]string) (int, error) {
	start := time.Now()
	runID := correlation.FromHeaders(headers)

	ctx, span := tracing.StartSpan(ctx, s.tracer, tracing.SpanDeliver,
		trace.WithAttributes(
			tracing.SinkAttr("kafka"),
			tracing.RunIDAttr(runID),
		),
	)
	defer span.End()

	headers = correlation.AddToHeaders(maps.Clone(headers), runID)
	tracing.Inject(ctx, headers)

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(runID),
		Value: payload,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		err = failure.At(failure.Transport(fmt.Errorf("kafka publish to %s: %w", s.topic, err)), failure.StageDelivery, "")
		tracing.SetSpanError(span, err)
		s.logger.Error("delivery failed", "run_id", runID, "target", s.topic, "error", err)
		return 0, err
	}

	tracing.SetSpanOK(span)
	s.logger.Info("summary published",
		"run_id", runID,
		"target", s.topic,
		"bytes", len(payload),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return 0, nil
}

// Close flushes and shuts down the producer.
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}
