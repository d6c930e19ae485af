// Package graph fetches directory data from Microsoft Graph style endpoints.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lsm/rolewatch/internal/auth"
	"github.com/lsm/rolewatch/internal/correlation"
	"github.com/lsm/rolewatch/internal/failure"
	"github.com/lsm/rolewatch/internal/observability"
	"github.com/lsm/rolewatch/internal/tracing"
)

const (
	// DefaultBaseURL is the Graph v1.0 root.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	defaultTimeout  = 30 * time.Second
	maxResponseBody = 64 << 20
)

// Result is one decoded response envelope. Tag is whatever the caller passed to
// Fetch and is returned untouched.
type Result struct {
	Items []json.RawMessage
	Tag   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithTracer sets the tracer used for fetch spans.
func WithTracer(t trace.Tracer) Option {
	return func(cl *Client) { cl.tracer = t }
}

// WithMetrics records fetch latencies.
func WithMetrics(m *observability.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// Client issues authenticated GET requests and decodes `{"value": [...]}`
// envelopes. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	tracer  trace.Tracer
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient creates a client rooted at baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
		tracer:  noop.NewTracerProvider().Tracer("graph"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   c.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return c
}

// HTTPClient returns the shared HTTP client, for reuse by token exchanges.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// RolesURL is the directory roles listing endpoint.
func (c *Client) RolesURL() string {
	return c.baseURL + "/directoryRoles"
}

// MembersURL is the members endpoint of one directory role.
func (c *Client) MembersURL(roleID string) string {
	return c.baseURL + "/directoryRoles/" + url.PathEscape(roleID) + "/members"
}

// Fetch GETs target with the given header and returns the items of the response's
// value array along with tag.
func (c *Client) Fetch(ctx context.Context, h auth.Header, target, tag string) (Result, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, c.tracer, tracing.SpanGraphFetch,
		trace.WithAttributes(tracing.HTTPTargetAttr(target)),
	)
	defer span.End()

	items, err := c.fetch(ctx, h, target)
	c.observe(start, err)
	if err != nil {
		tracing.SetSpanError(span, err)
		c.logger.Debug("fetch failed", "url", target, "error", err)
		return Result{}, err
	}

	tracing.SetSpanOK(span)
	c.logger.Debug("fetched", "url", target, "items", len(items), "latency_ms", time.Since(start).Milliseconds())
	return Result{Items: items, Tag: tag}, nil
}

func (c *Client) fetch(ctx context.Context, h auth.Header, target string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, failure.Protocol(fmt.Errorf("create request: %w", err))
	}
	h.Apply(req.Header)
	req.Header.Set("Accept", "application/json")
	if id := correlation.RunID(ctx); id != "" {
		req.Header.Set(correlation.HeaderRequestID, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, failure.Transport(fmt.Errorf("GET %s: %w", target, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, failure.Transport(fmt.Errorf("read response from %s: %w", target, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, failure.Protocol(&StatusError{Code: resp.StatusCode, Message: graphErrorMessage(body)})
	}

	return decodeEnvelope(body)
}

func decodeEnvelope(body []byte) ([]json.RawMessage, error) {
	var env struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, failure.Protocol(fmt.Errorf("decode response: %w", err))
	}
	if len(env.Value) == 0 || string(env.Value) == "null" {
		return nil, failure.Protocol(errors.New("response has no value array"))
	}
	var items []json.RawMessage
	if err := json.Unmarshal(env.Value, &items); err != nil {
		return nil, failure.Protocol(fmt.Errorf("value is not an array: %w", err))
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

func (c *Client) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = failure.KindOf(err).String()
	}
	c.metrics.FetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// graphErrorMessage extracts error.message from a Graph error body.
func graphErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Code != "" {
		return e.Error.Code + ": " + e.Error.Message
	}
	return ""
}

// StatusError represents an upstream response with a non-2xx status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("http status %d", e.Code)
}
