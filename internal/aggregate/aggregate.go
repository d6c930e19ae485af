// Package aggregate runs the two-stage role membership fetch and merges the
// results into a single dataset.
package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/lsm/rolewatch/internal/auth"
	"github.com/lsm/rolewatch/internal/dataset"
	"github.com/lsm/rolewatch/internal/failure"
	"github.com/lsm/rolewatch/internal/filter"
	"github.com/lsm/rolewatch/internal/graph"
	"github.com/lsm/rolewatch/internal/tracing"
)

// CredentialResolver turns a credential spec into request headers.
type CredentialResolver interface {
	Resolve(ctx context.Context, spec auth.Spec) (auth.Header, error)
}

// Fetcher reads directory roles and role members.
type Fetcher interface {
	ListRoles(ctx context.Context, h auth.Header) ([]graph.Role, error)
	MembersURL(roleID string) string
	Fetch(ctx context.Context, h auth.Header, url, tag string) (graph.Result, error)
}

// Config holds aggregator configuration.
type Config struct {
	// Credential is resolved once per run and shared by every fetch.
	Credential auth.Spec
	// MaxConcurrency bounds in-flight member fetches. Zero means unbounded.
	MaxConcurrency int
	// Filter, when set, drops records after the merge.
	Filter *filter.Filter
}

// Result is the outcome of a successful aggregation.
type Result struct {
	Dataset *dataset.Dataset
	Roles   []graph.Role
	// Fetched is the record count before filtering.
	Fetched int
}

// Aggregator orchestrates credentials → roles → members → merge.
type Aggregator struct {
	config   Config
	resolver CredentialResolver
	fetcher  Fetcher
	tracer   trace.Tracer
	logger   *slog.Logger
}

// New creates an Aggregator.
func New(cfg Config, resolver CredentialResolver, fetcher Fetcher) *Aggregator {
	return &Aggregator{
		config:   cfg,
		resolver: resolver,
		fetcher:  fetcher,
		tracer:   noop.NewTracerProvider().Tracer("aggregate"),
		logger:   slog.Default(),
	}
}

// SetTracer sets the tracer for stage spans.
func (a *Aggregator) SetTracer(tracer trace.Tracer) {
	a.tracer = tracer
}

// SetLogger sets the logger.
func (a *Aggregator) SetLogger(logger *slog.Logger) {
	a.logger = logger
}

// Run performs one aggregation. Any failure aborts the whole run and is
// returned as a *failure.Error naming the stage and, for member fetches, the
// role. No dataset is returned alongside an error.
func (a *Aggregator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	h, err := a.resolveCredential(ctx)
	if err != nil {
		return nil, err
	}

	roles, err := a.listRoles(ctx, h)
	if err != nil {
		return nil, err
	}

	records, err := a.fetchMembers(ctx, h, roles)
	if err != nil {
		return nil, err
	}
	fetched := len(records)

	if a.config.Filter != nil {
		records, err = a.config.Filter.Apply(ctx, records)
		if err != nil {
			return nil, failure.Configuration("apply filter: %w", err)
		}
		a.logger.Debug("filter applied", "expr", a.config.Filter.String(), "kept", len(records), "fetched", fetched)
	}

	ds := dataset.New(records)
	a.logger.Info("aggregation complete",
		"roles", len(roles),
		"records", ds.Len(),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &Result{Dataset: ds, Roles: roles, Fetched: fetched}, nil
}

func (a *Aggregator) resolveCredential(ctx context.Context) (auth.Header, error) {
	ctx, span := tracing.StartSpan(ctx, a.tracer, tracing.SpanCredentials,
		trace.WithAttributes(tracing.CredentialAttr(a.config.Credential.Name)),
	)
	defer span.End()

	h, err := a.resolver.Resolve(ctx, a.config.Credential)
	if err != nil {
		err = failure.At(err, failure.StageCredentials, "")
		tracing.SetSpanError(span, err)
		return auth.Header{}, err
	}
	tracing.SetSpanOK(span)
	return h, nil
}

func (a *Aggregator) listRoles(ctx context.Context, h auth.Header) ([]graph.Role, error) {
	ctx, span := tracing.StartSpan(ctx, a.tracer, tracing.SpanRoles)
	defer span.End()

	roles, err := a.fetcher.ListRoles(ctx, h)
	if err != nil {
		err = failure.At(err, failure.StageRoles, "")
		tracing.SetSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(tracing.RoleCountAttr(len(roles)))
	tracing.SetSpanOK(span)
	a.logger.Debug("roles listed", "count", len(roles))
	return roles, nil
}

// fetchMembers issues one member fetch per role concurrently. Records are
// appended in fetch-completion order. The first failure cancels the remaining
// fetches and their results are discarded.
func (a *Aggregator) fetchMembers(ctx context.Context, h auth.Header, roles []graph.Role) ([]dataset.MemberRecord, error) {
	ctx, span := tracing.StartSpan(ctx, a.tracer, tracing.SpanMembers,
		trace.WithAttributes(tracing.RoleCountAttr(len(roles))),
	)
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	if a.config.MaxConcurrency > 0 {
		g.SetLimit(a.config.MaxConcurrency)
	}

	var (
		mu      sync.Mutex
		records []dataset.MemberRecord
	)
	for _, role := range roles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return failure.At(failure.Transport(err), failure.StageMembers, role.DisplayName)
			}
			res, err := a.fetcher.Fetch(gctx, h, a.fetcher.MembersURL(role.ID), role.DisplayName)
			if err != nil {
				return failure.At(err, failure.StageMembers, role.DisplayName)
			}
			batch, err := stamp(res)
			if err != nil {
				return failure.At(err, failure.StageMembers, role.DisplayName)
			}

			mu.Lock()
			records = append(records, batch...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		tracing.SetSpanError(span, err)
		a.logger.Error("member fetch failed", "error", err)
		return nil, err
	}
	span.SetAttributes(tracing.RecordsAttr(len(records)))
	tracing.SetSpanOK(span)
	return records, nil
}

// stamp converts a member fetch result into records carrying the fetch tag as
// their role.
func stamp(res graph.Result) ([]dataset.MemberRecord, error) {
	members, err := graph.DecodeItems[graph.Member](res.Items)
	if err != nil {
		return nil, err
	}
	out := make([]dataset.MemberRecord, len(members))
	for i, m := range members {
		out[i] = dataset.MemberRecord{
			UserPrincipalName: m.UserPrincipalName,
			DisplayName:       m.DisplayName,
			Roles:             res.Tag,
			JobTitle:          m.JobTitle,
			Description:       m.Description,
			ID:                m.ID,
		}
	}
	return out, nil
}
