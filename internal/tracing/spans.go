package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrRunID      = "rolewatch.run.id"
	AttrTenantID   = "rolewatch.tenant.id"
	AttrRoleName   = "rolewatch.role.name"
	AttrRoleCount  = "rolewatch.role.count"
	AttrRecords    = "rolewatch.records"
	AttrCredential = "rolewatch.credential"
	AttrSinkName   = "rolewatch.sink"
	AttrHTTPTarget = "http.target"
	AttrHTTPStatus = "http.status_code"
	AttrErrorKind  = "error.type"
)

// Span names.
const (
	SpanRun         = "rolewatch.run"
	SpanCredentials = "rolewatch.credentials"
	SpanRoles       = "rolewatch.roles"
	SpanMembers     = "rolewatch.members"
	SpanGraphFetch  = "graph.fetch"
	SpanDeliver     = "rolewatch.deliver"
)

// StartSpan starts a new span with the given name and options.
// If tracer is nil, returns the span already in ctx.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// SetSpanError records an error on the span and sets the status to Error.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK sets the span status to Ok.
func SetSpanOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

func RunIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrRunID, id)
}

func TenantAttr(id string) attribute.KeyValue {
	return attribute.String(AttrTenantID, id)
}

func RoleNameAttr(name string) attribute.KeyValue {
	return attribute.String(AttrRoleName, name)
}

func RoleCountAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrRoleCount, n)
}

func RecordsAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrRecords, n)
}

func CredentialAttr(name string) attribute.KeyValue {
	return attribute.String(AttrCredential, name)
}

func SinkAttr(name string) attribute.KeyValue {
	return attribute.String(AttrSinkName, name)
}

func HTTPTargetAttr(url string) attribute.KeyValue {
	return attribute.String(AttrHTTPTarget, url)
}

func HTTPStatusAttr(status int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, status)
}

func ErrorKindAttr(kind string) attribute.KeyValue {
	return attribute.String(AttrErrorKind, kind)
}
