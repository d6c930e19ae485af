package correlation

import (
	"context"

	"github.com/google/uuid"
)

const (
	// HeaderRunID carries the run ID on every delivery.
	HeaderRunID = "x-rolewatch-run-id"
	// HeaderRequestID is the upstream request id header Graph echoes in errors.
	HeaderRequestID = "client-request-id"
)

type runIDKey struct{}

// NewRunID generates a run ID.
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID returns a context carrying id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run ID stored in ctx, or "" if none.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// FromHeaders returns the run ID in headers, generating one if it is absent
// or not a valid UUID.
func FromHeaders(headers map[string]string) string {
	if id := headers[HeaderRunID]; id != "" {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}
	return NewRunID()
}

// AddToHeaders sets the run ID on headers (creates map if nil).
func AddToHeaders(headers map[string]string, id string) map[string]string {
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	headers[HeaderRunID] = id
	return headers
}
