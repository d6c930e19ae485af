// Package sink defines delivery targets for the run summary payload.
package sink

import "context"

// Sink delivers the summary payload of one run to a destination.
type Sink interface {
	// Deliver makes a single delivery attempt. The returned status is the
	// destination's response code where it has one (HTTP status for webhooks)
	// and zero otherwise. A non-nil error means the payload was not accepted.
	Deliver(ctx context.Context, payload []byte, headers map[string]string) (int, error)

	// Close releases the sink's connections.
	Close() error
}
