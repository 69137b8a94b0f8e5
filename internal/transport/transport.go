// Package transport carries telemetry messages from the vehicle software to
// the tuning node. The wire is JSON over named streams; the redis-streams
// backend is used in deployment and the in-memory backend in tests and
// single-process setups.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by publish and read calls once the transport has
// been closed. Consumers must treat it as terminal, not as a bad message.
var ErrClosed = errors.New("transport closed")

// MessageTransport abstracts the telemetry message bus.
type MessageTransport interface {
	// PublishJSON appends v to the named stream and returns the assigned
	// message ID.
	PublishJSON(ctx context.Context, stream string, v any) (string, error)

	// ReadJSON blocks for the first message after lastID on the named
	// stream, decodes it into v, and returns its ID. An empty lastID means
	// "only messages published from now on".
	ReadJSON(ctx context.Context, stream string, lastID string, v any) (string, error)

	Close() error
}
