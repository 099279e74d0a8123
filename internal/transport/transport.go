// Package transport defines the injected message-passing boundary between
// nodes. The sync core is transport-agnostic: it hands serialized
// messages to a Transport and receives inbound bytes through a handler,
// so the same node logic runs over an in-process bus in tests or a real
// network carrier in production.
package transport

import (
	"context"
	"errors"
)

// ErrUnknownAddress is returned when a send targets an address nothing is
// listening on.
var ErrUnknownAddress = errors.New("transport: unknown address")

// ErrClosed is returned after an endpoint has been closed.
var ErrClosed = errors.New("transport: closed")

// Handler consumes one inbound message. Implementations must not retain
// the byte slice past the call.
type Handler func(from string, data []byte)

// Transport sends serialized messages to peer addresses.
type Transport interface {
	// Send delivers data to the peer at address. Delivery is
	// best-effort: an error means the message certainly did not arrive,
	// success means it was accepted for delivery.
	Send(ctx context.Context, address string, data []byte) error

	// Close releases the endpoint. Subsequent sends fail with ErrClosed.
	Close() error
}
