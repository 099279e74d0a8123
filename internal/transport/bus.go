package transport

import (
	"context"
	"fmt"
	"sync"
)

// Bus is an in-process message hub: every endpoint registers under an
// address and sends resolve to direct handler dispatch. It exists for
// single-process swarms and tests; the delivery semantics (async,
// unordered relative to other senders, lossy on closed endpoints) mirror
// what a datagram network gives you.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{endpoints: make(map[string]*Endpoint)}
}

// Register attaches a new endpoint under an address. The handler runs on
// the endpoint's delivery goroutine, one message at a time.
func (b *Bus) Register(address string, handler Handler) (*Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[address]; ok {
		return nil, fmt.Errorf("transport: address %q already registered", address)
	}
	ep := &Endpoint{
		bus:     b,
		address: address,
		handler: handler,
		inbox:   make(chan envelope, 256),
		done:    make(chan struct{}),
	}
	b.endpoints[address] = ep
	go ep.deliverLoop()
	return ep, nil
}

func (b *Bus) lookup(address string) (*Endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ep, ok := b.endpoints[address]
	return ep, ok
}

func (b *Bus) remove(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, address)
}

type envelope struct {
	from string
	data []byte
}

// Endpoint is one bus attachment. It implements Transport for outbound
// sends and feeds inbound messages to its registered handler.
type Endpoint struct {
	bus     *Bus
	address string
	handler Handler

	inbox chan envelope

	closeOnce sync.Once
	done      chan struct{}
}

// Address returns the address this endpoint listens on.
func (e *Endpoint) Address() string {
	return e.address
}

// Send delivers data to another endpoint on the same bus.
func (e *Endpoint) Send(ctx context.Context, address string, data []byte) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	target, ok := e.bus.lookup(address)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAddress, address)
	}

	// Copy so the receiver owns its bytes.
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case target.inbox <- envelope{from: e.address, data: buf}:
		return nil
	case <-target.done:
		return fmt.Errorf("%w: %q", ErrUnknownAddress, address)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close detaches the endpoint from the bus and stops delivery.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.bus.remove(e.address)
		close(e.done)
	})
	return nil
}

func (e *Endpoint) deliverLoop() {
	for {
		select {
		case <-e.done:
			return
		case env := <-e.inbox:
			e.handler(env.from, env.data)
		}
	}
}
