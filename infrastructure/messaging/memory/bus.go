// Package memory is an in-process event bus. Published events are queued and
// delivered by Drain in publish order, after a JSON round trip, the same way the
// queues deliver EventBridge details to the processors.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/events"
)

// Handler consumes one delivered event.
type Handler func(ctx context.Context, detailType string, detail json.RawMessage) error

type envelope struct {
	detailType string
	detail     json.RawMessage
}

// Bus implements ports.EventPublisher in memory. It is safe for concurrent use.
type Bus struct {
	mu        sync.Mutex
	published []events.DomainEvent
	pending   []envelope
	handlers  map[string][]Handler
	logger    *zap.Logger
}

// NewBus creates an empty bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{handlers: make(map[string][]Handler), logger: logger}
}

// Compile-time interface check
var _ ports.EventPublisher = (*Bus)(nil)

// Publish queues one event
func (b *Bus) Publish(ctx context.Context, event events.DomainEvent) error {
	return b.PublishBatch(ctx, []events.DomainEvent{event})
}

// PublishBatch queues events in order
func (b *Bus) PublishBatch(_ context.Context, domainEvents []events.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, event := range domainEvents {
		detail, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", event.GetEventType(), err)
		}
		b.published = append(b.published, event)
		b.pending = append(b.pending, envelope{detailType: event.GetEventType(), detail: detail})
	}
	return nil
}

// Subscribe registers a handler for one detail-type
func (b *Bus) Subscribe(detailType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[detailType] = append(b.handlers[detailType], handler)
}

// Drain delivers queued events, including events published by handlers, until
// the queue is empty. Handler errors are logged and do not stop delivery; the
// first one is returned.
func (b *Bus) Drain(ctx context.Context) error {
	var firstErr error
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return firstErr
		}
		next := b.pending[0]
		b.pending = b.pending[1:]
		handlers := append([]Handler(nil), b.handlers[next.detailType]...)
		b.mu.Unlock()

		for _, handle := range handlers {
			if err := handle(ctx, next.detailType, next.detail); err != nil {
				b.logger.Error("Event handler failed",
					zap.String("detailType", next.detailType),
					zap.Error(err),
				)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
}

// Published returns every event published so far
func (b *Bus) Published() []events.DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.DomainEvent(nil), b.published...)
}

// PublishedOfType returns the published events with the given detail-type
func (b *Bus) PublishedOfType(detailType string) []events.DomainEvent {
	var out []events.DomainEvent
	for _, e := range b.Published() {
		if e.GetEventType() == detailType {
			out = append(out, e)
		}
	}
	return out
}
