package domain

import (
	"context"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageInbound  EventType = "message.inbound"
	EventMessageOutbound EventType = "message.outbound"
)

// Event is the envelope published on the shared bus. Exactly one of Inbound
// or Outbound is set, matching Type.
type Event struct {
	ID         string           `json:"id"`
	Type       EventType        `json:"type"`
	InstanceID string           `json:"instance_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Inbound    *InboundMessage  `json:"inbound,omitempty"`
	Outbound   *OutboundMessage `json:"outbound,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus carries inbound and outbound message events between the channel
// layer and instance agent loops.
type EventBus interface {
	// Publish enqueues an event for every matching subscriber.
	Publish(ctx context.Context, event Event) error
	// Subscribe registers a handler for events of the given type. An empty
	// instanceID receives events for every instance. Handlers of one
	// subscription are invoked sequentially in publish order.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, instanceID string, handler EventHandler) func()
	// Close stops accepting events and drains queued deliveries.
	Close()
}
