package domain

import (
	"context"
	"time"
)

// ChannelTelegram is the transport name encoded in Telegram routing keys.
const ChannelTelegram = "telegram"

// InboundMessage is a message received from a chat transport and addressed
// to one instance.
type InboundMessage struct {
	ID             string            `json:"id"`
	InstanceID     string            `json:"instance_id"`
	Channel        string            `json:"channel"`
	SenderID       string            `json:"sender_id"`
	ConversationID string            `json:"conversation_id"`
	RoutingKey     RoutingKey        `json:"routing_key"`
	Content        string            `json:"content"`
	Media          []string          `json:"media,omitempty"` // local file paths
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// OutboundMessage is an agent reply travelling back to the transport.
// RoutingKey is copied unchanged from the InboundMessage it answers.
type OutboundMessage struct {
	ID         string            `json:"id"`
	InstanceID string            `json:"instance_id"`
	RoutingKey RoutingKey        `json:"routing_key"`
	Content    string            `json:"content"`
	ReplyTo    string            `json:"reply_to,omitempty"`
	IsError    bool              `json:"is_error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ChatEndpoint is the view of an instance the channel router works with.
type ChatEndpoint interface {
	ID() string
	DisplayName() string
	TelegramToken() string
	// AllowFrom lists permitted senders as "id" or "id|username". Empty
	// allows everyone.
	AllowFrom() []string
	ProcessMessage(ctx context.Context, msg InboundMessage) error
}

// EndpointRegistry resolves instances by id. The router holds it for
// lookup only; instances are owned elsewhere.
type EndpointRegistry interface {
	Endpoint(id string) (ChatEndpoint, bool)
	Endpoints() []ChatEndpoint
}
