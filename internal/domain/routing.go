package domain

import (
	"fmt"
	"strings"
)

// RoutingKey encodes "{transport}:{instance}:{conversation}". It is built when
// an inbound message arrives and travels unchanged to the outbound reply.
type RoutingKey string

// RouteParts is the decoded form of a RoutingKey.
type RouteParts struct {
	Transport      string
	InstanceID     string
	ConversationID string
}

// NewRoutingKey joins the three components. Transport and instance ids must
// not contain ':'; the conversation id may.
func NewRoutingKey(transport, instanceID, conversationID string) RoutingKey {
	return RoutingKey(transport + ":" + instanceID + ":" + conversationID)
}

// Parse decodes the key. Fewer than three segments, or an empty segment,
// yields ErrInvalidRoutingKey.
func (k RoutingKey) Parse() (RouteParts, error) {
	return ParseRoutingKey(string(k))
}

func (k RoutingKey) String() string { return string(k) }

// ParseRoutingKey splits s into at most three segments.
func ParseRoutingKey(s string) (RouteParts, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return RouteParts{}, fmt.Errorf("%w: %q has %d segments", ErrInvalidRoutingKey, s, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return RouteParts{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidRoutingKey, s)
		}
	}
	return RouteParts{Transport: parts[0], InstanceID: parts[1], ConversationID: parts[2]}, nil
}
