package bus

import (
	"context"
	"strings"
)

// Inbound message topics. Every message the core sends to the surface is
// published under TopicInbound; the suffix is the message tag with spaces
// replaced by underscores.
const (
	TopicInbound = "inbound."

	TopicInboundKeys  = TopicInbound + "key_event"
	TopicInboundFiles = TopicInbound + "file_"
)

// InboundTopic returns the topic for an inbound message tag.
func InboundTopic(tag string) string {
	return TopicInbound + strings.ReplaceAll(strings.TrimSpace(tag), " ", "_")
}

// Tagged is a message that names its own wire tag.
type Tagged interface {
	Tag() string
}

// PublishTagged publishes msg under InboundTopic(msg.Tag()). A full
// subscriber misses it; use it only for events that may be dropped.
func (b *Bus) PublishTagged(msg Tagged) int {
	return b.Publish(InboundTopic(msg.Tag()), msg)
}

// DeliverTagged delivers msg under InboundTopic(msg.Tag()) without dropping
// it for a slow subscriber.
func (b *Bus) DeliverTagged(ctx context.Context, msg Tagged) int {
	return b.Deliver(ctx, InboundTopic(msg.Tag()), msg)
}
