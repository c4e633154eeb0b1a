package eventing

import (
	"context"
)

// Message is a message received from the event bus
type Message interface {
	Subject() string
	Data() []byte
	Headers() Headers
}

// Headers carries message metadata and trace propagation fields
type Headers map[string]string

func (h Headers) Get(key string) string {
	return h[key]
}

func (h Headers) Set(key string, value string) {
	h[key] = value
}

func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

type MessageCallback func(ctx context.Context, msg Message)

type Subscriber interface {
	// Close stops the subscriber
	Close() error
}

type PublishOption func(*publishOptions)

type publishOptions struct {
	Headers [][]string
}

func WithHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		o.Headers = append(o.Headers, []string{key, value})
	}
}

// Client publishes and receives broadcast messages
type Client interface {
	// Publish publishes a message to every subscriber of subject
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error
	// Subscribe calls cb for every message published to subject until ctx is done or the subscriber is closed
	Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error)
	// Close closes the client
	Close() error
}
