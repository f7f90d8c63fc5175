package domain

import (
	"context"
)

// EventBus carries catalogue change notifications between nodes and
// asynchronous diagnose requests to workers. Every call names a scope: a
// catalogue ID, or ScopeGlobal for traffic that concerns all catalogues.
type EventBus interface {
	Publish(ctx context.Context, scope string, topic string, payload []byte) error
	Subscribe(ctx context.Context, scope string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes payload and blocks until a subscriber calls Reply
	// or ctx is done.
	Request(ctx context.Context, scope string, topic string, payload []byte) ([]byte, error)

	// Reply answers msg. msg must carry MetadataReplyTo.
	Reply(ctx context.Context, msg *Message, payload []byte) error

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message. A returned error is
// logged by the bus; delivery is not retried.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope delivered to subscribers.
type Message struct {
	ID        string            `json:"id"`
	Scope     string            `json:"scope"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// MetadataReplyTo names the reply destination of a request message.
const MetadataReplyTo = "reply_to"

type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects the bus. Type is "channel" (single process) or
// "nats".
type EventBusConfig struct {
	Type string

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// ScopeGlobal is the scope of catalogue-wide events and of requests that
// name their catalogue in the payload.
const ScopeGlobal = "_global"

// Standard topic names.
const (
	TopicCatalogueUpdated   = "kestrel.catalogue.updated"
	TopicDiagnosisRequest   = "kestrel.diagnosis.request"
	TopicDiagnosisCompleted = "kestrel.diagnosis.completed"
)
