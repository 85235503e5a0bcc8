// Package bus defines the Message Bus Adapter contract (spec.md §4.A): a
// JetStream-shaped publish/subscribe fabric with at-least-once delivery,
// explicit acknowledgement, durable consumers, and last-message-per-subject
// retrieval. Two implementations satisfy Adapter: nats_adapter.go (real
// JetStream, for devices and backend services) and memory_adapter.go (an
// in-process double for tests and --dry-run CLI runs).
package bus

import (
	"context"
	"errors"
	"time"
)

// DeliverPolicy selects where in a stream a newly created consumer begins
// delivery, mirroring the JetStream policies the core actually uses.
type DeliverPolicy int

const (
	// DeliverNew delivers only messages published after consumer creation.
	DeliverNew DeliverPolicy = iota
	// DeliverLastPerSubject delivers the single most recent message for
	// each subject matching the consumer's filter, then continues live.
	DeliverLastPerSubject
)

func (p DeliverPolicy) String() string {
	if p == DeliverLastPerSubject {
		return "last_per_subject"
	}
	return "new"
}

// ErrNotFound is returned by GetLast when the stream has no message
// matching the filter subject. Per spec.md §4.A this is a first-class
// result, not a fault — callers must not treat it as fatal.
var ErrNotFound = errors.New("bus: not found")

// AckKind is the terminal disposition a handler gives a delivered message.
type AckKind int

const (
	AckAck AckKind = iota
	AckNak
	AckTerm
)

// Msg is a single delivered message together with its ack handle. A
// message not acknowledged within the consumer's ack_wait is redelivered;
// handlers must therefore be idempotent (spec.md §7).
type Msg struct {
	Subject string
	Data    []byte

	ack func(AckKind) error
}

// Ack acknowledges successful processing, stopping redelivery.
func (m *Msg) Ack() error { return m.ack(AckAck) }

// Nack asks for redelivery (processing failed but may succeed on retry).
func (m *Msg) Nack() error { return m.ack(AckNak) }

// Term terminates the message permanently (e.g. undecodable payload);
// it is never redelivered.
func (m *Msg) Term() error { return m.ack(AckTerm) }

// Handler processes one delivered message. It must ack/nack/term the
// message; it must not block past the consumer's ack_wait.
type Handler func(*Msg)

// ConsumerHandle identifies a durable consumer created by CreateConsumer.
// It becomes invalid on disconnect (spec.md §4.A); using an invalidated
// handle with DeleteConsumer is a no-op, never an error.
type ConsumerHandle interface {
	Subject() string
}

// Adapter is the Message Bus Adapter contract (spec.md §4.A).
type Adapter interface {
	// Connect establishes (or re-establishes) the bus connection. It
	// blocks until connected or ctx is done.
	Connect(ctx context.Context) error
	IsConnected() bool

	Publish(ctx context.Context, subject string, payload []byte) error

	// CreateConsumer creates a durable consumer on stream, filtered to
	// filterSubject, and delivers matching messages to h until the
	// returned handle is deleted or the connection is lost.
	CreateConsumer(ctx context.Context, stream, filterSubject string, policy DeliverPolicy, ackWait time.Duration, h Handler) (ConsumerHandle, error)
	DeleteConsumer(h ConsumerHandle) error

	// GetLast fetches the most recent message for filterSubject on
	// stream. It returns ErrNotFound (not an error wrapping it) when
	// none exists.
	GetLast(ctx context.Context, stream, filterSubject string) ([]byte, error)

	// OnConnect/OnDisconnect register lifecycle hooks. OnDisconnect's
	// argument is the triggering error, if any.
	OnConnect(func())
	OnDisconnect(func(error))
}

// Streams mirrors the logical retention buckets of spec.md §6.
const (
	StreamLogs       = "logs"
	StreamAlerts     = "alerts"
	StreamStatus     = "status"
	StreamCommands   = "commands"
	StreamHeartbeats = "heartbeats"
	StreamSettings   = "settings"
)

// StreamForSubject returns the stream that retains subject, by prefix.
func StreamForSubject(subject string) (stream string, ok bool) {
	switch {
	case hasPrefix(subject, "log."):
		return StreamLogs, true
	case hasPrefix(subject, "alert."):
		return StreamAlerts, true
	case hasPrefix(subject, "status."):
		return StreamStatus, true
	case hasPrefix(subject, "hb."):
		return StreamHeartbeats, true
	case hasPrefix(subject, "settings."):
		return StreamSettings, true
	case hasPrefix(subject, "cmd."):
		return StreamCommands, true
	default:
		return "", false
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
