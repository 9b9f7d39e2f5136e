package business

import (
	"context"
	"errors"

	"github.com/pitabwire/frame/data"
)

// Sentinel errors for fast equality checks with errors.Is().
var (
	ErrConnectionPoolFull = errors.New("connection pool full")
	ErrShuttingDown       = errors.New("connection manager is shutting down")
	ErrInvalidInput       = errors.New("connection id is required")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrDispatchFull       = errors.New("connection dispatch queue full")
)

// Transport abstracts the bidirectional wire for a single client session.
// The WebSocket implementation lives in the handlers package; tests substitute
// in-memory fakes.
type Transport interface {
	Receive() ([]byte, error)
	Send(payload []byte) error
	Close() error
}

// Metadata is the per-connection bookkeeping owned by the registry.
type Metadata struct {
	ConnectionID string `json:"connection_id"`
	UserName     string `json:"user_name,omitempty"`
	Role         string `json:"role,omitempty"`
	Connected    int64  `json:"connected"`   // Unix timestamp
	GatewayID    string `json:"gateway_id"`  // Which gateway instance owns this connection
	LastActive   int64  `json:"last_active"` // Unix timestamp, refreshed on inbound frames
}

func (m *Metadata) Key() string {
	return m.ConnectionID
}

// Connection is one live client session. The registry is the sole owner;
// the topic index and identity map reference it by id only.
type Connection interface {
	Metadata() *Metadata

	// Receive blocks until the next inbound frame or a transport error.
	Receive() ([]byte, error)
	// Send writes directly to the transport. Only the connection's writer
	// goroutine may call it.
	Send(payload []byte) error

	// Dispatch enqueues an outbound payload for the writer goroutine.
	// Returns false when the connection is closed or its queue is full.
	Dispatch(payload []byte) bool
	// ConsumeDispatch blocks for the next queued payload. Returns nil when the
	// context is cancelled or the connection is closed.
	ConsumeDispatch(ctx context.Context) []byte

	// AllowInbound reports whether the inbound rate limit permits another frame.
	AllowInbound() bool

	Touch()
	LastActive() int64
	IsClosed() bool
	Close()
}

// Notification is a domain event bound for a topic's subscribers.
// SourceClientID, when set, names the acting client so its own connection can
// be excluded from delivery.
type Notification struct {
	Topic          string
	Data           data.JSONMap
	SourceClientID string
}

// ConnectionManager coordinates the connection registry, topic subscription
// index, client identity map and broadcast fan-out.
type ConnectionManager interface {
	// HandleConnection runs the control protocol for one connection and blocks
	// until the transport closes, the context is cancelled or the manager
	// shuts down. Cleanup from all indexes is cascaded on exit.
	HandleConnection(ctx context.Context, metadata *Metadata, transport Transport) error

	// Publish fans a notification out to the topic's current subscribers and
	// returns the number of connections the envelope was delivered to.
	Publish(ctx context.Context, notification Notification) int

	ActiveConnections() int32
	DrainConnections(ctx context.Context)
	Shutdown(ctx context.Context) error
}
