package business

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// dispatchChannelSize bounds the per-connection outbound queue. A full
	// queue marks the subscriber as slow and the message is dropped for it
	// rather than stalling the publisher.
	dispatchChannelSize = 64

	rateLimitBurst = 20
)

// connection wraps a transport with an outbound dispatch queue, an inbound
// rate limiter and activity tracking. Exclusively owned by the connection pool.
type connection struct {
	metadata  *Metadata
	transport Transport

	dispatchCh chan []byte

	limiter *tokenBucket

	lastActive atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool

	// Counters, atomic access only.
	dispatched  uint64
	dropped     uint64
	rateLimited uint64
}

// NewConnection creates a connection around the given transport.
// eventsPerSecond bounds inbound control frames; zero disables limiting.
func NewConnection(transport Transport, metadata *Metadata, eventsPerSecond int) Connection {
	c := &connection{
		metadata:   metadata,
		transport:  transport,
		dispatchCh: make(chan []byte, dispatchChannelSize),
	}
	if eventsPerSecond > 0 {
		c.limiter = newTokenBucket(float64(eventsPerSecond), rateLimitBurst)
	}
	c.lastActive.Store(time.Now().Unix())
	return c
}

func (c *connection) Metadata() *Metadata {
	return c.metadata
}

func (c *connection) Receive() ([]byte, error) {
	return c.transport.Receive()
}

func (c *connection) Send(payload []byte) error {
	return c.transport.Send(payload)
}

// Dispatch enqueues payload for the writer goroutine without blocking.
// Returns false if the connection is closed or the queue is full.
func (c *connection) Dispatch(payload []byte) (ok bool) {
	// Close() can race the channel send below; recover turns the
	// send-on-closed-channel panic into a clean failure.
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	if c.closed.Load() {
		return false
	}

	select {
	case c.dispatchCh <- payload:
		atomic.AddUint64(&c.dispatched, 1)
		return true
	default:
		atomic.AddUint64(&c.dropped, 1)
		return false
	}
}

func (c *connection) ConsumeDispatch(ctx context.Context) []byte {
	select {
	case <-ctx.Done():
		return nil
	case payload, open := <-c.dispatchCh:
		if !open {
			return nil
		}
		return payload
	}
}

func (c *connection) AllowInbound() bool {
	if c.limiter == nil {
		return true
	}
	allowed := c.limiter.Allow()
	if !allowed {
		atomic.AddUint64(&c.rateLimited, 1)
	}
	return allowed
}

func (c *connection) Touch() {
	c.lastActive.Store(time.Now().Unix())
}

func (c *connection) LastActive() int64 {
	return c.lastActive.Load()
}

func (c *connection) IsClosed() bool {
	return c.closed.Load()
}

// Close marks the connection closed, wakes the writer goroutine and closes the
// underlying transport so a blocked Receive returns. Idempotent.
func (c *connection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.dispatchCh)
		if c.transport != nil {
			_ = c.transport.Close()
		}
	})
}

func (c *connection) DispatchedMessages() uint64 {
	return atomic.LoadUint64(&c.dispatched)
}

func (c *connection) DroppedMessages() uint64 {
	return atomic.LoadUint64(&c.dropped)
}

func (c *connection) RateLimitedCount() uint64 {
	return atomic.LoadUint64(&c.rateLimited)
}

// tokenBucket is a simple mutex-guarded rate limiter: rate tokens per second
// with a fixed burst capacity.
type tokenBucket struct {
	mu       sync.Mutex
	rate     float64
	burst    float64
	tokens   float64
	lastFill time.Time
}

func newTokenBucket(rate float64, burst float64) *tokenBucket {
	return &tokenBucket{
		rate:     rate,
		burst:    burst,
		tokens:   burst,
		lastFill: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastFill).Seconds()
	tb.lastFill = now

	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.burst {
		tb.tokens = tb.burst
	}

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
