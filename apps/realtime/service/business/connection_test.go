package business //nolint:testpackage // Tests need access to unexported rate limiter and connection internals

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Token Bucket Tests ---

func TestTokenBucket_InitialBurst(t *testing.T) {
	tb := newTokenBucket(100, 20)

	// Should allow up to burst capacity immediately
	for i := range 20 {
		assert.True(t, tb.Allow(), "request %d should be allowed within burst", i)
	}

	// Next request should be denied (tokens exhausted)
	assert.False(t, tb.Allow(), "should deny when tokens exhausted")
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := newTokenBucket(100, 5) // 100 tokens/sec, burst of 5

	// Exhaust all tokens
	for range 5 {
		tb.Allow()
	}
	assert.False(t, tb.Allow())

	// Wait for refill (100 tokens/sec = 1 token per 10ms)
	time.Sleep(50 * time.Millisecond)

	// Should have refilled some tokens
	assert.True(t, tb.Allow(), "should have tokens after waiting")
}

func TestTokenBucket_DoesNotExceedBurst(t *testing.T) {
	tb := newTokenBucket(1000, 5) // High rate but low burst

	// Wait to accumulate tokens
	time.Sleep(100 * time.Millisecond)

	// Should still be capped at burst size
	allowed := 0
	for range 10 {
		if tb.Allow() {
			allowed++
		}
	}

	assert.LessOrEqual(t, allowed, 5, "should not exceed burst capacity")
}

func TestTokenBucket_ZeroRate(t *testing.T) {
	tb := newTokenBucket(0, 0)

	// Should deny immediately with zero tokens and zero refill
	assert.False(t, tb.Allow())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, tb.Allow(), "should still deny with zero refill rate")
}

func TestTokenBucket_ConcurrentAccess(t *testing.T) {
	tb := newTokenBucket(1000, 100)

	var wg sync.WaitGroup
	allowed := make([]int, 10)

	wg.Add(10)
	for g := range 10 {
		go func(id int) {
			defer wg.Done()
			for range 50 {
				if tb.Allow() {
					allowed[id]++
				}
			}
		}(g)
	}

	wg.Wait()

	total := 0
	for _, a := range allowed {
		total += a
	}

	// 10 goroutines x 50 calls = 500 total calls, burst=100 plus some refill
	assert.GreaterOrEqual(t, total, 100, "should allow at least burst capacity")
	assert.LessOrEqual(t, total, 500, "should not exceed total calls")
}

// --- Connection Tests ---

func TestConnection_New(t *testing.T) {
	meta := &Metadata{ConnectionID: "conn1", UserName: "ana"}
	conn := NewConnection(nil, meta, 0)

	require.NotNil(t, conn)
	assert.Equal(t, meta, conn.Metadata())
	assert.Equal(t, "conn1", conn.Metadata().ConnectionID)
	assert.Equal(t, "ana", conn.Metadata().UserName)
}

func TestConnection_Dispatch(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0)

	ok := conn.Dispatch([]byte(`{"type":"notification"}`))
	assert.True(t, ok)
}

func TestConnection_DispatchAndConsume(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0)

	payload := []byte(`{"type":"pong"}`)
	ok := conn.Dispatch(payload)
	require.True(t, ok)

	received := conn.ConsumeDispatch(context.Background())
	require.NotNil(t, received)
	assert.Equal(t, payload, received)
}

func TestConnection_ConsumeDispatch_CancelledContext(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	received := conn.ConsumeDispatch(ctx)
	assert.Nil(t, received)
}

func TestConnection_ConsumeDispatch_Closed(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0)

	conn.Close()

	received := conn.ConsumeDispatch(context.Background())
	assert.Nil(t, received)
}

func TestConnection_DispatchFull(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0)

	// Fill the queue
	for i := range dispatchChannelSize {
		ok := conn.Dispatch([]byte(fmt.Sprintf(`{"seq":%d}`, i)))
		require.True(t, ok, "dispatch %d should succeed", i)
	}

	// Next dispatch should fail
	ok := conn.Dispatch([]byte(`{"seq":"overflow"}`))
	assert.False(t, ok, "dispatch should fail when queue is full")
}

func TestConnection_DispatchAfterClose(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0)

	conn.Close()

	ok := conn.Dispatch([]byte(`{"type":"notification"}`))
	assert.False(t, ok, "dispatch to a closed connection should fail")
}

func TestConnection_AllowInbound(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 100)

	// Should allow up to burst
	for range rateLimitBurst {
		assert.True(t, conn.AllowInbound())
	}

	// Should deny after burst exhausted
	assert.False(t, conn.AllowInbound())
}

func TestConnection_AllowInbound_Unlimited(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0)

	// Zero rate disables limiting entirely
	for range rateLimitBurst * 10 {
		assert.True(t, conn.AllowInbound())
	}
}

func TestConnection_RateLimitedCount(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 100).(*connection)

	// Exhaust burst
	for range rateLimitBurst {
		conn.AllowInbound()
	}

	assert.Equal(t, uint64(0), conn.RateLimitedCount())

	// These should be rate limited
	conn.AllowInbound()
	conn.AllowInbound()
	conn.AllowInbound()

	assert.Equal(t, uint64(3), conn.RateLimitedCount())
}

func TestConnection_DispatchedMessages(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0).(*connection)

	for i := range 5 {
		conn.Dispatch([]byte(fmt.Sprintf(`{"seq":%d}`, i)))
	}

	assert.Equal(t, uint64(5), conn.DispatchedMessages())
}

func TestConnection_DroppedMessages(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0).(*connection)

	// Fill the buffer
	for range dispatchChannelSize {
		conn.Dispatch([]byte(`{"fill":true}`))
	}

	// This should be dropped
	conn.Dispatch([]byte(`{"drop":true}`))

	assert.Equal(t, uint64(1), conn.DroppedMessages())
}

func TestConnection_Touch(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0)

	before := conn.LastActive()
	assert.Greater(t, before, int64(0))

	time.Sleep(1100 * time.Millisecond)
	conn.Touch()

	assert.Greater(t, conn.LastActive(), before)
}

func TestConnection_Close(t *testing.T) {
	conn := NewConnection(nil, &Metadata{ConnectionID: "conn1"}, 0)

	assert.False(t, conn.IsClosed())

	assert.NotPanics(t, func() {
		conn.Close()
	})
	assert.True(t, conn.IsClosed())

	// Idempotent
	assert.NotPanics(t, func() {
		conn.Close()
	})
}
