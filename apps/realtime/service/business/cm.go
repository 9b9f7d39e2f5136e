// Package business implements the real-time fan-out subsystem: the connection
// registry, topic subscription index, client identity map, control protocol
// loop and broadcast engine.
//
// Concurrency model: one goroutine pair (reader + writer) per live connection,
// plus arbitrary callers invoking Publish. The three shared indexes are each
// guarded by their own locks; sends never happen under a lock - delivery goes
// through per-connection buffered dispatch queues drained by the writer
// goroutines, so a slow subscriber cannot stall a Publish call.
package business

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/util"

	"github.com/hausops/service-realtime/internal/telemetry"
)

const (
	errorChannelBufferSize = 2 // reader + writer workers

	staleCheckInterval    = 30 * time.Second
	metricsReportInterval = 10 * time.Second
	drainPollInterval     = 100 * time.Millisecond
	shutdownWaitTimeout   = 30 * time.Second

	// A connection with no inbound frame for this many heartbeat intervals is
	// considered stale and closed by the sweeper.
	staleThresholdMultiplier = 3
)

type connectionManager struct {
	connPool *connectionPool
	topics   *topicRegistry
	identity *identityMap

	// Connection metadata mirrored into the shared cache so operators and
	// sibling instances can observe live connections. Nil when no cache is
	// configured.
	metaCache cache.Cache[string, Metadata]

	gatewayID string

	connectionTimeoutSec int
	heartbeatIntervalSec int
	maxEventsPerSecond   int

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	// Metrics, atomic access for lock-free reads.
	activeConns       int32
	totalConns        uint64
	failedConns       uint64
	disconnectedConns uint64
}

// NewConnectionManager creates the fan-out service and starts its background
// maintenance tasks (stale sweep, metrics reporting). rawCache may be nil.
func NewConnectionManager(
	ctx context.Context,
	rawCache cache.RawCache,
	maxConnections int32,
	connectionTimeoutSec int,
	heartbeatIntervalSec int,
	maxEventsPerSecond int,
) ConnectionManager {
	cm := &connectionManager{
		connPool: newConnectionPool(maxConnections),
		topics:   newTopicRegistry(),
		identity: newIdentityMap(),

		gatewayID: fmt.Sprintf("realtime-%d", time.Now().UnixNano()),

		connectionTimeoutSec: connectionTimeoutSec,
		heartbeatIntervalSec: heartbeatIntervalSec,
		maxEventsPerSecond:   maxEventsPerSecond,

		shutdownCh: make(chan struct{}),
	}

	if rawCache != nil {
		cm.metaCache = cache.NewGenericCache[string, Metadata](rawCache, func(s string) string {
			return s
		})
	}

	cm.wg.Add(1)
	go cm.sweepStaleConnections(ctx)

	cm.wg.Add(1)
	go cm.reportMetrics(ctx)

	return cm
}

// HandleConnection runs one connection's lifecycle: registration, the welcome
// message, the reader/writer goroutine pair, and cascading cleanup on exit.
//
// Teardown ordering matters: the connection is marked closed first so any
// racing Publish sees its sends fail cleanly, then it is removed from the
// topic index and identity map, and finally from the registry. A later
// Publish can therefore never resurrect a removed subscriber.
func (cm *connectionManager) HandleConnection(
	ctx context.Context,
	metadata *Metadata,
	transport Transport,
) error {
	if metadata == nil || metadata.ConnectionID == "" {
		atomic.AddUint64(&cm.failedConns, 1)
		telemetry.ConnectionsFailedCounter.Add(ctx, 1)
		return ErrInvalidInput
	}

	select {
	case <-cm.shutdownCh:
		return ErrShuttingDown
	default:
	}

	atomic.AddUint64(&cm.totalConns, 1)
	atomic.AddInt32(&cm.activeConns, 1)
	defer atomic.AddInt32(&cm.activeConns, -1)

	telemetry.ConnectionsTotalCounter.Add(ctx, 1)
	telemetry.ConnectionsActiveGauge.Add(ctx, 1)
	defer telemetry.ConnectionsActiveGauge.Add(ctx, -1)

	now := time.Now()
	metadata.Connected = now.Unix()
	metadata.LastActive = now.Unix()
	metadata.GatewayID = cm.gatewayID

	conn := NewConnection(transport, metadata, cm.maxEventsPerSecond)

	if err := cm.connPool.add(conn); err != nil {
		atomic.AddUint64(&cm.failedConns, 1)
		telemetry.ConnectionsFailedCounter.Add(ctx, 1)
		return err
	}

	cm.storeMetadata(ctx, metadata)

	util.Log(ctx).WithFields(map[string]any{
		"connection_id": metadata.ConnectionID,
		"user_name":     metadata.UserName,
		"gateway_id":    cm.gatewayID,
		"pool_size":     cm.connPool.size(),
	}).Debug("client connected")

	doneCh := make(chan struct{})
	var workerWg sync.WaitGroup

	defer func() {
		cm.teardown(ctx, conn)
		workerWg.Wait()

		atomic.AddUint64(&cm.disconnectedConns, 1)
		telemetry.ConnectionsDisconnectedCounter.Add(ctx, 1)

		util.Log(ctx).WithFields(map[string]any{
			"connection_id": metadata.ConnectionID,
			"duration":      time.Since(now).String(),
		}).Debug("client disconnected")
	}()

	errChan := make(chan error, errorChannelBufferSize)

	// Reader: inbound control frames (client -> server).
	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		cm.runReadLoop(ctx, conn, errChan, doneCh)
	}()

	// Writer: drains the dispatch queue (server -> client).
	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		cm.runWriteLoop(ctx, conn, errChan, doneCh)
	}()

	select {
	case err := <-errChan:
		close(doneCh)
		return err
	case <-ctx.Done():
		close(doneCh)
		return ctx.Err()
	case <-cm.shutdownCh:
		close(doneCh)
		return ErrShuttingDown
	}
}

// runReadLoop receives and interprets inbound frames until the transport
// fails or the connection winds down. Protocol errors (malformed JSON,
// unknown type) are logged and ignored; the connection stays open.
func (cm *connectionManager) runReadLoop(
	ctx context.Context,
	conn Connection,
	errChan chan error,
	doneCh chan struct{},
) {
	for {
		select {
		case <-doneCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		raw, err := conn.Receive()
		if err != nil {
			select {
			case errChan <- err:
			default:
			}
			return
		}

		conn.Touch()
		cm.touchMetadata(ctx, conn.Metadata())

		if !conn.AllowInbound() {
			util.Log(ctx).WithField("connection_id", conn.Metadata().ConnectionID).
				Warn("inbound frame rate limited")
			continue
		}

		msg, err := decodeControlMessage(raw)
		if err != nil {
			util.Log(ctx).WithError(err).
				WithField("connection_id", conn.Metadata().ConnectionID).
				WithField("error_type", "protocol.frame.error").
				Debug("ignoring invalid control frame")
			continue
		}

		cm.handleControlMessage(ctx, conn, msg)
	}
}

// runWriteLoop sends the welcome message and then drains the connection's
// dispatch queue onto the transport.
func (cm *connectionManager) runWriteLoop(
	ctx context.Context,
	conn Connection,
	errChan chan error,
	doneCh chan struct{},
) {
	welcome, err := encodeOutbound(newWelcomeMessage(conn.Metadata(), time.Now()))
	if err == nil {
		err = conn.Send(welcome)
	}
	if err != nil {
		util.Log(ctx).WithError(err).
			WithField("error_type", "connection.welcome.failed").
			Error("welcome message failed")
		select {
		case errChan <- err:
		default:
		}
		return
	}

	for {
		select {
		case <-doneCh:
			return
		default:
		}

		payload := conn.ConsumeDispatch(ctx)
		if payload == nil {
			// Context cancelled or connection closed.
			return
		}

		if sendErr := conn.Send(payload); sendErr != nil {
			util.Log(ctx).WithError(sendErr).
				WithField("error_type", "outbound.send.error").
				WithField("connection_id", conn.Metadata().ConnectionID).
				Debug("outbound send failed")
			select {
			case errChan <- sendErr:
			default:
			}
			return
		}
	}
}

// handleControlMessage dispatches one decoded control frame.
func (cm *connectionManager) handleControlMessage(ctx context.Context, conn Connection, msg controlMessage) {
	connID := conn.Metadata().ConnectionID

	switch m := msg.(type) {
	case subscribeMessage:
		if conn.IsClosed() {
			return
		}
		cm.topics.Subscribe(m.Topic, connID)
		// Re-check: teardown may have swept the index between the check above
		// and the subscribe, which would leave a dead id behind.
		if conn.IsClosed() {
			cm.topics.RemoveConnection(connID)
			return
		}
		telemetry.SubscriptionsAddedCounter.Add(ctx, 1)
		util.Log(ctx).WithFields(map[string]any{
			"connection_id": connID,
			"topic":         m.Topic,
		}).Debug("subscribed to topic")

	case unsubscribeMessage:
		cm.topics.Unsubscribe(m.Topic, connID)
		telemetry.SubscriptionsRemovedCounter.Add(ctx, 1)
		util.Log(ctx).WithFields(map[string]any{
			"connection_id": connID,
			"topic":         m.Topic,
		}).Debug("unsubscribed from topic")

	case identifyMessage:
		cm.identity.Bind(connID, m.ClientID)
		cm.reply(ctx, conn, newIdentityConfirmedMessage(m.ClientID, time.Now()))

	case pingMessage:
		cm.reply(ctx, conn, newPongMessage(time.Now()))
	}
}

// reply enqueues a control response for the writer goroutine.
func (cm *connectionManager) reply(ctx context.Context, conn Connection, msg any) {
	payload, err := encodeOutbound(msg)
	if err != nil {
		util.Log(ctx).WithError(err).Error("could not encode control reply")
		return
	}
	if !conn.Dispatch(payload) {
		util.Log(ctx).WithField("connection_id", conn.Metadata().ConnectionID).
			Debug("control reply dropped: dispatch queue full")
	}
}

// teardown cascades a connection's removal from every index. Safe to call
// more than once for the same connection.
func (cm *connectionManager) teardown(ctx context.Context, conn Connection) {
	connID := conn.Metadata().ConnectionID

	// Mark closed before touching the indexes so concurrent Publish calls
	// fail cleanly on this id rather than racing the removal.
	conn.Close()

	cm.topics.RemoveConnection(connID)
	cm.identity.Unbind(connID)
	cm.connPool.remove(connID)
	cm.deleteMetadata(ctx, connID)
}

func (cm *connectionManager) ActiveConnections() int32 {
	return cm.connPool.size()
}

// DrainConnections waits for active connections to wind down, bounded by ctx.
func (cm *connectionManager) DrainConnections(ctx context.Context) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for cm.ActiveConnections() > 0 {
		select {
		case <-ctx.Done():
			util.Log(ctx).WithField("remaining", cm.ActiveConnections()).
				Warn("connection drain timed out")
			return
		case <-ticker.C:
		}
	}
}

// Shutdown signals all goroutines to stop and waits for background tasks,
// bounded by a timeout. Idempotent.
func (cm *connectionManager) Shutdown(ctx context.Context) error {
	cm.shutdownOnce.Do(func() {
		util.Log(ctx).Info("shutting down connection manager")
		close(cm.shutdownCh)

		done := make(chan struct{})
		go func() {
			cm.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			util.Log(ctx).Info("connection manager shutdown complete")
		case <-time.After(shutdownWaitTimeout):
			util.Log(ctx).Warn("connection manager shutdown timed out")
		}
	})

	return nil
}

// sweepStaleConnections closes connections with no inbound activity for 3x
// the heartbeat interval. The registry's own close handling then cascades the
// index cleanup.
func (cm *connectionManager) sweepStaleConnections(ctx context.Context) {
	defer cm.wg.Done()

	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.shutdownCh:
			return
		case <-ticker.C:
			cm.performSweep(ctx)
		}
	}
}

func (cm *connectionManager) performSweep(ctx context.Context) {
	if cm.heartbeatIntervalSec <= 0 {
		return
	}

	now := time.Now().Unix()
	staleThreshold := int64(cm.heartbeatIntervalSec * staleThresholdMultiplier)

	staleCount := 0
	cm.connPool.forEach(func(conn Connection) {
		if now-conn.LastActive() > staleThreshold {
			util.Log(ctx).WithFields(map[string]any{
				"connection_id": conn.Metadata().ConnectionID,
				"age_seconds":   now - conn.LastActive(),
			}).Warn("closing stale connection")

			// Closing the transport unblocks the reader, which drives the
			// normal teardown path in HandleConnection.
			conn.Close()
			staleCount++
		}
	})

	if staleCount > 0 {
		telemetry.ConnectionsCleanedCounter.Add(ctx, int64(staleCount))
		util.Log(ctx).WithFields(map[string]any{
			"count":      staleCount,
			"gateway_id": cm.gatewayID,
		}).Info("closed stale connections")
	}
}

func (cm *connectionManager) reportMetrics(ctx context.Context) {
	defer cm.wg.Done()

	ticker := time.NewTicker(metricsReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.shutdownCh:
			return
		case <-ticker.C:
			util.Log(ctx).WithFields(map[string]any{
				"metric_type":              "connection_stats",
				"gateway_id":               cm.gatewayID,
				"connections_active":       atomic.LoadInt32(&cm.activeConns),
				"connections_total":        atomic.LoadUint64(&cm.totalConns),
				"connections_failed":       atomic.LoadUint64(&cm.failedConns),
				"connections_disconnected": atomic.LoadUint64(&cm.disconnectedConns),
				"pool_size":                cm.connPool.size(),
				"topic_count":              cm.topics.TopicCount(),
			}).Debug("connection metrics")
		}
	}
}

// Cache helpers. Cache failures are logged, never fatal: the in-process
// indexes remain authoritative.

func (cm *connectionManager) storeMetadata(ctx context.Context, metadata *Metadata) {
	if cm.metaCache == nil {
		return
	}
	ttl := time.Duration(cm.connectionTimeoutSec*2) * time.Second
	if err := cm.metaCache.Set(ctx, metadata.Key(), *metadata, ttl); err != nil {
		util.Log(ctx).WithError(err).Debug("could not store connection metadata")
	}
}

func (cm *connectionManager) touchMetadata(ctx context.Context, metadata *Metadata) {
	if cm.metaCache == nil {
		return
	}
	refreshed := *metadata
	refreshed.LastActive = time.Now().Unix()
	ttl := time.Duration(cm.connectionTimeoutSec*2) * time.Second
	if err := cm.metaCache.Set(ctx, metadata.Key(), refreshed, ttl); err != nil {
		util.Log(ctx).WithError(err).Debug("could not refresh connection metadata")
	}
}

func (cm *connectionManager) deleteMetadata(ctx context.Context, connID string) {
	if cm.metaCache == nil {
		return
	}
	if err := cm.metaCache.Delete(ctx, connID); err != nil {
		util.Log(ctx).WithError(err).Debug("could not delete connection metadata")
	}
}
