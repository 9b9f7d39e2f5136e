package business

import (
	"context"
	"maps"
	"time"

	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/util"

	"github.com/hausops/service-realtime/internal/telemetry"
)

// Publish wraps the notification into its wire envelope, stamps the server
// timestamp, serializes once and fans out to the topic's current subscribers.
//
// The subscriber set is snapshotted up front: a connection that subscribes
// mid-iteration may or may not receive this message, but never twice. When
// the notification names a source client that is currently bound, that
// client's connection is skipped. Individual delivery failures prune the dead
// id from the topic and never abort delivery to the rest.
//
// Returns the number of connections the envelope was handed to.
func (cm *connectionManager) Publish(ctx context.Context, notification Notification) int {
	if notification.Topic == "" {
		return 0
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339)

	payload := make(data.JSONMap, len(notification.Data)+2)
	maps.Copy(payload, notification.Data)
	payload["timestamp"] = timestamp
	if notification.SourceClientID != "" {
		payload["sourceClientId"] = notification.SourceClientID
	}

	raw, err := encodeOutbound(notificationMessage{
		Type:      msgTypeNotification,
		Topic:     notification.Topic,
		Data:      payload,
		Timestamp: timestamp,
	})
	if err != nil {
		util.Log(ctx).WithError(err).WithField("topic", notification.Topic).
			Error("could not encode notification envelope")
		return 0
	}

	subscribers := cm.topics.Subscribers(notification.Topic)
	if len(subscribers) == 0 {
		return 0
	}

	// Resolve self-exclusion. An unbound source client excludes nobody.
	excludeConnID := ""
	if notification.SourceClientID != "" {
		if connID, ok := cm.identity.ConnectionFor(notification.SourceClientID); ok {
			excludeConnID = connID
		}
	}

	telemetry.NotificationsPublishedCounter.Add(ctx, 1)

	delivered := 0
	for _, connID := range subscribers {
		if connID == excludeConnID {
			continue
		}

		if sendErr := cm.send(connID, raw); sendErr != nil {
			// Defensive second line: close handling is the authoritative
			// cleanup path, but a stale id found here is pruned on the spot.
			cm.topics.Unsubscribe(notification.Topic, connID)
			telemetry.NotificationsDroppedCounter.Add(ctx, 1)
			util.Log(ctx).WithError(sendErr).WithFields(map[string]any{
				"connection_id": connID,
				"topic":         notification.Topic,
			}).Debug("pruned unreachable subscriber")
			continue
		}
		delivered++
	}

	telemetry.NotificationsDeliveredCounter.Add(ctx, int64(delivered))

	util.Log(ctx).WithFields(map[string]any{
		"topic":       notification.Topic,
		"subscribers": len(subscribers),
		"delivered":   delivered,
	}).Debug("notification published")

	return delivered
}

// send hands the serialized envelope to one connection's dispatch queue.
// Returns ErrConnectionNotFound for unknown ids and ErrDispatchFull when the
// connection is closed or its queue is saturated.
func (cm *connectionManager) send(connID string, payload []byte) error {
	conn, ok := cm.connPool.get(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	if !conn.Dispatch(payload) {
		return ErrDispatchFull
	}
	return nil
}
