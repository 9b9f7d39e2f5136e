// Package telemetry provides OpenTelemetry metrics for the realtime service.
package telemetry

import "github.com/pitabwire/frame/telemetry"

// Connection metrics track the WebSocket connection lifecycle.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	ConnectionsActiveGauge = telemetry.DimensionlessMeasure(
		"",
		"realtime.connections.active",
		"Current number of active connections",
	)

	ConnectionsTotalCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.connections.total",
		"Total connection attempts",
	)

	ConnectionsFailedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.connections.failed",
		"Failed connection attempts",
	)

	ConnectionsDisconnectedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.connections.disconnected",
		"Total disconnections",
	)

	ConnectionsCleanedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.connections.cleaned",
		"Stale connections closed by the sweeper",
	)
)

// Subscription metrics track topic membership churn.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	SubscriptionsAddedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.subscriptions.added",
		"Total topic subscriptions added",
	)

	SubscriptionsRemovedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.subscriptions.removed",
		"Total topic subscriptions removed",
	)
)

// Notification metrics track the broadcast pipeline.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	NotificationsPublishedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.notifications.published",
		"Total notifications published",
	)

	NotificationsDeliveredCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.notifications.delivered",
		"Total notification deliveries to subscribers",
	)

	NotificationsDroppedCounter = telemetry.DimensionlessMeasure(
		"",
		"realtime.notifications.dropped",
		"Notification deliveries dropped for unreachable subscribers",
	)
)
