// Package queues wires the realtime service into the org's message bus:
// sibling services publish committed domain mutations to the realtime
// delivery queue instead of calling the formatters in-process.
package queues

import (
	"context"
	"encoding/json"

	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"

	"github.com/hausops/service-realtime/apps/realtime/config"
	"github.com/hausops/service-realtime/apps/realtime/service/business"
	"github.com/hausops/service-realtime/apps/realtime/service/notifications"
)

type RealtimeEventsQueueHandler struct {
	cfg *config.RealtimeConfig
	cm  business.ConnectionManager
}

func NewRealtimeEventsQueueHandler(
	cfg *config.RealtimeConfig,
	cm business.ConnectionManager,
) queue.SubscribeWorker {
	return &RealtimeEventsQueueHandler{
		cfg: cfg,
		cm:  cm,
	}
}

type queuedEvent struct {
	Topic          string       `json:"topic"`
	Data           data.JSONMap `json:"data"`
	SourceClientID string       `json:"sourceClientId"`
}

// Handle decodes one queued event and fans it out. Malformed or incomplete
// messages are dropped, not retried: redelivery cannot fix them and the
// no-replay design accepts the loss.
func (h *RealtimeEventsQueueHandler) Handle(ctx context.Context, _ map[string]string, payload []byte) error {
	var evt queuedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		util.Log(ctx).WithError(err).Error("dropping malformed realtime event")
		return nil
	}

	if evt.Topic == "" || evt.Data == nil {
		util.Log(ctx).WithField("topic", evt.Topic).
			Warn("dropping realtime event without topic or data")
		return nil
	}

	delivered := h.cm.Publish(ctx, notifications.Generic(evt.Topic, evt.Data, evt.SourceClientID))

	util.Log(ctx).WithFields(map[string]any{
		"topic":     evt.Topic,
		"delivered": delivered,
	}).Debug("queued realtime event published")

	return nil
}
