package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/util"

	"github.com/hausops/service-realtime/apps/realtime/service"
	"github.com/hausops/service-realtime/apps/realtime/service/business"
	"github.com/hausops/service-realtime/apps/realtime/service/notifications"
	"github.com/hausops/service-realtime/internal/auth"
)

// NotifyHandler handles POST /api/websocket/notify: the generic publish path
// for callers that already hold a serialized payload, guarded by bearer auth.
type NotifyHandler struct {
	cm       business.ConnectionManager
	verifier auth.Verifier
}

func NewNotifyHandler(cm business.ConnectionManager, verifier auth.Verifier) *NotifyHandler {
	return &NotifyHandler{
		cm:       cm,
		verifier: verifier,
	}
}

type notifyRequest struct {
	Topic          string       `json:"topic"`
	Data           data.JSONMap `json:"data"`
	SourceClientID string       `json:"sourceClientId"`
}

type notifyResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Topic     string `json:"topic"`
	Timestamp string `json:"timestamp"`
}

func (h *NotifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, service.ErrMethodNotAllowed)
		return
	}

	if _, err := h.verifier.Verify(ctx, bearerToken(r)); err != nil {
		writeJSONError(w, http.StatusUnauthorized, err)
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, service.ErrInvalidRequestBody)
		return
	}
	if req.Topic == "" {
		writeJSONError(w, http.StatusBadRequest, service.ErrTopicRequired)
		return
	}
	if req.Data == nil {
		writeJSONError(w, http.StatusBadRequest, service.ErrNotificationDataRequired)
		return
	}

	delivered := h.cm.Publish(ctx, notifications.Generic(req.Topic, req.Data, req.SourceClientID))

	util.Log(ctx).WithFields(map[string]any{
		"topic":     req.Topic,
		"delivered": delivered,
	}).Debug("notify request published")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(notifyResponse{
		Success:   true,
		Message:   "notification dispatched",
		Topic:     req.Topic,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
