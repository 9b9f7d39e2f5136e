// Package handlers exposes the realtime service over HTTP: the anonymous and
// authenticated WebSocket upgrade endpoints and the REST notify endpoint.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"

	"github.com/hausops/service-realtime/apps/realtime/service/business"
	"github.com/hausops/service-realtime/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 32 * 1024

	readBufferSize  = 1024
	writeBufferSize = 1024
)

// WebSocketHandler upgrades HTTP requests and hands the resulting connection
// to the connection manager for the lifetime of the session.
type WebSocketHandler struct {
	cm       business.ConnectionManager
	verifier auth.Verifier
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(cm business.ConnectionManager, verifier auth.Verifier) *WebSocketHandler {
	return &WebSocketHandler{
		cm:       cm,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			// Browsers connect from the web app's origin; cross-origin policy
			// is enforced at the edge proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeAnonymous handles GET /ws: upgrade without authentication, intended
// for development and trusted clients.
func (h *WebSocketHandler) ServeAnonymous(w http.ResponseWriter, r *http.Request) {
	h.upgrade(w, r, nil)
}

// ServeAuthenticated handles GET /api/ws?token=<jwt>: the token is verified
// before the protocol upgrade, and failure yields a 401 JSON body without a
// connection ever being created.
func (h *WebSocketHandler) ServeAuthenticated(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.Verify(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		util.Log(r.Context()).WithError(err).Debug("websocket authentication refused")
		writeJSONError(w, http.StatusUnauthorized, err)
		return
	}

	h.upgrade(w, r, claims)
}

func (h *WebSocketHandler) upgrade(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	ctx := r.Context()

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		util.Log(ctx).WithError(err).Debug("websocket upgrade failed")
		return
	}

	metadata := &business.Metadata{
		ConnectionID: util.IDString(),
	}
	if claims != nil {
		metadata.UserName = claims.DisplayName
		metadata.Role = claims.Role
	}

	err = h.cm.HandleConnection(ctx, metadata, newWSTransport(wsConn))
	if err != nil && !isExpectedClose(err) {
		util.Log(ctx).WithError(err).
			WithField("connection_id", metadata.ConnectionID).
			Warn("connection ended with error")
	}
}

func isExpectedClose(err error) bool {
	if errors.Is(err, business.ErrShuttingDown) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

// wsTransport adapts a gorilla connection to the business.Transport contract.
// Sends are bounded by a write deadline so a stalled peer fails instead of
// blocking its writer goroutine forever.
type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) business.Transport {
	conn.SetReadLimit(maxMessageSize)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Receive() ([]byte, error) {
	_, payload, err := t.conn.ReadMessage()
	return payload, err
}

func (t *wsTransport) Send(payload []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
