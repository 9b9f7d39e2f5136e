package business

import (
	"encoding/json"
	"time"

	"github.com/pitabwire/frame/data"
)

// Server-to-client messages, each carrying a "type" discriminator.
const (
	msgTypeWelcome           = "welcome"
	msgTypeIdentityConfirmed = "identity_confirmed"
	msgTypePong              = "pong"
	msgTypeNotification      = "notification"
)

type welcomeMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	UserName     string `json:"userName,omitempty"`
	Role         string `json:"role,omitempty"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
}

type identityConfirmedMessage struct {
	Type      string `json:"type"`
	ClientID  string `json:"clientId"`
	Timestamp string `json:"timestamp"`
}

type pongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type notificationMessage struct {
	Type      string       `json:"type"`
	Topic     string       `json:"topic"`
	Data      data.JSONMap `json:"data"`
	Timestamp string       `json:"timestamp"`
}

func newWelcomeMessage(metadata *Metadata, at time.Time) welcomeMessage {
	return welcomeMessage{
		Type:         msgTypeWelcome,
		ConnectionID: metadata.ConnectionID,
		UserName:     metadata.UserName,
		Role:         metadata.Role,
		Message:      "connected",
		Timestamp:    at.UTC().Format(time.RFC3339),
	}
}

func newIdentityConfirmedMessage(clientID string, at time.Time) identityConfirmedMessage {
	return identityConfirmedMessage{
		Type:      msgTypeIdentityConfirmed,
		ClientID:  clientID,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

func newPongMessage(at time.Time) pongMessage {
	return pongMessage{
		Type:      msgTypePong,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

func encodeOutbound(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
