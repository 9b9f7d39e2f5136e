package business

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound control frames form a tagged union keyed on "type". Unknown tags and
// malformed frames are rejected by the decoder; the protocol loop logs and
// ignores them without surfacing anything to the client.

var (
	errMalformedFrame     = errors.New("malformed control frame")
	errUnknownMessageType = errors.New("unknown control message type")
	errTopicRequired      = errors.New("control message requires a topic")
	errClientIDRequired   = errors.New("identify requires a clientId")
)

type controlMessage interface {
	isControlMessage()
}

type subscribeMessage struct {
	Topic string
}

type unsubscribeMessage struct {
	Topic string
}

type identifyMessage struct {
	ClientID string
}

type pingMessage struct{}

func (subscribeMessage) isControlMessage()   {}
func (unsubscribeMessage) isControlMessage() {}
func (identifyMessage) isControlMessage()    {}
func (pingMessage) isControlMessage()        {}

// decodeControlMessage parses one inbound frame into its typed variant.
func decodeControlMessage(raw []byte) (controlMessage, error) {
	var frame struct {
		Type     string `json:"type"`
		Topic    string `json:"topic"`
		ClientID string `json:"clientId"`
	}

	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedFrame, err)
	}

	switch frame.Type {
	case "subscribe":
		if frame.Topic == "" {
			return nil, errTopicRequired
		}
		return subscribeMessage{Topic: frame.Topic}, nil
	case "unsubscribe":
		if frame.Topic == "" {
			return nil, errTopicRequired
		}
		return unsubscribeMessage{Topic: frame.Topic}, nil
	case "identify":
		if frame.ClientID == "" {
			return nil, errClientIDRequired
		}
		return identifyMessage{ClientID: frame.ClientID}, nil
	case "ping":
		return pingMessage{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownMessageType, frame.Type)
	}
}
