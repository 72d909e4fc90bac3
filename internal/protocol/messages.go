// Package protocol defines the websocket payloads exchanged with chat
// clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/hrdesk/internal/dialogue"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientUtterance MessageType = "client_utterance"
	TypeClientControl   MessageType = "client_control"
	TypeDirective       MessageType = "directive"
	TypeTurnEnd         MessageType = "turn_end"
	TypeSystemEvent     MessageType = "system_event"
	TypeErrorEvent      MessageType = "error_event"
)

// Control actions.
const (
	ActionFlush  = "flush"
	ActionStatus = "status"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientUtterance struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	UserID    string      `json:"user_id,omitempty"`
	TurnID    string      `json:"turn_id,omitempty"`
	Text      string      `json:"text"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type DirectiveMessage struct {
	Type      MessageType        `json:"type"`
	SessionID string             `json:"session_id"`
	TurnID    string             `json:"turn_id,omitempty"`
	Directive dialogue.Directive `json:"directive"`
}

type TurnEnd struct {
	Type      MessageType            `json:"type"`
	SessionID string                 `json:"session_id"`
	TurnID    string                 `json:"turn_id,omitempty"`
	Persisted bool                   `json:"persisted"`
	Replayed  bool                   `json:"replayed,omitempty"`
	Status    dialogue.SessionStatus `json:"session_status"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientUtterance:
		var msg ClientUtterance
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.SessionID) == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_utterance")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TurnMessages renders a turn result as the directive stream followed by
// turn_end.
func TurnMessages(res dialogue.TurnResult) []any {
	out := make([]any, 0, len(res.Directives)+1)
	for _, d := range res.Directives {
		out = append(out, DirectiveMessage{
			Type:      TypeDirective,
			SessionID: res.SessionID,
			TurnID:    res.TurnID,
			Directive: d,
		})
	}
	out = append(out, TurnEnd{
		Type:      TypeTurnEnd,
		SessionID: res.SessionID,
		TurnID:    res.TurnID,
		Persisted: res.Persisted,
		Replayed:  res.Replayed,
		Status:    res.Status,
	})
	return out
}
