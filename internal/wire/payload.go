package wire

import (
	"encoding/json"
	"fmt"
)

// MatchPayload announces a new pairing on the per-user match queue.
type MatchPayload struct {
	SessionID string `json:"sessionId"`
	Partner   string `json:"partner"`
}

func ParseMatch(body []byte) (*MatchPayload, error) {
	var p MatchPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse match payload: %w", err)
	}
	if p.SessionID == "" {
		return nil, fmt.Errorf("parse match payload: missing sessionId")
	}
	if p.Partner == "" {
		return nil, fmt.Errorf("parse match payload: missing partner")
	}
	return &p, nil
}

// ErrorPayload is a server-reported application error on the per-user
// error queue. Message and SessionID are optional.
type ErrorPayload struct {
	Code      string `json:"error"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func ParseError(body []byte) (*ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse error payload: %w", err)
	}
	if p.Code == "" {
		return nil, fmt.Errorf("parse error payload: missing error code")
	}
	return &p, nil
}

// InvitePayload is an issued invite code on the per-user invite queue.
type InvitePayload struct {
	Code             string `json:"code"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

func ParseInvite(body []byte) (*InvitePayload, error) {
	var p InvitePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse invite payload: %w", err)
	}
	if p.Code == "" {
		return nil, fmt.Errorf("parse invite payload: missing code")
	}
	if p.ExpiresInSeconds <= 0 {
		return nil, fmt.Errorf("parse invite payload: non-positive expiry")
	}
	return &p, nil
}

// EventType classifies a session-topic event.
type EventType string

const (
	EventChat         EventType = "CHAT"
	EventJoin         EventType = "JOIN"
	EventLeave        EventType = "LEAVE"
	EventTyping       EventType = "TYPING"
	EventSessionEnded EventType = "SESSION_ENDED"
)

// SessionEvent is one event on a session topic. Ts is assigned by the
// sender for chat content, in unix milliseconds.
type SessionEvent struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Sender  string    `json:"sender,omitempty"`
	Ts      int64     `json:"ts,omitempty"`
}

func ParseSessionEvent(body []byte) (*SessionEvent, error) {
	var ev SessionEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("parse session event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("parse session event: missing type")
	}
	return &ev, nil
}

// Ended reports whether the event terminates the session.
func (ev *SessionEvent) Ended() bool {
	return ev.Type == EventLeave || ev.Type == EventSessionEnded
}

// ChatSendPayload is the outbound body for app.chat.message. Sender
// identity and timestamp are assigned server-side.
type ChatSendPayload struct {
	Content string `json:"content"`
}

// JoinInvitePayload is the outbound body for app.invite.join.
type JoinInvitePayload struct {
	Code string `json:"code"`
}
