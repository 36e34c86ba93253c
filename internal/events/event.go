// Package events turns host session events into queued Discord messages.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	TypeSessionCreated     = "session.created"
	TypeSessionUpdated     = "session.updated"
	TypeSessionIdle        = "session.idle"
	TypeSessionError       = "session.error"
	TypePermissionUpdated  = "permission.updated"
	TypeTodoUpdated        = "todo.updated"
	TypeMessageUpdated     = "message.updated"
	TypeMessagePartUpdated = "message.part.updated"
)

// ErrInvalidEvent wraps every decoding failure of an event payload.
var ErrInvalidEvent = errors.New("invalid event")

// Event is one host event: a type tag and a type-specific properties object.
type Event struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// Decode parses a raw event body.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	return ev, nil
}

func (e Event) decode(v any) error {
	if len(e.Properties) == 0 {
		return fmt.Errorf("%w: %s has no properties", ErrInvalidEvent, e.Type)
	}
	if err := json.Unmarshal(e.Properties, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, e.Type, err)
	}
	return nil
}

type SessionInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type sessionProps struct {
	Info SessionInfo `json:"info"`
}

type sessionRef struct {
	SessionID string `json:"sessionID"`
}

// Permission is a tool permission request waiting for the user.
type Permission struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	SessionID string  `json:"sessionID"`
	Pattern   Pattern `json:"pattern,omitempty"`
}

// Pattern is either a single pattern string or a list of them.
type Pattern []string

func (p *Pattern) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*p = Pattern{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*p = many
	return nil
}

func (p Pattern) String() string {
	return strings.Join(p, ", ")
}

type SessionError struct {
	Name string `json:"name"`
	Data struct {
		Message string `json:"message"`
	} `json:"data"`
}

type sessionErrorProps struct {
	SessionID string        `json:"sessionID"`
	Error     *SessionError `json:"error"`
}

const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
	TodoCancelled  = "cancelled"
)

type Todo struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type todoProps struct {
	SessionID string `json:"sessionID"`
	Todos     []Todo `json:"todos"`
}

type MessageInfo struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Role      string `json:"role"`
}

type messageProps struct {
	Info MessageInfo `json:"info"`
}

type Part struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"`
	Text      string `json:"text"`
}

type partProps struct {
	Part Part `json:"part"`
}
