package session

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultEventSubject is the subject lifecycle events are published on.
const DefaultEventSubject = "notebook.sessions"

// EventKind is the lifecycle transition an Event describes.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventFailed    EventKind = "failed"
	EventClosed    EventKind = "closed"
	EventRestarted EventKind = "restarted"
)

// Event is published whenever a session changes state.
type Event struct {
	Kind       EventKind `msgpack:"kind" json:"kind" yaml:"kind"`
	Type       string    `msgpack:"type" json:"type" yaml:"type"`
	SessionID  string    `msgpack:"session_id,omitempty" json:"session_id,omitempty" yaml:"session_id,omitempty"`
	PreviousID string    `msgpack:"previous_id,omitempty" json:"previous_id,omitempty" yaml:"previous_id,omitempty"`
	Detached   bool      `msgpack:"detached,omitempty" json:"detached,omitempty" yaml:"detached,omitempty"`
	Error      string    `msgpack:"error,omitempty" json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp  time.Time `msgpack:"ts" json:"timestamp" yaml:"timestamp"`
}

func (e Event) Encode() ([]byte, error) {
	return msgpack.Marshal(e)
}

// DecodeEvent decodes an event received from the event bus.
func DecodeEvent(buf []byte) (*Event, error) {
	var e Event
	if err := msgpack.Unmarshal(buf, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
