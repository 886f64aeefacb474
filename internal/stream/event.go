package stream

import (
	"github.com/lanikai/vout/internal/buffer"
)

type EventType int

const (
	EventStreamOn EventType = iota
	EventStreamOff
	EventQueued
	EventSubmitted
	EventDisplayed
	EventCompleted
	EventDequeued
	EventDropped
)

var eventNames = [...]string{
	"stream-on",
	"stream-off",
	"queued",
	"submitted",
	"displayed",
	"completed",
	"dequeued",
	"dropped",
}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[t]
}

// MarshalText lets events encode their type by name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event is one step in the life of a stream or of a buffer in it.
type Event struct {
	Type    EventType     `json:"type"`
	Session string        `json:"session,omitempty"`
	Buffer  buffer.Handle `json:"-"`
	Index   int           `json:"index"`

	// Display clock time in microseconds, for displayed and completed.
	Time int64 `json:"time,omitempty"`

	// Fields shown, for completed.
	Fields   int    `json:"fields,omitempty"`
	Sequence uint32 `json:"sequence,omitempty"`
}

// Observer receives events synchronously. It must not block or call back
// into the controller.
type Observer func(Event)
