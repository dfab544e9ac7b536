// Package stream carries per-turn progress events from the agents to the
// client over a chunked response.
package stream

import (
	"github.com/oklog/ulid/v2"

	"github.com/flitsinc/datalab/internal/store"
)

const (
	TypeStatusUpdate  = "status_update"
	TypeUnitAdded     = "unit_added"
	TypeFinalResponse = "final_response"
	TypeError         = "error"
)

// Event is a transient record scoped to one turn; it is never persisted.
type Event struct {
	ID      string      `json:"id,omitempty"`
	Type    string      `json:"type"`
	Message string      `json:"message,omitempty"`
	Content string      `json:"content,omitempty"`
	Unit    *store.Unit `json:"unit,omitempty"`
}

func StatusUpdate(message string) Event {
	return Event{ID: ulid.Make().String(), Type: TypeStatusUpdate, Message: message}
}

func UnitAdded(unit store.Unit) Event {
	return Event{ID: ulid.Make().String(), Type: TypeUnitAdded, Unit: &unit}
}

func FinalResponse(content string) Event {
	return Event{ID: ulid.Make().String(), Type: TypeFinalResponse, Content: content}
}

func Error(message string) Event {
	return Event{ID: ulid.Make().String(), Type: TypeError, Message: message}
}

// Terminal reports whether the event signals the end of a turn.
func (e Event) Terminal() bool {
	return e.Type == TypeFinalResponse
}

// Droppable reports whether the event may be discarded under backpressure.
// Only status-only events are; unit_added, final_response and error must
// always reach the client.
func (e Event) Droppable() bool {
	return e.Type == TypeStatusUpdate
}
