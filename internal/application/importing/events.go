package importing

import (
	"encoding/json"
	"log/slog"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

// Event is one message of a sync stream. Only the fields of its Type are
// serialized.
type Event struct {
	Type      EventType
	Completed int64
	Total     int64
	Result    *domain.SyncOutcome
	Error     string
}

func ProgressEvent(completed, total int64) Event {
	return Event{Type: EventProgress, Completed: completed, Total: total}
}

func ResultEvent(outcome domain.SyncOutcome) Event {
	return Event{Type: EventResult, Result: &outcome}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Error: message}
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventProgress:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Completed int64     `json:"completed"`
			Total     int64     `json:"total"`
		}{e.Type, e.Completed, e.Total})
	case EventResult:
		return json.Marshal(struct {
			Type   EventType           `json:"type"`
			Result *domain.SyncOutcome `json:"result"`
		}{e.Type, e.Result})
	default:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error"`
		}{e.Type, e.Error})
	}
}

// Emitter delivers events to a consumer. Emit is called only after the state
// the event describes has been written to the store.
type Emitter interface {
	Emit(event Event) error
}

type EmitterFunc func(event Event) error

func (f EmitterFunc) Emit(event Event) error {
	return f(event)
}

// DiscardEmitter drops every event.
var DiscardEmitter Emitter = EmitterFunc(func(Event) error { return nil })

// silencingEmitter forwards events until the first delivery error, logs it
// once and drops everything after. A vanished consumer never stops a run.
type silencingEmitter struct {
	next      Emitter
	logger    *slog.Logger
	sessionID string
	broken    bool
}

func newSilencingEmitter(next Emitter, logger *slog.Logger, sessionID string) *silencingEmitter {
	if next == nil {
		next = DiscardEmitter
	}
	return &silencingEmitter{next: next, logger: logger, sessionID: sessionID}
}

func (e *silencingEmitter) emit(event Event) {
	if e.broken {
		return
	}
	if err := e.next.Emit(event); err != nil {
		e.broken = true
		e.logger.Warn("sync stream consumer gone, continuing without events",
			"session_id", e.sessionID, "err", err)
	}
}
