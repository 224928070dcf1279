// Package events defines the streaming event contract shared by the registry,
// the gateway and client bindings, plus a synchronous fan-out bus.
package events

import "llmbridge/pkg/types"

// Kind names an event type. The values are the wire names.
type Kind string

const (
	KindLogging Kind = "logging"
	KindPartial Kind = "onPartialResponse"
	KindError   Kind = "onErrorResponse"
)

// Event is one notification emitted by the bridge. Only the fields relevant to
// Kind are populated: Message for logging, Response for partials (the full
// accumulated text, not a delta), Error for error events.
type Event struct {
	Kind      Kind            `json:"type"`
	Handle    types.Handle    `json:"handle"`
	RequestID types.RequestID `json:"requestId,omitempty"`
	Message   string          `json:"message,omitempty"`
	Response  string          `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Logging builds a logging event.
func Logging(h types.Handle, msg string) Event {
	return Event{Kind: KindLogging, Handle: h, Message: msg}
}

// Partial builds a partial-response event carrying the accumulated text.
func Partial(h types.Handle, id types.RequestID, accumulated string) Event {
	return Event{Kind: KindPartial, Handle: h, RequestID: id, Response: accumulated}
}

// Failure builds an error-response event.
func Failure(h types.Handle, id types.RequestID, msg string) Event {
	return Event{Kind: KindError, Handle: h, RequestID: id, Error: msg}
}

// Publisher receives events. Implementations must not panic and should return
// quickly; Publish is called on the generating goroutine.
type Publisher interface {
	Publish(Event)
}

// Listener is a subscriber callback.
type Listener func(Event)

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}
