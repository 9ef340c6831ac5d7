package sse

// Event names written by the discovery endpoints.
const (
	// EventSnapshot carries the membership current when the client connected.
	EventSnapshot = "snapshot"

	// EventUpdate carries a changed membership.
	EventUpdate = "update"

	// EventClosed is the last event before the server ends the stream.
	EventClosed = "closed"
)

// Event is one SSE frame. Data is JSON-encoded.
type Event struct {
	Name string
	ID   string
	Data any
}
