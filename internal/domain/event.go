package domain

import "time"

// EventType identifies a session lifecycle event
type EventType string

const (
	EventTypeSessionCreated     EventType = "session.created"
	EventTypeSessionDeleted     EventType = "session.deleted"
	EventTypeStateChanged       EventType = "state.changed"
	EventTypeResultReset        EventType = "result.reset"
	EventTypeDiscoveryStarted   EventType = "discovery.started"
	EventTypeDiscoveryProgress  EventType = "discovery.progress"
	EventTypeDiscoveryCompleted EventType = "discovery.completed"
	EventTypeDiscoveryCancelled EventType = "discovery.cancelled"
	EventTypeDiscoveryFailed    EventType = "discovery.failed"
	EventTypeDiscoveryDiscarded EventType = "discovery.discarded"
)

// SessionEventsTopic is the event bus topic for all session events
const SessionEventsTopic = "session.events"

// Event is published on the event bus
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"sessionId"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
