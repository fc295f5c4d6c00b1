package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Navigation.
	EventStepEntered    EventType = "step.entered"
	EventGateRejected   EventType = "step.gate_rejected"
	EventPathCommitted  EventType = "step.path_committed"
	EventWizardExited   EventType = "wizard.reconfiguration_exited"
	EventSessionChanged EventType = "session.changed"

	// Recovery.
	EventVersionSaved       EventType = "version.saved"
	EventVersionRestored    EventType = "version.restored"
	EventVersionUndone      EventType = "version.undone"
	EventCheckpointCreated  EventType = "checkpoint.created"
	EventCheckpointRestored EventType = "checkpoint.restored"
	EventSessionResumed     EventType = "session.resumed"
	EventSessionStartedOver EventType = "session.started_over"

	// Background work.
	EventOperationUpdated   EventType = "operation.updated"
	EventInstallationStatus EventType = "installation.status"
)

// Event is the envelope published on the event bus.
type Event struct {
	Seq       uint64          `json:"seq,omitempty"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a JSON payload. Marshal failures leave the
// payload empty; payloads are plain structs owned by this module.
func NewEvent(t EventType, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now()}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// StepEnteredPayload is carried by EventStepEntered. StepNumber is the
// display number on the current path; Position is the static graph position.
type StepEnteredPayload struct {
	StepNumber int    `json:"stepNumber"`
	StepID     StepID `json:"stepId"`
	Position   int    `json:"position"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
