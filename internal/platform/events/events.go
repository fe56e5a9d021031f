// Package events publishes clinical domain events (registrations, new patient
// records, relayed predictions) to an optional message stream. Payloads carry
// identifiers and outcomes only, never PHI or secrets.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeCredentialRegistered = "credential.registered"
	TypePatientCreated       = "patient.created"
	TypePredictionRelayed    = "prediction.relayed"
)

// Event is the envelope written to the stream.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Subject   string                 `json:"subject,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func NewEvent(source, eventType, subject string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher is fire-and-forget: delivery failures are reported by the
// implementation's own logging and never fail the calling operation.
type Publisher interface {
	Publish(ctx context.Context, eventType, subject string, data map[string]interface{})
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, map[string]interface{}) {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, eventType, subject string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, NewEvent("recorder", eventType, subject, data))
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
