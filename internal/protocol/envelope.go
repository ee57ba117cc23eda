// Package protocol defines the JSON envelope exchanged with chat clients,
// the typed inbound events decoded from it, and the outbound payloads.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is one framed event on the wire: {"event": name, "data": {...}}.
// Data is encoded once when the envelope is built and shared by every
// recipient.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload as the data of a new envelope.
//
// Precondition: payload must be JSON-encodable.
// Postcondition: Returns the envelope, or an error wrapping the encoding failure.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Marshal returns the wire form of the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeData unmarshals the envelope's data into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}
