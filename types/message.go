// Package types defines the shared data records that flow between the
// contract engine, the pipelines, and the memory subsystem: conversation
// messages, product records, and rolling summaries.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message is a single conversation turn held in the memory buffer.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Envelope is the on-wire form of any serialized record. The serializer
// wraps the payload so stored data carries its schema version.
type Envelope struct {
	Version   string          `json:"version"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EnvelopeVersion is the current serialization format version.
const EnvelopeVersion = "1.0"

// ErrMissingData is returned when an envelope has no data payload.
var ErrMissingData = errors.New("envelope missing data field")

// MarshalEnvelope wraps v in a versioned envelope and serializes it.
func MarshalEnvelope(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope data: %w", err)
	}
	env := Envelope{
		Version:   EnvelopeVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	return json.Marshal(env)
}

// UnmarshalEnvelope decodes an envelope and unwraps its payload into v.
// Envelopes without a data field are rejected.
func UnmarshalEnvelope(raw []byte, v any) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrMissingData
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("unmarshal envelope data: %w", err)
	}
	return nil
}
