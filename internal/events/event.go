// Package events carries the typed progress records a run emits: the Event
// interface, its JSON envelope, a pub-sub bus and the sinks runs write to.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event is a typed, JSON-serializable progress record.
type Event interface {
	EventType() string
}

// Event type names.
const (
	TypeLoopStart    = "loop_start"
	TypeTaskStart    = "task_start"
	TypeObservation  = "observation"
	TypeReflection   = "reflection"
	TypeDecision     = "decision"
	TypeAskUser      = "ask_user"
	TypeLoopError    = "loop_error"
	TypeLoopComplete = "loop_complete"
	TypeLoopEnd      = "loop_end"
)

// IsTerminal reports whether eventType ends a run.
func IsTerminal(eventType string) bool {
	return eventType == TypeLoopError || eventType == TypeLoopComplete
}

// Marshal renders e as a flat JSON object whose first field is "type".
func Marshal(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.EventType(), err)
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("marshal %s event: not a JSON object", e.EventType())
	}

	typ, _ := json.Marshal(e.EventType())
	var buf bytes.Buffer
	buf.Grow(len(body) + len(typ) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if rest := bytes.TrimSpace(body[1:]); len(rest) > 0 && rest[0] != '}' {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// Envelope is a decoded event whose payload has not been interpreted.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// Decode reads the type of a Marshal-ed event, keeping the raw payload.
func Decode(data []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	if head.Type == "" {
		return Envelope{}, fmt.Errorf("decode event: missing type")
	}
	return Envelope{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
}
