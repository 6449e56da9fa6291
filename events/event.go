// Package events defines the execution-log record emitted at every step of
// an iteration, and the sinks that receive it.
//
// The JSONL file written by the storage package is the durable record; the
// slog and NATS sinks are mirrors.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the event_type of a log line.
type Kind string

const (
	IterationStart     Kind = "iteration_start"
	IterationResumed   Kind = "iteration_resumed"
	IterationEnd       Kind = "iteration_end"
	LoopCycle          Kind = "loop_cycle"
	ActionIdentified   Kind = "action_identified"
	ActionDispatched   Kind = "action_dispatched"
	ActionSkipped      Kind = "action_skipped"
	PromptSent         Kind = "prompt_sent"
	ResponseReceived   Kind = "response_received"
	ArtifactPersisted  Kind = "artifact_persisted"
	ValidationResult   Kind = "validation_result"
	VerificationResult Kind = "verification_result"
	RefinementAttempt  Kind = "refinement_attempt"
	Error              Kind = "error"
	Info               Kind = "info"
)

// Level is the severity of an event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// TimestampFormat is RFC 3339 with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Event is one line of execution.jsonl.
type Event struct {
	Timestamp time.Time
	Type      Kind
	Level     Level
	Message   string
	Details   map[string]any
}

type wireEvent struct {
	Timestamp string         `json:"timestamp"`
	Type      Kind           `json:"event_type"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// MarshalJSON writes the timestamp in UTC with millisecond precision.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Timestamp: e.Timestamp.UTC().Format(TimestampFormat),
		Type:      e.Type,
		Level:     e.Level,
		Message:   e.Message,
		Details:   e.Details,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", w.Timestamp, err)
	}
	*e = Event{Timestamp: ts, Type: w.Type, Level: w.Level, Message: w.Message, Details: w.Details}
	return nil
}

// New creates an event stamped with the current time.
func New(kind Kind, level Level, message string, details map[string]any) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Type:      kind,
		Level:     level,
		Message:   message,
		Details:   details,
	}
}

// String returns the detail value for key, or "".
func (e Event) String(key string) string {
	s, _ := e.Details[key].(string)
	return s
}

// Int returns the detail value for key as an int. JSON numbers decode as
// float64, so both representations are accepted.
func (e Event) Int(key string) int {
	switch v := e.Details[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Float returns the detail value for key as a float64.
func (e Event) Float(key string) float64 {
	switch v := e.Details[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Bool returns the detail value for key as a bool.
func (e Event) Bool(key string) bool {
	b, _ := e.Details[key].(bool)
	return b
}
