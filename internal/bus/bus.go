// Package bus provides event bus implementations for evaluation events.
package bus

import (
	"context"
	"encoding/json"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type, normally the topic it was published on.
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// CorrelationID links related events, e.g. to an evaluation run.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the event data. Events that crossed a network
	// transport carry the decoded JSON value; use DecodePayload.
	Payload any `json:"payload"`
}

// DecodePayload converts event.Payload into v, whether it is still the
// original Go value or generic JSON from a remote transport.
func DecodePayload(event Event, v any) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Topics for evaluation events.
const (
	TopicEvaluationCompleted = "tsrr.evaluation.completed"
	TopicEvaluationFailed    = "tsrr.evaluation.failed"
)

// SourceEvaluator identifies events emitted by the evaluator.
const SourceEvaluator = "tsrr-evaluator"
