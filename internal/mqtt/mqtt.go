// Package mqtt publishes feeder events and receives remote commands over
// MQTT, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"log"
	"time"

	"github.com/sweeney/henny/internal/feeder"
)

// Topics.
const (
	TopicEvents   = "farm/henny/feeder/events"
	TopicSystem   = "farm/henny/feeder/system"
	TopicCommands = "farm/henny/feeder/commands"
	TopicReplies  = "farm/henny/feeder/replies"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a feed event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event feeder.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// PublishReply answers a remote command.
	PublishReply(reply CommandReply) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a feed event.
type Payload struct {
	Feed FeedPayload `json:"feed"`
}

// FeedPayload contains the feed event details.
type FeedPayload struct {
	ID         string  `json:"id"`
	Timestamp  string  `json:"timestamp"`
	Event      string  `json:"event"`
	Source     string  `json:"source"`
	Grams      float64 `json:"grams"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	Clamped    bool    `json:"clamped,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// FormatPayload creates the JSON payload for a feed event.
func FormatPayload(event feeder.Event) ([]byte, error) {
	payload := Payload{
		Feed: FeedPayload{
			ID:         event.ID,
			Timestamp:  event.Time.UTC().Format(time.RFC3339),
			Event:      string(event.Type),
			Source:     string(event.Source),
			Grams:      event.Grams,
			DurationMS: event.Duration.Milliseconds(),
			Clamped:    event.Clamped,
			Reason:     event.Reason,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// EventSink adapts a Publisher to feeder.EventSink. Failures are logged.
type EventSink struct {
	Publisher Publisher
}

// PublishFeed implements feeder.EventSink.
func (s EventSink) PublishFeed(ev feeder.Event) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ev); err != nil {
		log.Printf("mqtt: publish %s: %v", ev.Type, err)
	}
}
