package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// EventSink represents a destination for run events.
// Implementations can publish events to different backends like watermill,
// logging systems, or other event processing systems.
type EventSink interface {
	// PublishEvent publishes an event to the sink.
	// Returns an error if the event could not be published.
	PublishEvent(event Event) error
}

// NullSink drops every event.
type NullSink struct{}

func (NullSink) PublishEvent(Event) error { return nil }

// LoggingSink writes events to a zerolog logger at debug level.
type LoggingSink struct {
	logger zerolog.Logger
}

func NewLoggingSink(logger zerolog.Logger) *LoggingSink {
	return &LoggingSink{logger: logger.With().Str("component", "events").Logger()}
}

func (s *LoggingSink) PublishEvent(event Event) error {
	ev := s.logger.Debug().Str("event_type", string(event.Type())).Object("meta", event.Metadata())
	switch e := event.(type) {
	case *EventToolCall:
		ev = ev.Str("tool", e.ToolCall.Name)
	case *EventToolResult:
		ev = ev.Str("tool", e.ToolResult.Name).Bool("success", e.ToolResult.Success).Int64("total_ms", e.ToolResult.TotalDurationMs)
	case *EventActivity:
		ev = ev.Str("state", string(e.State))
	case *EventError:
		ev = ev.Str("error", e.ErrorString)
	}
	ev.Msg("event")
	return nil
}

// RecordingSink keeps every event in memory. Safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *RecordingSink) PublishEvent(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *RecordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

var (
	_ EventSink = NullSink{}
	_ EventSink = (*LoggingSink)(nil)
	_ EventSink = (*RecordingSink)(nil)
)
