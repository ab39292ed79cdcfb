package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventMetadata is attached to every event published for a run.
type EventMetadata struct {
	ID        uuid.UUID `json:"event_id" yaml:"event_id"`
	RunID     string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Iteration int       `json:"iteration,omitempty" yaml:"iteration,omitempty"`
	Time      time.Time `json:"time" yaml:"time"`
	// Extra carries host-specific values, e.g. the environment or pull request
	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

func NewEventMetadata(runID string) EventMetadata {
	return EventMetadata{
		ID:    uuid.New(),
		RunID: runID,
		Time:  time.Now(),
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event_id", em.ID.String())
	if em.RunID != "" {
		e.Str("run_id", em.RunID)
	}
	if em.Iteration > 0 {
		e.Int("iteration", em.Iteration)
	}
	if len(em.Extra) > 0 {
		e.Interface("extra", em.Extra)
	}
}
