package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type StreamingEventType string

const (
	PingType              StreamingEventType = "ping"
	MessageStartType      StreamingEventType = "message_start"
	ContentBlockStartType StreamingEventType = "content_block_start"
	ContentBlockDeltaType StreamingEventType = "content_block_delta"
	ContentBlockStopType  StreamingEventType = "content_block_stop"
	MessageDeltaType      StreamingEventType = "message_delta"
	MessageStopType       StreamingEventType = "message_stop"
	ErrorType             StreamingEventType = "error"
)

type StreamingDeltaType string

const (
	TextDeltaType      StreamingDeltaType = "text_delta"
	InputJSONDeltaType StreamingDeltaType = "input_json_delta"
	ThinkingDeltaType  StreamingDeltaType = "thinking_delta"
	SignatureDeltaType StreamingDeltaType = "signature_delta"
)

type StreamingEvent struct {
	Type         StreamingEventType `json:"type"`
	Message      *MessageResponse   `json:"message,omitempty"`
	Delta        *Delta             `json:"delta,omitempty"`
	Error        *Error             `json:"error,omitempty"`
	Index        int                `json:"index,omitempty"`
	Usage        *Usage             `json:"usage,omitempty"`
	ContentBlock *ContentBlock      `json:"content_block,omitempty"`

	// Err is set on the last event when reading the stream failed.
	Err error `json:"-"`
}

func (s StreamingEvent) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(s.Type))
	if s.Delta != nil {
		e.Object("delta", s.Delta)
	}
	if s.Error != nil {
		e.Object("error", s.Error)
	}
	if s.Index != 0 {
		e.Int("index", s.Index)
	}
	if s.ContentBlock != nil {
		e.Object("content_block", s.ContentBlock)
	}
	if s.Err != nil {
		e.Err(s.Err)
	}
}

var _ zerolog.LogObjectMarshaler = StreamingEvent{}

type ContentBlock struct {
	Type     ContentType     `json:"type"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
}

func (cb ContentBlock) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(cb.Type))
	if cb.ID != "" {
		e.Str("id", cb.ID)
	}
	if cb.Name != "" {
		e.Str("name", cb.Name)
	}
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (err Error) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", err.Type)
	e.Str("message", err.Message)
}

type Delta struct {
	Type         StreamingDeltaType `json:"type"`
	Text         string             `json:"text,omitempty"`
	PartialJSON  string             `json:"partial_json,omitempty"`
	Thinking     string             `json:"thinking,omitempty"`
	StopReason   string             `json:"stop_reason,omitempty"`
	StopSequence string             `json:"stop_sequence,omitempty"`
}

func (d Delta) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(d.Type))
	if d.StopReason != "" {
		e.Str("stop_reason", d.StopReason)
	}
}

func streamEvents(ctx context.Context, resp *http.Response, events chan<- StreamingEvent) {
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	send := func(event StreamingEvent) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	reader := bufio.NewReader(resp.Body)
	var eventLines [][]byte
	eventCount := 0
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err == io.EOF {
				// a final event without a trailing blank line
				if len(eventLines) > 0 {
					var event StreamingEvent
					if parseSSEEvent(eventLines, &event) == nil {
						send(event)
					}
				}
				log.Debug().Int("total_events_processed", eventCount).Msg("claude stream finished")
				return
			}
			send(StreamingEvent{Type: ErrorType, Err: errors.Wrap(err, "reading claude stream")})
			return
		}

		if len(bytes.TrimSpace(line)) > 0 {
			eventLines = append(eventLines, line)
			continue
		}
		if len(eventLines) == 0 {
			continue
		}

		var event StreamingEvent
		parseErr := parseSSEEvent(eventLines, &event)
		eventLines = eventLines[:0]
		if parseErr != nil {
			log.Debug().Err(parseErr).Msg("failed to parse SSE event")
			continue
		}
		eventCount++
		if !send(event) {
			return
		}
	}
}

// parseSSEEvent joins the data lines of one SSE event and decodes them.
func parseSSEEvent(lines [][]byte, event *StreamingEvent) error {
	var data []string
	for _, line := range lines {
		line = bytes.TrimRight(line, "\r\n")
		field, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		if string(field) == "data" {
			data = append(data, string(bytes.TrimPrefix(value, []byte(" "))))
		}
	}
	if len(data) == 0 {
		return errors.New("SSE event without data")
	}
	return json.Unmarshal([]byte(strings.Join(data, "\n")), event)
}
