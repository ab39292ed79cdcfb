package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

// StepPrinterFunc returns a watermill handler that renders run events as a
// human-readable transcript on w.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true
	lastEndedWithNewline := true

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		newline := func() error {
			if !lastEndedWithNewline {
				lastEndedWithNewline = true
				_, err := fmt.Fprintln(w)
				return err
			}
			return nil
		}

		switch p_ := e.(type) {
		case *EventTextChunk:
			if isFirst && name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "\n%s: \n", name); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprint(w, p_.Delta); err != nil {
				return err
			}
			lastEndedWithNewline = strings.HasSuffix(p_.Delta, "\n")

		case *EventThinking:
			if _, err := fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}
			lastEndedWithNewline = strings.HasSuffix(p_.Delta, "\n")

		case *EventToolCall:
			if err := newline(); err != nil {
				return err
			}
			v_, err := yaml.Marshal(p_.ToolCall)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s\n", v_); err != nil {
				return err
			}

		case *EventToolResult:
			if err := newline(); err != nil {
				return err
			}
			v_, err := yaml.Marshal(p_.ToolResult)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s\n", v_); err != nil {
				return err
			}

		case *EventToolConfirmation:
			if err := newline(); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "[?] %s (%s)\n", p_.Title, p_.SafetyLevel); err != nil {
				return err
			}

		case *EventActivity:
			if p_.Message != "" {
				if err := newline(); err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "[%s] %s\n", p_.State, p_.Message); err != nil {
					return err
				}
			}

		case *EventError:
			if err := newline(); err != nil {
				return err
			}
			text := p_.UserMessage
			if text == "" {
				text = p_.ErrorString
			}
			if _, err := fmt.Fprintf(w, "[error] %s\n", text); err != nil {
				return err
			}

		case *EventFinal:
			if err := newline(); err != nil {
				return err
			}
		}

		return nil
	}
}
