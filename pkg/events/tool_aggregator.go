package events

import (
	"fmt"
	"strings"
	"sync"
)

// ToolEventEntry aggregates the call and result events of one tool call.
type ToolEventEntry struct {
	ID              string
	Name            string
	Input           string
	Called          bool
	Done            bool
	Success         bool
	Code            string
	TotalDurationMs int64
}

// ToolEventAggregator folds tool events into one entry per call, in the
// order the calls were issued. Calls without an ID are keyed by position.
type ToolEventAggregator struct {
	mu      sync.Mutex
	index   map[string]int
	entries []ToolEventEntry
}

func NewToolEventAggregator() *ToolEventAggregator {
	return &ToolEventAggregator{
		index:   make(map[string]int),
		entries: make([]ToolEventEntry, 0, 4),
	}
}

func (a *ToolEventAggregator) PublishEvent(e Event) error {
	a.Handle(e)
	return nil
}

func (a *ToolEventAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.index = make(map[string]int)
	a.entries = a.entries[:0]
}

// Entries returns a snapshot of current entries in insertion order.
func (a *ToolEventAggregator) Entries() []ToolEventEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ToolEventEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *ToolEventAggregator) Handle(e Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev := e.(type) {
	case *EventToolCall:
		idx := a.ensure(ev.ToolCall.ID, ev.ToolCall.Name, false)
		a.entries[idx].Called = true
		a.entries[idx].Name = ev.ToolCall.Name
		a.entries[idx].Input = ev.ToolCall.Input
	case *EventToolResult:
		idx := a.ensure(ev.ToolResult.ID, ev.ToolResult.Name, true)
		a.entries[idx].Done = true
		a.entries[idx].Success = ev.ToolResult.Success
		a.entries[idx].Code = ev.ToolResult.Code
		a.entries[idx].TotalDurationMs = ev.ToolResult.TotalDurationMs
		if a.entries[idx].Name == "" {
			a.entries[idx].Name = ev.ToolResult.Name
		}
	}
}

// Lines returns a compact, plain-text representation for each entry.
func (a *ToolEventAggregator) Lines() []string {
	entries := a.Entries()
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		parts := make([]string, 0, 4)
		parts = append(parts, "→ "+e.Name)
		if e.Input != "" {
			parts = append(parts, e.Input)
		}
		switch {
		case !e.Done:
			parts = append(parts, "…")
		case e.Success:
			parts = append(parts, fmt.Sprintf("← ok (%dms)", e.TotalDurationMs))
		default:
			parts = append(parts, fmt.Sprintf("← %s (%dms)", e.Code, e.TotalDurationMs))
		}
		lines = append(lines, strings.Join(parts, "  "))
	}
	return lines
}

func (a *ToolEventAggregator) ensure(id, name string, forResult bool) int {
	if id != "" {
		if idx, ok := a.index[id]; ok {
			return idx
		}
	} else if forResult {
		// results without ids complete the oldest pending call of that name
		for i, e := range a.entries {
			if e.ID == "" && e.Name == name && !e.Done {
				return i
			}
		}
	}
	idx := len(a.entries)
	if id != "" {
		a.index[id] = idx
	}
	a.entries = append(a.entries, ToolEventEntry{ID: id})
	return idx
}
