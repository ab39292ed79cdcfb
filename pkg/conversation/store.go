package conversation

import (
	"context"
	"sync"
)

// Store persists the ordered message history of a run. Implementations must
// be safe for concurrent use and must hand out copies, never shared slices.
type Store interface {
	GetMessages(ctx context.Context, runID string) ([]Message, error)
	AppendMessage(ctx context.Context, runID string, msg Message) error
}

// InMemoryStore keeps histories in a map. Nothing survives the process.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]Message
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs: make(map[string][]Message),
	}
}

func (s *InMemoryStore) GetMessages(_ context.Context, runID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneMessages(s.runs[runID]), nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, runID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = append(s.runs[runID], msg.Clone())
	return nil
}

// Runs lists the run ids with at least one message.
func (s *InMemoryStore) Runs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ret = append(ret, id)
	}
	return ret
}
