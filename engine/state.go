package engine

import (
	"sync"

	"github.com/hupe1980/agentloop/core"
)

// runState is the mutable state of one run. It is mutated exclusively by
// the run's background goroutine; the mutex exists only so foreground
// snapshot reads (Run.Messages) observe consistent data.
//
// History is append-only except for the single in-flight assistant message,
// which is replaced wholesale per streaming update and frozen into history
// on completion. The error slot is set at most once.
type runState struct {
	mu sync.Mutex

	messages []core.Message
	inFlight *core.AssistantMessage
	err      error
}

func newRunState(prompt core.UserMessage) *runState {
	return &runState{messages: []core.Message{prompt}}
}

// append freezes a message into history.
func (s *runState) append(msg core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
}

// setInFlight replaces the in-flight assistant message wholesale.
func (s *runState) setInFlight(msg core.AssistantMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = &msg
}

// clearInFlight discards the in-flight assistant message.
func (s *runState) clearInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = nil
}

// setErr records the run error; only the first call wins.
func (s *runState) setErr(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false
	}

	s.err = err

	return true
}

// history returns a copy of the committed history (in-flight excluded).
func (s *runState) history() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]core.Message(nil), s.messages...)
}

// snapshot returns committed history plus the in-flight message, if any.
func (s *runState) snapshot() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append([]core.Message(nil), s.messages...)
	if s.inFlight != nil {
		msgs = append(msgs, *s.inFlight)
	}

	return msgs
}

// lastAssistantText returns the text of the most recent assistant message.
func (s *runState) lastAssistantText() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if am, ok := s.messages[i].(core.AssistantMessage); ok {
			return am.Text()
		}
	}

	return ""
}
