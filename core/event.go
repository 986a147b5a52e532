package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates lifecycle events emitted over a run's Stream.
type EventType string

// Event types in emission order within their scopes: a run is bracketed by
// agent_start/agent_end, each turn by turn_start/turn_end, each streamed
// assistant message by message_start/message_end, and each tool call by
// tool_execution_start/tool_execution_end.
const (
	EventAgentStart          EventType = "agent_start"
	EventAgentEnd            EventType = "agent_end"
	EventTurnStart           EventType = "turn_start"
	EventTurnEnd             EventType = "turn_end"
	EventMessageStart        EventType = "message_start"
	EventMessageUpdate       EventType = "message_update"
	EventMessageEnd          EventType = "message_end"
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"
)

// Delta is the incremental payload of a message_update event. Exactly one
// group of fields is populated: Text for text deltas, Thinking for reasoning
// deltas, or the tool-call triple for tool-call deltas. Tool-call deltas
// carry the accumulated id/name and the argument fragment received so far.
type Delta struct {
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	ToolCallID string `json:"id,omitempty"`
	ToolName   string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
}

// Event is the primary unit of communication between the background run
// driver and its consumer. After emission it should be treated as immutable.
// Field population depends on Type:
//
//   - message_*: Message holds the in-flight (update) or frozen (end)
//     assistant message; message_update additionally carries Delta and
//     ContentIndex.
//   - tool_execution_*: ToolCallID/ToolName identify the call; update
//     events carry Progress, end events carry ToolResult.
//   - turn_*: Turn is the zero-based turn index.
//   - agent_end: the engine attaches its terminal result descriptor via the
//     stream result; the event itself marks ordering only.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Turn int `json:"turn,omitempty"`

	Message      Message `json:"message,omitempty"`
	Delta        *Delta  `json:"delta,omitempty"`
	ContentIndex int     `json:"content_index,omitempty"`

	ToolCallID string             `json:"tool_call_id,omitempty"`
	ToolName   string             `json:"tool_name,omitempty"`
	Progress   string             `json:"progress,omitempty"`
	ToolResult *ToolResultMessage `json:"tool_result,omitempty"`
}

// NewEvent creates an event of the given type bound to a run.
func NewEvent(runID string, t EventType) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// NewID generates a new unique identifier for runs, events and tool calls.
func NewID() string { return uuid.NewString() }
