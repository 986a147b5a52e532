package core

import "strings"

// Role identifies the conversational origin of a message.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason explains why an assistant message stopped.
type StopReason string

// Stop reasons surfaced on completed assistant messages.
const (
	StopEndTurn   StopReason = "end_turn"   // Model finished its answer
	StopToolUse   StopReason = "tool_use"   // Model requested tool calls
	StopMaxTokens StopReason = "max_tokens" // Output limit hit
	StopError     StopReason = "error"      // Provider failure mid-turn
	StopAborted   StopReason = "aborted"    // Run cancelled by the caller
)

// Usage is the open-ended usage/cost object attached to a completed
// assistant message. The orchestration core passes it through unchanged;
// field normalization is a provider-adapter responsibility.
type Usage map[string]any

// Message is the closed sum of conversation entries. Concrete message types
// implement the unexported isMessage marker.
type Message interface {
	isMessage()
	Role() Role
}

// UserMessage is caller-authored input, including steering and follow-up
// messages injected mid-run.
type UserMessage struct {
	Content []ContentBlock `json:"content"`
}

func (UserMessage) isMessage() {}

// Role implements Message.
func (UserMessage) Role() Role { return RoleUser }

// AssistantMessage is one model turn. During streaming the driver holds a
// single in-flight AssistantMessage that is replaced wholesale per update;
// once the provider stream completes the message is frozen and appended to
// history.
type AssistantMessage struct {
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason,omitempty"`
	Model      string         `json:"model,omitempty"`
	Usage      Usage          `json:"usage,omitempty"`
}

func (AssistantMessage) isMessage() {}

// Role implements Message.
func (AssistantMessage) Role() Role { return RoleAssistant }

// ToolCalls returns the tool-call blocks of the message preserving order.
func (m AssistantMessage) ToolCalls() []ToolCallBlock {
	var calls []ToolCallBlock
	for _, b := range m.Content {
		if tc, ok := b.(ToolCallBlock); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// Text concatenates the text blocks of the message.
func (m AssistantMessage) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if tb, ok := b.(TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// ToolResultMessage records the outcome of exactly one tool call. Every
// tool-call block in a turn's assistant message gains one ToolResultMessage
// before the next turn begins, unless the run was aborted.
type ToolResultMessage struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Content    []ContentBlock `json:"content"`
	IsError    bool           `json:"is_error,omitempty"`
}

func (ToolResultMessage) isMessage() {}

// Role implements Message.
func (ToolResultMessage) Role() Role { return RoleTool }

// NewUserTextMessage is a convenience constructor for a single-text-block
// user message.
func NewUserTextMessage(text string) UserMessage {
	return UserMessage{Content: []ContentBlock{TextBlock{Text: text}}}
}

// NewToolResultText wraps a plain string result into a ToolResultMessage.
func NewToolResultText(callID, toolName, text string, isError bool) ToolResultMessage {
	return ToolResultMessage{
		ToolCallID: callID,
		ToolName:   toolName,
		Content:    []ContentBlock{TextBlock{Text: text}},
		IsError:    isError,
	}
}
