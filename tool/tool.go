// Package tool implements the tool calling subsystem that lets a run invoke
// structured capabilities (APIs, computations, side effects) with schema
// validated arguments, consistent error handling and metadata for LLM
// guidance.
package tool

import "fmt"

// Tool defines a callable capability exposed to the model.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe; concurrent batches may call siblings in parallel
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case
	// recommended) used in tool-call blocks and routing.
	Name() string

	// Label returns a short human-readable label shown to end users in
	// tool execution events.
	Label() string

	// Description returns a description of what this tool does. It is
	// provided to the LLM to help it decide when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool. The Context carries the call id,
	// cancellation, a progress callback and a logger. Arguments arrive as
	// an already-decoded JSON object (an unparseable payload decodes to an
	// empty object; tools validate their own required fields). The
	// returned value must be JSON-serializable or a plain string.
	Call(toolCtx *Context, args map[string]any) (any, error)
}

// Error represents errors that occur during tool execution.
type Error struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

// Error codes used by the built-in adapters.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodePanic      = "PANIC"
)

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewError creates a new Error with the specified details.
func NewError(tool, message, code string) *Error {
	return &Error{Tool: tool, Message: message, Code: code}
}
