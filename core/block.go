package core

// ContentBlock represents a polymorphic segment of message content. Concrete
// block types implement the unexported isBlock marker enabling a closed set.
type ContentBlock interface{ isBlock() }

// TextBlock is a plain text content segment.
type TextBlock struct {
	Text string `json:"text"`
	// CacheHint marks this block as the trailing edge of a stable prefix.
	// Providers supporting prefix caching translate it into their own wire
	// annotation; providers that do not simply ignore it.
	CacheHint bool `json:"cache_hint,omitempty"`
}

// isBlock implements the ContentBlock interface for TextBlock.
func (TextBlock) isBlock() {}

// ToolCallBlock is a tool invocation requested by the assistant.
type ToolCallBlock struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // Serialized JSON argument payload
}

// isBlock implements the ContentBlock interface for ToolCallBlock.
func (ToolCallBlock) isBlock() {}

// ThinkingBlock carries extended reasoning output emitted before the visible
// answer. Signature is the provider's opaque integrity token, if any.
type ThinkingBlock struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

// isBlock implements the ContentBlock interface for ThinkingBlock.
func (ThinkingBlock) isBlock() {}

// ImageBlock is an inline image attachment.
type ImageBlock struct {
	MimeType  string `json:"mime_type"`
	Data      string `json:"data"` // Base64 encoded contents
	CacheHint bool   `json:"cache_hint,omitempty"`
}

// isBlock implements the ContentBlock interface for ImageBlock.
func (ImageBlock) isBlock() {}
