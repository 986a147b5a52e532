// Package model defines the provider boundary: the contract a streaming
// language-model implementation must satisfy so the run driver stays
// provider-agnostic. Wire-level parsing of vendor streaming formats lives
// entirely inside the adapters (model/anthropic, model/openai); the driver
// only consumes Chunk events and the final Response.
package model

import (
	"context"

	"github.com/hupe1980/agentloop/core"
)

// Definition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by the driver after
// the transform pipeline ran: system prompt plus full message history.
type Request struct {
	System      string         `json:"system,omitempty"`
	Messages    []core.Message `json:"messages"`
	Tools       []Definition   `json:"tools,omitempty"`
	MaxTokens   int64          `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
}

// Chunk is one incremental assistant-message event. ContentIndex addresses
// the content block the delta extends; a new index opens a new block.
type Chunk struct {
	ContentIndex int        `json:"content_index"`
	Delta        core.Delta `json:"delta"`
}

// Response is the final assembled assistant message exposed once iteration
// completes, including the provider's open-ended usage object (passed
// through unchanged by the core).
type Response struct {
	Message core.AssistantMessage `json:"message"`
}

// ResponseStream is the asynchronously iterable response object: Next yields
// Chunks until termination, Result returns the final Response. Adapters must
// terminate the stream on every exit path (Fail on error) so consumers never
// block forever.
type ResponseStream = core.Stream[Chunk, Response]

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "anthropic", "openai", "mock", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the run driver. Distinct wire
// implementations (HTTP streaming client, native binding, passthrough
// proxy) all satisfy this identical contract.
type Model interface {
	// Stream starts one generation round-trip. The returned stream yields
	// incremental chunks and exposes the final assembled message via
	// Result. Implementations spawn their own producer goroutine; the
	// error return covers request construction only.
	Stream(ctx context.Context, req Request) (*ResponseStream, error)

	// Info returns information about the model implementation.
	Info() Info
}
