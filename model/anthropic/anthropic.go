// Package anthropic adapts the Anthropic Messages API (streaming) to the
// generic model boundary.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

// Options configures the Anthropic model adapter (model id, API key).
// Extend via functional options to preserve stability.
type Options struct {
	Model  anthropic.Model
	APIKey string
}

// Model wraps the Anthropic Messages API behind the generic model.Model
// interface. Cache hints on content blocks are translated into ephemeral
// cache_control annotations on the wire.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model: anthropic.ModelClaude3_5Sonnet20241022,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model: anthropic.ModelClaude3_5Sonnet20241022,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Stream starts one streaming generation round-trip. The producer goroutine
// relays content block deltas as chunks and assembles the final assistant
// message; every exit path terminates the returned stream.
func (m *Model) Stream(ctx context.Context, req model.Request) (*model.ResponseStream, error) {
	params := anthropic.MessageNewParams{
		Model:    m.opts.Model,
		Messages: m.buildMessages(req.Messages),
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = req.MaxTokens
	} else {
		params.MaxTokens = 4096
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		params.Tools = m.buildTools(req.Tools)
	}

	stream := core.NewStream[model.Chunk, model.Response]()

	go func() {
		sse := m.client.Messages.NewStreaming(ctx, params)

		var (
			blocks     []*blockAccumulator
			stopReason string
			usage      core.Usage
		)

		for sse.Next() {
			event := sse.Current()

			switch event.Type {
			case "message_start":
				usage = core.Usage{
					"input_tokens":                event.Message.Usage.InputTokens,
					"cache_creation_input_tokens": event.Message.Usage.CacheCreationInputTokens,
					"cache_read_input_tokens":     event.Message.Usage.CacheReadInputTokens,
				}

			case "content_block_start":
				idx := int(event.Index)
				for len(blocks) <= idx {
					blocks = append(blocks, &blockAccumulator{kind: "text"})
				}

				acc := blocks[idx]
				acc.kind = event.ContentBlock.Type

				if event.ContentBlock.Type == "tool_use" {
					acc.id = event.ContentBlock.ID
					acc.name = event.ContentBlock.Name

					stream.Push(model.Chunk{
						ContentIndex: idx,
						Delta: core.Delta{
							ToolCallID: acc.id,
							ToolName:   acc.name,
						},
					})
				}

			case "content_block_delta":
				idx := int(event.Index)
				if idx >= len(blocks) {
					continue
				}

				acc := blocks[idx]

				switch event.Delta.Type {
				case "text_delta":
					acc.text.WriteString(event.Delta.Text)
					stream.Push(model.Chunk{
						ContentIndex: idx,
						Delta:        core.Delta{Text: event.Delta.Text},
					})
				case "input_json_delta":
					acc.args.WriteString(event.Delta.PartialJSON)
					stream.Push(model.Chunk{
						ContentIndex: idx,
						Delta:        core.Delta{Arguments: event.Delta.PartialJSON},
					})
				case "thinking_delta":
					acc.thinking.WriteString(event.Delta.Thinking)
					stream.Push(model.Chunk{
						ContentIndex: idx,
						Delta:        core.Delta{Thinking: event.Delta.Thinking},
					})
				case "signature_delta":
					acc.signature.WriteString(event.Delta.Signature)
				}

			case "message_delta":
				if event.Delta.StopReason != "" {
					stopReason = string(event.Delta.StopReason)
				}
				if usage == nil {
					usage = core.Usage{}
				}
				usage["output_tokens"] = event.Usage.OutputTokens
			}
		}

		if err := sse.Err(); err != nil {
			stream.Fail(fmt.Errorf("anthropic api error: %w", err))
			return
		}

		if ctx.Err() != nil {
			stream.Fail(ctx.Err())
			return
		}

		stream.CloseWithResult(model.Response{
			Message: core.AssistantMessage{
				Content:    assembleContent(blocks),
				StopReason: mapStopReason(stopReason),
				Model:      string(m.opts.Model),
				Usage:      usage,
			},
		})
	}()

	return stream, nil
}

// blockAccumulator assembles one content block across its delta events.
type blockAccumulator struct {
	kind      string
	text      strings.Builder
	thinking  strings.Builder
	signature strings.Builder
	id        string
	name      string
	args      strings.Builder
}

func assembleContent(blocks []*blockAccumulator) []core.ContentBlock {
	var content []core.ContentBlock

	for _, acc := range blocks {
		switch acc.kind {
		case "tool_use":
			content = append(content, core.ToolCallBlock{
				ID:        acc.id,
				Name:      acc.name,
				Arguments: acc.args.String(),
			})
		case "thinking":
			content = append(content, core.ThinkingBlock{
				Thinking:  acc.thinking.String(),
				Signature: acc.signature.String(),
			})
		default:
			content = append(content, core.TextBlock{Text: acc.text.String()})
		}
	}

	return content
}

func mapStopReason(reason string) core.StopReason {
	switch reason {
	case "tool_use":
		return core.StopToolUse
	case "max_tokens":
		return core.StopMaxTokens
	default:
		return core.StopEndTurn
	}
}

// buildMessages converts the normalized history to Anthropic message params.
// Tool results become tool_result blocks inside a user message; consecutive
// results merge into one message so batches stay wire-legal.
func (m *Model) buildMessages(messages []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam

	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch mm := msg.(type) {
		case core.UserMessage:
			flushResults()
			if content := m.buildUserContent(mm.Content); len(content) > 0 {
				out = append(out, anthropic.NewUserMessage(content...))
			}
		case core.AssistantMessage:
			flushResults()
			if content := m.buildAssistantContent(mm.Content); len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
		case core.ToolResultMessage:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(
				mm.ToolCallID,
				blocksToText(mm.Content),
				mm.IsError,
			))
		}
	}

	flushResults()

	return out
}

// buildUserContent builds content for user messages, translating cache hints.
func (m *Model) buildUserContent(blocks []core.ContentBlock) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	for _, b := range blocks {
		switch block := b.(type) {
		case core.TextBlock:
			if block.Text == "" {
				continue
			}
			param := anthropic.NewTextBlock(block.Text)
			if block.CacheHint {
				param.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			content = append(content, param)
		case core.ImageBlock:
			param := anthropic.NewImageBlockBase64(block.MimeType, block.Data)
			if block.CacheHint {
				param.OfImage.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			content = append(content, param)
		}
	}

	return content
}

// buildAssistantContent builds content for assistant messages.
func (m *Model) buildAssistantContent(blocks []core.ContentBlock) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	for _, b := range blocks {
		switch block := b.(type) {
		case core.TextBlock:
			if block.Text != "" {
				content = append(content, anthropic.NewTextBlock(block.Text))
			}
		case core.ThinkingBlock:
			content = append(content, anthropic.NewThinkingBlock(block.Signature, block.Thinking))
		case core.ToolCallBlock:
			var input any
			if block.Arguments != "" {
				if err := json.Unmarshal([]byte(block.Arguments), &input); err != nil {
					input = block.Arguments // fallback to string
				}
			}
			content = append(content, anthropic.NewToolUseBlock(block.ID, input, block.Name))
		}
	}

	return content
}

// buildTools converts tool definitions to the Anthropic tool format.
func (m *Model) buildTools(tools []model.Definition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, def := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if def.Parameters != nil {
			if properties, exists := def.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := def.Parameters["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}

		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, def.Name)
	}

	return anthropicTools
}

func blocksToText(blocks []core.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if tb, ok := b.(core.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
