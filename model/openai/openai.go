// Package openai adapts the OpenAI Chat Completions API (streaming, with
// function/tool calling) to the generic model boundary. Tool call deltas
// arrive indexed per call; the adapter maps them onto stable content block
// indexes so consumers see one monotonic block layout.
package openai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
	"github.com/openai/openai-go"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// for one tool call index. Internal helper (unexported).
type aggCall struct {
	contentIndex int
	id, name     string
	args         strings.Builder
}

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model
// interface. Cache hints are ignored; OpenAI caches prefixes automatically.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model: openai.ChatModelGPT4oMini,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Stream starts one streaming generation round-trip. The producer goroutine
// relays deltas as chunks and assembles the final assistant message; every
// exit path terminates the returned stream.
func (m *Model) Stream(ctx context.Context, req model.Request) (*model.ResponseStream, error) {
	params := m.buildParams(req)
	stream := core.NewStream[model.Chunk, model.Response]()

	go func() {
		sse := m.client.Chat.Completions.NewStreaming(ctx, params)

		var (
			textBuilder  strings.Builder
			textIndex    = -1
			nextIndex    int
			toolAgg      = map[int64]*aggCall{}
			finishReason string
			usage        core.Usage
		)

		for sse.Next() {
			ck := sse.Current()

			if ck.Usage.TotalTokens > 0 {
				usage = core.Usage{
					"prompt_tokens":     ck.Usage.PromptTokens,
					"completion_tokens": ck.Usage.CompletionTokens,
					"total_tokens":      ck.Usage.TotalTokens,
				}
			}

			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					if textIndex < 0 {
						textIndex = nextIndex
						nextIndex++
					}
					textBuilder.WriteString(ch.Delta.Content)
					stream.Push(model.Chunk{
						ContentIndex: textIndex,
						Delta:        core.Delta{Text: ch.Delta.Content},
					})
				}

				for _, tc := range ch.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{contentIndex: nextIndex}
						nextIndex++
						toolAgg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args.WriteString(tc.Function.Arguments)

					stream.Push(model.Chunk{
						ContentIndex: ac.contentIndex,
						Delta: core.Delta{
							ToolCallID: tc.ID,
							ToolName:   tc.Function.Name,
							Arguments:  tc.Function.Arguments,
						},
					})
				}

				if ch.FinishReason != "" {
					finishReason = ch.FinishReason
				}
			}
		}

		if err := sse.Err(); err != nil {
			stream.Fail(fmt.Errorf("openai streaming error: %w", err))
			return
		}

		if ctx.Err() != nil {
			stream.Fail(ctx.Err())
			return
		}

		stream.CloseWithResult(model.Response{
			Message: core.AssistantMessage{
				Content:    m.assembleContent(&textBuilder, textIndex, toolAgg),
				StopReason: mapFinishReason(finishReason),
				Model:      m.opts.Model,
				Usage:      usage,
			},
		})
	}()

	return stream, nil
}

// assembleContent rebuilds the final content slice in content-index order.
func (m *Model) assembleContent(text *strings.Builder, textIndex int, toolAgg map[int64]*aggCall) []core.ContentBlock {
	type indexed struct {
		index int
		block core.ContentBlock
	}

	var entries []indexed

	if textIndex >= 0 {
		entries = append(entries, indexed{textIndex, core.TextBlock{Text: text.String()}})
	}

	for _, ac := range toolAgg {
		entries = append(entries, indexed{ac.contentIndex, core.ToolCallBlock{
			ID:        ac.id,
			Name:      ac.name,
			Arguments: ac.args.String(),
		}})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })

	content := make([]core.ContentBlock, 0, len(entries))
	for _, e := range entries {
		content = append(content, e.block)
	}

	return content
}

func mapFinishReason(reason string) core.StopReason {
	switch reason {
	case "tool_calls":
		return core.StopToolUse
	case "length":
		return core.StopMaxTokens
	default:
		return core.StopEndTurn
	}
}

// buildParams assembles the OpenAI request parameters including tool
// definitions and usage reporting on the final stream chunk.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: buildMessages(req),
		Model:    m.opts.Model,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, def := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  def.Parameters,
			},
		}
	}
	params.Tools = tools

	return params
}

// buildMessages converts the normalized history into OpenAI chat messages.
// The history already orders tool results directly after their assistant
// message, so translation is positional.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch mm := msg.(type) {
		case core.UserMessage:
			if text := blocksToText(mm.Content); text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
		case core.AssistantMessage:
			toolCalls := extractToolCalls(mm)
			if len(toolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(mm.Text()))
				continue
			}
			messages = append(
				messages,
				openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				}},
			)
		case core.ToolResultMessage:
			messages = append(messages, openai.ToolMessage(blocksToText(mm.Content), mm.ToolCallID))
		}
	}

	return messages
}

// extractToolCalls converts the message's tool call blocks to OpenAI format.
func extractToolCalls(msg core.AssistantMessage) []openai.ChatCompletionMessageToolCallParam {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, call := range msg.ToolCalls() {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return toolCalls
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

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
