package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/tool"
)

// executeBatch runs the tool calls of one assistant message under the fixed
// two-phase event contract: every tool_execution_start is emitted before
// any execution begins; end events and result messages follow in call
// order, each call's end event preceding its result entering history.
//
// One call's failure never aborts siblings; it becomes an error-flagged
// ToolResultMessage for that call only. A non-nil return means the run's
// own cancellation was observed; results are discarded and the caller
// transitions to the aborted state.
func (d *Driver) executeBatch(ctx context.Context, run *Run, calls []core.ToolCallBlock, turn int) error {
	// Phase one: announce the whole batch.
	for _, call := range calls {
		ev := core.NewEvent(run.id, core.EventToolExecutionStart)
		ev.Turn = turn
		ev.ToolCallID = call.ID
		ev.ToolName = call.Name
		d.emit(run, ev)
	}

	batchStart := time.Now()
	results := make([]*core.ToolResultMessage, len(calls))

	switch d.opts.ToolMode {
	case ToolModeConcurrent:
		// All calls launch together. Interruption checks defer until the
		// batch completes: launched side effects are never abandoned.
		var wg sync.WaitGroup
		for i := range calls {
			wg.Add(1)
			go func(idx int, call core.ToolCallBlock) {
				defer wg.Done()
				results[idx] = d.executeCall(ctx, run, call)
			}(i, calls[i])
		}
		wg.Wait()

	default:
		for i, call := range calls {
			if ctx.Err() != nil {
				break
			}

			// Sequential batches may skip not-yet-started calls once a
			// steering message is pending; skipped calls still yield a
			// result so every tool call stays paired with one.
			if i > 0 && run.steering.Len() > 0 {
				skipped := core.NewToolResultText(call.ID, call.Name, "Tool execution skipped.", true)
				results[i] = &skipped

				d.logger.Info("tool.batch.skip", "run_id", run.id, "tool", call.Name, "call_id", call.ID)

				continue
			}

			results[i] = d.executeCall(ctx, run, call)
		}
	}

	// Cancellation observed: in-flight calls already finished above, their
	// results are discarded, and the cancellation propagates outward.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for i, call := range calls {
		res := results[i]
		if res == nil {
			// Only reachable for calls skipped by the sequential loop.
			skipped := core.NewToolResultText(call.ID, call.Name, "Tool execution skipped.", true)
			res = &skipped
		}

		ev := core.NewEvent(run.id, core.EventToolExecutionEnd)
		ev.Turn = turn
		ev.ToolCallID = call.ID
		ev.ToolName = call.Name
		ev.ToolResult = res
		d.emit(run, ev)

		run.state.append(*res)
	}

	d.logger.Debug(
		"tool.batch.complete",
		"run_id", run.id,
		"count", len(calls),
		"concurrent", d.opts.ToolMode == ToolModeConcurrent,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return nil
}

// executeCall runs a single tool call, converting failures (including
// recovered panics) into error-flagged results. A nil return means the call
// surfaced the run's own cancellation and must not be coerced into a
// synthetic error.
func (d *Driver) executeCall(ctx context.Context, run *Run, call core.ToolCallBlock) *core.ToolResultMessage {
	impl, ok := d.tools[call.Name]
	if !ok {
		res := core.NewToolResultText(call.ID, call.Name, fmt.Sprintf("tool %s not found", call.Name), true)
		return &res
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			// Unparseable payloads default to an empty object; the tool's
			// own required-field validation reports what is missing.
			d.logger.Warn("tool.args.unparseable", "run_id", run.id, "tool", call.Name, "call_id", call.ID)
			args = map[string]any{}
		}
	}

	progress := func(output string) {
		ev := core.NewEvent(run.id, core.EventToolExecutionUpdate)
		ev.ToolCallID = call.ID
		ev.ToolName = call.Name
		ev.Progress = output
		d.emit(run, ev)
	}

	toolCtx := tool.NewContext(ctx, call.ID, progress, d.logger)

	start := time.Now()

	var (
		result any
		err    error
	)

	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = &tool.Error{
					Tool:    call.Name,
					Message: fmt.Sprintf("panic: %v", r),
					Code:    tool.CodePanic,
					Details: string(debug.Stack()),
				}
				d.logger.Error("tool.call.panic", "run_id", run.id, "tool", call.Name, "recover", fmt.Sprintf("%v", r))
			}
		}()

		result, err = impl.Call(toolCtx, args)
	}()

	d.logger.Info(
		"tool.call.executed",
		"run_id", run.id,
		"tool", call.Name,
		"call_id", call.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		// The run's own cancellation propagates outward instead of being
		// coerced into a synthetic error result.
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil
		}

		res := core.NewToolResultText(call.ID, call.Name, err.Error(), true)
		return &res
	}

	res := core.ToolResultMessage{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    resultContent(result),
	}

	return &res
}

// resultContent converts a tool's return value into content blocks: strings
// pass through, block slices are taken as-is, anything else is marshaled.
func resultContent(result any) []core.ContentBlock {
	switch v := result.(type) {
	case nil:
		return []core.ContentBlock{core.TextBlock{}}
	case string:
		return []core.ContentBlock{core.TextBlock{Text: v}}
	case []core.ContentBlock:
		return v
	case core.ContentBlock:
		return []core.ContentBlock{v}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return []core.ContentBlock{core.TextBlock{Text: fmt.Sprintf("%v", v)}}
		}
		return []core.ContentBlock{core.TextBlock{Text: string(data)}}
	}
}
