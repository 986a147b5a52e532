package engine

import (
	"context"
	"errors"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

// drive runs the turn state machine to a terminal state. It runs entirely
// on the run's background goroutine and always terminates the event stream
// with a Result; provider failures become StatusError, cancellation becomes
// StatusAborted, and neither surfaces as a raw stream exception.
func (d *Driver) drive(ctx context.Context, run *Run) {
	d.emit(run, core.NewEvent(run.id, core.EventAgentStart))
	d.logger.Info("run.start", "run_id", run.id, "model", d.model.Info().Name)

	status := StatusCompleted
	errMessage := ""
	turns := 0

loop:
	for {
		if ctx.Err() != nil {
			status = StatusAborted
			break
		}

		if turns >= d.maxTurns() {
			status = StatusStepLimit
			break
		}

		turnEv := core.NewEvent(run.id, core.EventTurnStart)
		turnEv.Turn = turns
		d.emit(run, turnEv)

		assistant, err := d.streamAssistant(ctx, run, turns)

		switch {
		case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)):
			status = StatusAborted
			d.endTurn(run, turns)
			turns++

			break loop

		case err != nil:
			// Provider failure: record once, append a descriptive assistant
			// message with the error stop reason, end the run.
			run.state.setErr(err)
			run.state.append(core.AssistantMessage{
				Content:    []core.ContentBlock{core.TextBlock{Text: err.Error()}},
				StopReason: core.StopError,
				Model:      d.model.Info().Name,
			})

			status = StatusError
			errMessage = err.Error()
			d.logger.Error("run.provider.error", "run_id", run.id, "turn", turns, "error", err.Error())
			d.endTurn(run, turns)
			turns++

			break loop
		}

		run.state.append(assistant)

		endEv := core.NewEvent(run.id, core.EventMessageEnd)
		endEv.Turn = turns
		endEv.Message = assistant
		d.emit(run, endEv)

		calls := assistant.ToolCalls()
		if len(calls) > 0 {
			if err := d.executeBatch(ctx, run, calls, turns); err != nil {
				// Cancellation propagated out of the batch: results were
				// discarded, the run aborts.
				status = StatusAborted
				d.endTurn(run, turns)
				turns++

				break loop
			}

			// Steering is polled exactly once per tool-batch boundary,
			// after the whole batch finished.
			for _, msg := range run.steering.Drain() {
				run.state.append(msg)
			}

			d.endTurn(run, turns)
			turns++

			continue
		}

		// No tool calls requested: poll follow-up exactly once.
		if followUps := run.followUp.Drain(); len(followUps) > 0 {
			for _, msg := range followUps {
				run.state.append(msg)
			}

			d.endTurn(run, turns)
			turns++

			continue
		}

		d.endTurn(run, turns)
		turns++

		break
	}

	d.emit(run, core.NewEvent(run.id, core.EventAgentEnd))
	d.logger.Info("run.end", "run_id", run.id, "status", string(status), "turns", turns)

	run.events.CloseWithResult(Result{
		Status:       status,
		Text:         run.state.lastAssistantText(),
		Messages:     run.state.history(),
		Turns:        turns,
		ErrorMessage: errMessage,
	})
}

func (d *Driver) maxTurns() int {
	if d.opts.MaxTurns > 0 {
		return d.opts.MaxTurns
	}
	return 20
}

func (d *Driver) endTurn(run *Run, turn int) {
	ev := core.NewEvent(run.id, core.EventTurnEnd)
	ev.Turn = turn
	d.emit(run, ev)
}

func (d *Driver) emit(run *Run, ev core.Event) {
	run.events.Push(ev)
}

// streamAssistant performs one provider round-trip: build context from
// system prompt + history, pass it through the transform pipeline, invoke
// the provider boundary, and consume the chunk iterator into the single
// in-flight assistant message (replaced wholesale per update). The frozen
// message comes from the provider's Result accessor.
func (d *Driver) streamAssistant(ctx context.Context, run *Run, turn int) (core.AssistantMessage, error) {
	var zero core.AssistantMessage

	messages, err := d.pipeline.Apply(ctx, run.state.history())
	if err != nil {
		return zero, err
	}

	stream, err := d.model.Stream(ctx, model.Request{
		System:      d.opts.SystemPrompt,
		Messages:    messages,
		Tools:       d.defs,
		MaxTokens:   d.opts.MaxTokens,
		Temperature: d.opts.Temperature,
	})
	if err != nil {
		return zero, err
	}

	startEv := core.NewEvent(run.id, core.EventMessageStart)
	startEv.Turn = turn
	d.emit(run, startEv)

	inFlight := core.AssistantMessage{Model: d.model.Info().Name}
	run.state.setInFlight(inFlight)

	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, core.ErrStreamDone) {
			break
		}
		if err != nil {
			run.state.clearInFlight()
			return zero, err
		}

		inFlight = applyDelta(inFlight, chunk)
		run.state.setInFlight(inFlight)

		updateEv := core.NewEvent(run.id, core.EventMessageUpdate)
		updateEv.Turn = turn
		updateEv.Message = inFlight
		updateEv.Delta = &chunk.Delta
		updateEv.ContentIndex = chunk.ContentIndex
		d.emit(run, updateEv)
	}

	resp, err := stream.Result(ctx)
	run.state.clearInFlight()
	if err != nil {
		return zero, err
	}

	return resp.Message, nil
}

// applyDelta extends a copy of the in-flight message with one chunk. The
// content index addresses the block the delta extends; an index at or past
// the end opens a new block. Update events strictly and monotonically
// extend the partial message.
func applyDelta(msg core.AssistantMessage, chunk model.Chunk) core.AssistantMessage {
	content := append([]core.ContentBlock(nil), msg.Content...)
	delta := chunk.Delta

	if chunk.ContentIndex < len(content) {
		switch b := content[chunk.ContentIndex].(type) {
		case core.TextBlock:
			b.Text += delta.Text
			content[chunk.ContentIndex] = b
		case core.ThinkingBlock:
			b.Thinking += delta.Thinking
			content[chunk.ContentIndex] = b
		case core.ToolCallBlock:
			if delta.ToolCallID != "" {
				b.ID = delta.ToolCallID
			}
			if delta.ToolName != "" {
				b.Name = delta.ToolName
			}
			b.Arguments += delta.Arguments
			content[chunk.ContentIndex] = b
		}
	} else {
		switch {
		case delta.ToolCallID != "" || delta.ToolName != "" || delta.Arguments != "":
			content = append(content, core.ToolCallBlock{
				ID:        delta.ToolCallID,
				Name:      delta.ToolName,
				Arguments: delta.Arguments,
			})
		case delta.Thinking != "":
			content = append(content, core.ThinkingBlock{Thinking: delta.Thinking})
		default:
			content = append(content, core.TextBlock{Text: delta.Text})
		}
	}

	msg.Content = content

	return msg
}
