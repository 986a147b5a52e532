package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, run *Run) []core.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []core.Event
	for {
		ev, err := run.Next(ctx)
		if errors.Is(err, core.ErrStreamDone) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func resultOf(t *testing.T, run *Run) Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := run.Result(ctx)
	require.NoError(t, err)
	return result
}

func eventTypes(events []core.Event) []core.EventType {
	types := make([]core.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func noArgsTool(name string, fn func(toolCtx *tool.Context, args map[string]any) (any, error)) tool.Tool {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	return tool.NewFunctionTool(name, name, params, fn)
}

func userTexts(messages []core.Message) []string {
	var texts []string
	for _, msg := range messages {
		if um, ok := msg.(core.UserMessage); ok {
			for _, b := range um.Content {
				if tb, ok := b.(core.TextBlock); ok {
					texts = append(texts, tb.Text)
				}
			}
		}
	}
	return texts
}

func toolResults(messages []core.Message) []core.ToolResultMessage {
	var results []core.ToolResultMessage
	for _, msg := range messages {
		if tr, ok := msg.(core.ToolResultMessage); ok {
			results = append(results, tr)
		}
	}
	return results
}

func TestRun_SimpleCompletion(t *testing.T) {
	m := model.NewMockModel(model.MockTurn{Text: "Hello there, streaming response!"})
	d := New(m)

	run, err := d.Run(context.Background(), core.NewUserTextMessage("hi"))
	require.NoError(t, err)

	events := collectEvents(t, run)
	types := eventTypes(events)

	require.NotEmpty(t, types)
	assert.Equal(t, core.EventAgentStart, types[0])
	assert.Equal(t, core.EventAgentEnd, types[len(types)-1])
	assert.Contains(t, types, core.EventTurnStart)
	assert.Contains(t, types, core.EventMessageStart)
	assert.Contains(t, types, core.EventMessageUpdate)
	assert.Contains(t, types, core.EventMessageEnd)
	assert.Contains(t, types, core.EventTurnEnd)

	result := resultOf(t, run)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "Hello there, streaming response!", result.Text)
	assert.Equal(t, 1, result.Turns)
}

func TestRun_UpdateEventsExtendInFlightMessage(t *testing.T) {
	m := model.NewMockModel(model.MockTurn{Text: "abcdefghijklmnop"})
	d := New(m)

	run, err := d.Run(context.Background(), core.NewUserTextMessage("hi"))
	require.NoError(t, err)

	var previous string
	for _, ev := range collectEvents(t, run) {
		if ev.Type != core.EventMessageUpdate {
			continue
		}

		am, ok := ev.Message.(core.AssistantMessage)
		require.True(t, ok)

		// Each update strictly extends the previous partial text.
		current := am.Text()
		assert.True(t, len(current) > len(previous))
		assert.Equal(t, previous, current[:len(previous)])
		previous = current
	}

	assert.Equal(t, "abcdefghijklmnop", previous)
}

func TestRun_EmptyPromptRejected(t *testing.T) {
	d := New(model.NewMockModel())

	_, err := d.Run(context.Background(), core.UserMessage{})
	assert.Error(t, err)
}

func TestRun_ToolLoopWithFailureIsolation(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{
			{ID: "c1", Name: "ok_tool", Arguments: "{}"},
			{ID: "c2", Name: "fail_tool", Arguments: "{}"},
		}},
		model.MockTurn{Text: "done"},
	)

	d := New(m, func(o *Options) {
		o.Tools = []tool.Tool{
			noArgsTool("ok_tool", func(_ *tool.Context, _ map[string]any) (any, error) {
				return "fine", nil
			}),
			noArgsTool("fail_tool", func(_ *tool.Context, _ map[string]any) (any, error) {
				return nil, errors.New("broken")
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("go"))
	require.NoError(t, err)

	collectEvents(t, run)
	result := resultOf(t, run)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "done", result.Text)
	assert.Equal(t, 2, result.Turns)

	results := toolResults(result.Messages)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.False(t, results[0].IsError)
	assert.Equal(t, "c2", results[1].ToolCallID)
	assert.True(t, results[1].IsError)
}

func TestRun_StepLimitReached(t *testing.T) {
	m := model.NewMockModel(model.MockTurn{ToolCalls: []core.ToolCallBlock{
		{ID: "c1", Name: "loop_tool", Arguments: "{}"},
	}})

	d := New(m, func(o *Options) {
		o.MaxTurns = 1
		o.Tools = []tool.Tool{
			noArgsTool("loop_tool", func(_ *tool.Context, _ map[string]any) (any, error) {
				return "again", nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("go"))
	require.NoError(t, err)

	collectEvents(t, run)
	result := resultOf(t, run)

	assert.Equal(t, StatusStepLimit, result.Status)
	assert.Equal(t, 1, result.Turns)
	// Partial output survives: the tool result is in history.
	assert.Len(t, toolResults(result.Messages), 1)
}

func TestRun_ProviderErrorTerminatesRun(t *testing.T) {
	boom := errors.New("model unavailable")
	m := model.NewMockModel(model.MockTurn{Err: boom})
	d := New(m)

	run, err := d.Run(context.Background(), core.NewUserTextMessage("hi"))
	require.NoError(t, err)

	events := collectEvents(t, run)
	types := eventTypes(events)
	assert.Equal(t, core.EventAgentEnd, types[len(types)-1])

	result := resultOf(t, run)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "model unavailable")

	// The failure is recorded as an assistant message with the error stop
	// reason, not surfaced as a stream exception.
	last := result.Messages[len(result.Messages)-1]
	am, ok := last.(core.AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, core.StopError, am.StopReason)
}

func TestRun_AbortDuringProviderStream(t *testing.T) {
	m := model.NewMockModel(model.MockTurn{Text: "partial", Hang: true})
	d := New(m)

	run, err := d.Run(context.Background(), core.NewUserTextMessage("hi"))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		run.Abort()
	}()

	events := collectEvents(t, run)
	types := eventTypes(events)
	assert.Equal(t, core.EventAgentStart, types[0])
	assert.Equal(t, core.EventAgentEnd, types[len(types)-1])

	result := resultOf(t, run)
	assert.Equal(t, StatusAborted, result.Status)
}

func TestRun_CancelByID(t *testing.T) {
	m := model.NewMockModel(model.MockTurn{Hang: true})
	d := New(m)

	run, err := d.Run(context.Background(), core.NewUserTextMessage("hi"))
	require.NoError(t, err)

	require.NoError(t, d.Cancel(run.ID()))

	collectEvents(t, run)
	result := resultOf(t, run)
	assert.Equal(t, StatusAborted, result.Status)

	// The run deregisters on termination.
	assert.Eventually(t, func() bool {
		return d.Cancel(run.ID()) != nil
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, d.Cancel("no-such-run"))
}

func TestRun_FollowUpExtendsRun(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{{ID: "c1", Name: "gate", Arguments: "{}"}}},
		model.MockTurn{Text: "first answer"},
	)

	release := make(chan struct{})
	d := New(m, func(o *Options) {
		o.Tools = []tool.Tool{
			noArgsTool("gate", func(_ *tool.Context, _ map[string]any) (any, error) {
				<-release
				return "opened", nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("start"))
	require.NoError(t, err)

	// Queue both follow-ups while the run is held inside the tool call, then
	// let it proceed.
	run.FollowUp(core.NewUserTextMessage("follow-up one"))
	run.FollowUp(core.NewUserTextMessage("follow-up two"))
	close(release)

	collectEvents(t, run)
	result := resultOf(t, run)

	assert.Equal(t, StatusCompleted, result.Status)
	// Tool turn + answer + one extra turn per follow-up.
	assert.Equal(t, 4, result.Turns)
	assert.Equal(t, 4, m.Calls())

	// Follow-ups enter history in injection order.
	texts := userTexts(result.Messages)
	assert.Equal(t, []string{"start", "follow-up one", "follow-up two"}, texts)
}

func TestRun_SteeringSkipsRemainingSequentialCalls(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{
			{ID: "c1", Name: "steered", Arguments: "{}"},
			{ID: "c2", Name: "victim", Arguments: "{}"},
		}},
		model.MockTurn{Text: "redirected"},
	)

	runCh := make(chan *Run, 1)
	victimRan := false

	d := New(m, func(o *Options) {
		o.Tools = []tool.Tool{
			noArgsTool("steered", func(_ *tool.Context, _ map[string]any) (any, error) {
				r := <-runCh
				r.Steer(core.NewUserTextMessage("change of plans"))
				return "ok", nil
			}),
			noArgsTool("victim", func(_ *tool.Context, _ map[string]any) (any, error) {
				victimRan = true
				return "should not run", nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("start"))
	require.NoError(t, err)
	runCh <- run

	collectEvents(t, run)
	result := resultOf(t, run)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.False(t, victimRan)

	results := toolResults(result.Messages)
	require.Len(t, results, 2)
	assert.False(t, results[0].IsError)
	assert.True(t, results[1].IsError) // skipped call yields an error-flagged result

	// The steering message precedes the next provider call.
	texts := userTexts(result.Messages)
	assert.Equal(t, []string{"start", "change of plans"}, texts)

	require.Equal(t, 2, m.Calls())
	secondRequest := m.Requests()[1]
	assert.Contains(t, userTexts(secondRequest.Messages), "change of plans")
}

func TestRun_SteeringDefersDuringConcurrentBatch(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{
			{ID: "c1", Name: "steered", Arguments: "{}"},
			{ID: "c2", Name: "sibling", Arguments: "{}"},
		}},
		model.MockTurn{Text: "redirected"},
	)

	runCh := make(chan *Run, 1)

	d := New(m, func(o *Options) {
		o.ToolMode = ToolModeConcurrent
		o.Tools = []tool.Tool{
			noArgsTool("steered", func(_ *tool.Context, _ map[string]any) (any, error) {
				r := <-runCh
				r.Steer(core.NewUserTextMessage("change of plans"))
				return "ok", nil
			}),
			noArgsTool("sibling", func(_ *tool.Context, _ map[string]any) (any, error) {
				time.Sleep(30 * time.Millisecond)
				return "also ok", nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("start"))
	require.NoError(t, err)
	runCh <- run

	collectEvents(t, run)
	result := resultOf(t, run)

	assert.Equal(t, StatusCompleted, result.Status)

	// Concurrent batches never skip: both calls completed normally and the
	// steering message was injected only after the batch.
	results := toolResults(result.Messages)
	require.Len(t, results, 2)
	assert.False(t, results[0].IsError)
	assert.False(t, results[1].IsError)
	assert.Contains(t, userTexts(result.Messages), "change of plans")
}

func TestRun_SystemPromptAndToolsForwarded(t *testing.T) {
	m := model.NewMockModel(model.MockTurn{Text: "ok"})

	d := New(m, func(o *Options) {
		o.SystemPrompt = "be terse"
		o.Tools = []tool.Tool{
			noArgsTool("probe", func(_ *tool.Context, _ map[string]any) (any, error) {
				return nil, nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("hi"))
	require.NoError(t, err)
	collectEvents(t, run)

	require.Equal(t, 1, m.Calls())
	req := m.Requests()[0]
	assert.Equal(t, "be terse", req.System)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "probe", req.Tools[0].Name)
}

func TestRun_CacheMarkingAppliedToRequests(t *testing.T) {
	m := model.NewMockModel(model.MockTurn{Text: "ok"})
	d := New(m)

	run, err := d.Run(context.Background(), core.NewUserTextMessage("cache me"))
	require.NoError(t, err)
	collectEvents(t, run)

	req := m.Requests()[0]
	um, ok := req.Messages[0].(core.UserMessage)
	require.True(t, ok)
	assert.True(t, um.Content[0].(core.TextBlock).CacheHint)

	// History keeps the unmarked original; marking happens per request.
	result := resultOf(t, run)
	original, ok := result.Messages[0].(core.UserMessage)
	require.True(t, ok)
	assert.False(t, original.Content[0].(core.TextBlock).CacheHint)
}

func TestRun_MessagesSnapshotDuringRun(t *testing.T) {
	m := model.NewMockModel(model.MockTurn{ToolCalls: []core.ToolCallBlock{{ID: "c1", Name: "gate", Arguments: "{}"}}},
		model.MockTurn{Text: "done"})

	release := make(chan struct{})
	d := New(m, func(o *Options) {
		o.Tools = []tool.Tool{
			noArgsTool("gate", func(_ *tool.Context, _ map[string]any) (any, error) {
				<-release
				return "opened", nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("start"))
	require.NoError(t, err)

	// While the tool holds the run, the snapshot already contains the prompt
	// and the frozen assistant message that requested the call.
	assert.Eventually(t, func() bool {
		return len(run.Messages()) >= 2
	}, time.Second, 5*time.Millisecond)

	close(release)
	collectEvents(t, run)

	result := resultOf(t, run)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Len(t, result.Messages, 4) // prompt, tool request, tool result, answer
}
