package engine

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolEvents(events []core.Event) []core.Event {
	var out []core.Event
	for _, ev := range events {
		switch ev.Type {
		case core.EventToolExecutionStart, core.EventToolExecutionUpdate, core.EventToolExecutionEnd:
			out = append(out, ev)
		}
	}
	return out
}

func TestBatch_AllStartEventsPrecedeExecution(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{
			{ID: "c1", Name: "t1", Arguments: "{}"},
			{ID: "c2", Name: "t2", Arguments: "{}"},
			{ID: "c3", Name: "t3", Arguments: "{}"},
		}},
		model.MockTurn{Text: "done"},
	)

	ok := func(_ *tool.Context, _ map[string]any) (any, error) { return "ok", nil }
	d := New(m, func(o *Options) {
		o.Tools = []tool.Tool{noArgsTool("t1", ok), noArgsTool("t2", ok), noArgsTool("t3", ok)}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("go"))
	require.NoError(t, err)

	events := toolEvents(collectEvents(t, run))
	require.Len(t, events, 6)

	// Phase one: every start precedes every end, in call order.
	for i, id := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, core.EventToolExecutionStart, events[i].Type)
		assert.Equal(t, id, events[i].ToolCallID)
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, core.EventToolExecutionEnd, events[3+i].Type)
		assert.Equal(t, id, events[3+i].ToolCallID)
	}
}

func TestBatch_EndEventsCarryResults(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{{ID: "c1", Name: "echo", Arguments: `{"msg":"hi"}`}}},
		model.MockTurn{Text: "done"},
	)

	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{"msg": map[string]any{"type": "string"}},
		"required":   []string{"msg"},
	}
	d := New(m, func(o *Options) {
		o.Tools = []tool.Tool{
			tool.NewFunctionTool("echo", "Echo", params, func(_ *tool.Context, args map[string]any) (any, error) {
				return args["msg"], nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("go"))
	require.NoError(t, err)

	events := toolEvents(collectEvents(t, run))
	require.Len(t, events, 2)

	end := events[1]
	require.NotNil(t, end.ToolResult)
	assert.Equal(t, "c1", end.ToolResult.ToolCallID)
	assert.Equal(t, "echo", end.ToolResult.ToolName)
	assert.False(t, end.ToolResult.IsError)
}

func TestBatch_UnparseableArgumentsDefaultToEmptyObject(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{{ID: "c1", Name: "lenient", Arguments: "not json {{"}}},
		model.MockTurn{Text: "done"},
	)

	var received map[string]any
	d := New(m, func(o *Options) {
		o.Tools = []tool.Tool{
			noArgsTool("lenient", func(_ *tool.Context, args map[string]any) (any, error) {
				received = args
				return "ok", nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("go"))
	require.NoError(t, err)
	collectEvents(t, run)

	// The call executed with an empty argument object instead of failing.
	require.NotNil(t, received)
	assert.Empty(t, received)

	result := resultOf(t, run)
	results := toolResults(result.Messages)
	require.Len(t, results, 1)
	assert.False(t, results[0].IsError)
}

func TestBatch_UnknownToolYieldsErrorResult(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{{ID: "c1", Name: "ghost", Arguments: "{}"}}},
		model.MockTurn{Text: "done"},
	)
	d := New(m)

	run, err := d.Run(context.Background(), core.NewUserTextMessage("go"))
	require.NoError(t, err)
	collectEvents(t, run)

	result := resultOf(t, run)
	assert.Equal(t, StatusCompleted, result.Status)

	results := toolResults(result.Messages)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
}

func TestBatch_PanicIsolatedToOneCall(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{
			{ID: "c1", Name: "bomb", Arguments: "{}"},
			{ID: "c2", Name: "calm", Arguments: "{}"},
		}},
		model.MockTurn{Text: "done"},
	)

	d := New(m, func(o *Options) {
		o.Tools = []tool.Tool{
			noArgsTool("bomb", func(_ *tool.Context, _ map[string]any) (any, error) {
				panic("kaboom")
			}),
			noArgsTool("calm", func(_ *tool.Context, _ map[string]any) (any, error) {
				return "fine", nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("go"))
	require.NoError(t, err)
	collectEvents(t, run)

	result := resultOf(t, run)
	assert.Equal(t, StatusCompleted, result.Status)

	results := toolResults(result.Messages)
	require.Len(t, results, 2)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content[0].(core.TextBlock).Text, "kaboom")
	assert.False(t, results[1].IsError)
}

func TestBatch_ProgressEventsRelayed(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{{ID: "c1", Name: "worker", Arguments: "{}"}}},
		model.MockTurn{Text: "done"},
	)

	d := New(m, func(o *Options) {
		o.Tools = []tool.Tool{
			noArgsTool("worker", func(toolCtx *tool.Context, _ map[string]any) (any, error) {
				toolCtx.ReportProgress("halfway")
				return "ok", nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("go"))
	require.NoError(t, err)

	var updates []core.Event
	for _, ev := range collectEvents(t, run) {
		if ev.Type == core.EventToolExecutionUpdate {
			updates = append(updates, ev)
		}
	}

	require.Len(t, updates, 1)
	assert.Equal(t, "halfway", updates[0].Progress)
	assert.Equal(t, "c1", updates[0].ToolCallID)
}

func TestBatch_ConcurrentCallsAllComplete(t *testing.T) {
	m := model.NewMockModel(
		model.MockTurn{ToolCalls: []core.ToolCallBlock{
			{ID: "c1", Name: "slow", Arguments: "{}"},
			{ID: "c2", Name: "fast", Arguments: "{}"},
		}},
		model.MockTurn{Text: "done"},
	)

	d := New(m, func(o *Options) {
		o.ToolMode = ToolModeConcurrent
		o.Tools = []tool.Tool{
			noArgsTool("slow", func(_ *tool.Context, _ map[string]any) (any, error) {
				time.Sleep(40 * time.Millisecond)
				return "slow done", nil
			}),
			noArgsTool("fast", func(_ *tool.Context, _ map[string]any) (any, error) {
				return "fast done", nil
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("go"))
	require.NoError(t, err)
	collectEvents(t, run)

	result := resultOf(t, run)
	results := toolResults(result.Messages)
	require.Len(t, results, 2)

	// End events and history order follow call order even when the second
	// call finished first.
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.Equal(t, "c2", results[1].ToolCallID)
	assert.False(t, results[0].IsError)
	assert.False(t, results[1].IsError)
}

func TestBatch_AbortDiscardsResults(t *testing.T) {
	m := model.NewMockModel(model.MockTurn{ToolCalls: []core.ToolCallBlock{
		{ID: "c1", Name: "gate", Arguments: "{}"},
	}})

	runCh := make(chan *Run, 1)
	d := New(m, func(o *Options) {
		o.Tools = []tool.Tool{
			noArgsTool("gate", func(toolCtx *tool.Context, _ map[string]any) (any, error) {
				r := <-runCh
				r.Abort()
				<-toolCtx.Context().Done()
				return nil, toolCtx.Context().Err()
			}),
		}
	})

	run, err := d.Run(context.Background(), core.NewUserTextMessage("go"))
	require.NoError(t, err)
	runCh <- run

	collectEvents(t, run)
	result := resultOf(t, run)

	assert.Equal(t, StatusAborted, result.Status)
	// The aborted batch's results never enter history.
	assert.Empty(t, toolResults(result.Messages))
}
