package model

import (
	"context"
	"sync"

	"github.com/hupe1980/agentloop/core"
)

// MockTurn scripts one provider round-trip of a MockModel.
type MockTurn struct {
	Text      string               // Streamed as text deltas, then frozen into one text block
	ToolCalls []core.ToolCallBlock // Emitted as tool-call deltas after the text
	Usage     core.Usage           // Passed through on the final message
	Err       error                // If set, the stream fails with this error instead of completing
	Hang      bool                 // If set, the stream blocks until ctx cancellation after the deltas
}

// MockModel is a deterministic in-memory Model for tests and examples. Each
// Stream call consumes the next scripted turn; when the script is exhausted
// the last turn repeats.
type MockModel struct {
	info Info

	mu       sync.Mutex
	turns    []MockTurn
	calls    int
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(turns ...MockTurn) *MockModel {
	return &MockModel{
		info:  Info{Name: "mock", Provider: "mock", SupportsTools: true},
		turns: turns,
	}
}

// AddTurn appends a scripted turn.
func (m *MockModel) AddTurn(turn MockTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = append(m.turns, turn)
}

// Calls returns how many times Stream was invoked.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// Requests returns the recorded requests in call order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

// Stream implements Model; emits scripted deltas then the assembled message.
func (m *MockModel) Stream(ctx context.Context, req Request) (*ResponseStream, error) {
	m.mu.Lock()
	turn := MockTurn{}
	if len(m.turns) > 0 {
		i := m.calls
		if i >= len(m.turns) {
			i = len(m.turns) - 1
		}
		turn = m.turns[i]
	}
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	stream := core.NewStream[Chunk, Response]()

	go func() {
		msg := core.AssistantMessage{Model: m.info.Name, Usage: turn.Usage}
		index := 0

		if turn.Text != "" {
			for _, seg := range splitText(turn.Text, 8) {
				select {
				case <-ctx.Done():
					stream.Fail(ctx.Err())
					return
				default:
				}

				stream.Push(Chunk{ContentIndex: index, Delta: core.Delta{Text: seg}})
			}

			msg.Content = append(msg.Content, core.TextBlock{Text: turn.Text})
			index++
		}

		for _, tc := range turn.ToolCalls {
			stream.Push(Chunk{ContentIndex: index, Delta: core.Delta{
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Arguments:  tc.Arguments,
			}})

			msg.Content = append(msg.Content, tc)
			index++
		}

		if turn.Err != nil {
			stream.Fail(turn.Err)
			return
		}

		if turn.Hang {
			<-ctx.Done()
			stream.Fail(ctx.Err())
			return
		}

		msg.StopReason = core.StopEndTurn
		if len(turn.ToolCalls) > 0 {
			msg.StopReason = core.StopToolUse
		}

		stream.CloseWithResult(Response{Message: msg})
	}()

	return stream, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

func splitText(s string, size int) []string {
	var segs []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		segs = append(segs, string(runes[:n]))
		runes = runes[n:]
	}
	return segs
}
