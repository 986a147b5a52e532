package engine

import (
	"context"

	"github.com/hupe1980/agentloop/core"
)

// Status is the terminal state descriptor of a run.
type Status string

// Terminal run states.
const (
	StatusCompleted Status = "completed"
	StatusStepLimit Status = "step_limit_reached"
	StatusAborted   Status = "aborted"
	StatusError     Status = "error"
)

// Result describes how a run ended. Runs ending in step_limit_reached or
// aborted still carry the partial output accumulated so far.
type Result struct {
	Status       Status         `json:"status"`
	Text         string         `json:"text,omitempty"` // Text of the final assistant message
	Messages     []core.Message `json:"messages"`       // Full committed history
	Turns        int            `json:"turns"`          // Completed provider round-trips
	ErrorMessage string         `json:"error_message,omitempty"`
}

// EventStream is the consumable stream of one run: lifecycle events plus
// the terminal Result.
type EventStream = core.Stream[core.Event, Result]

// Run is the handle to one logical run. All methods are safe to call from
// outside the background goroutine at any time; the two queues are the only
// externally mutable structures and are drained solely by the driver.
type Run struct {
	id       string
	events   *EventStream
	steering *core.MessageQueue
	followUp *core.MessageQueue
	state    *runState
	cancel   context.CancelFunc
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Events returns the run's event stream. Iterate with Next until
// core.ErrStreamDone; the terminal Result is available via Result.
func (r *Run) Events() *EventStream { return r.events }

// Next yields the next lifecycle event (convenience for Events().Next).
func (r *Run) Next(ctx context.Context) (core.Event, error) {
	return r.events.Next(ctx)
}

// Result blocks until the run reaches a terminal state.
func (r *Run) Result(ctx context.Context) (Result, error) {
	return r.events.Result(ctx)
}

// Steer queues an out-of-band message redirecting the run. It is drained
// exactly once per tool-batch boundary, after the whole batch finishes;
// never mid-batch, since started tool side effects are not abandoned.
func (r *Run) Steer(msg core.UserMessage) { r.steering.Push(msg) }

// FollowUp queues a message extending a run that would otherwise end. It is
// drained exactly once per turn boundary when the model requested no tools.
func (r *Run) FollowUp(msg core.UserMessage) { r.followUp.Push(msg) }

// Abort cancels the run. The driver observes the signal at every state
// transition and inside the provider iteration loop; in-flight concurrent
// tool calls are allowed to finish but their results are discarded, and the
// run terminates with StatusAborted rather than an error.
func (r *Run) Abort() { r.cancel() }

// Messages returns a snapshot of the conversation including the in-flight
// assistant message, if one is streaming.
func (r *Run) Messages() []core.Message { return r.state.snapshot() }
