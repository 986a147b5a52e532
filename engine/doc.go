// Package engine implements the run orchestration core: the Driver owns one
// logical run per Run call, schedules a single background goroutine that
// performs all provider I/O and tool execution, drives the turn state
// machine, and exposes the consumable event stream plus the externally
// injectable steering and follow-up queues.
//
// # Responsibilities (abridged)
//   - Turn lifecycle: context assembly, transform pipeline, provider
//     streaming, in-flight message assembly, history commits
//   - Tool batch execution under the fixed start-before-end event contract
//   - Steering / follow-up queue draining at their defined boundaries
//   - Terminal-state reporting (completed, step_limit_reached, aborted,
//     error); consumers never see a raw background panic
//
// See turn.go for the state machine and batch.go for tool execution.
package engine
