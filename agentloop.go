// Package agentloop provides a high-level façade over the run driver for the
// common single-agent case. Most applications interact with this package by:
//  1. Creating an Agent via New() with a provider model (model/anthropic,
//     model/openai or a custom implementation)
//  2. Starting runs asynchronously (Run) or synchronously (RunSync)
//  3. Consuming the run's event stream, or just its terminal result
//
// The façade delegates orchestration to engine.Driver while keeping setup
// ergonomics concise. Defaults are safe for local development and testing;
// production deployments typically supply a structured logger and explicit
// limits.
package agentloop

import (
	"context"
	"errors"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/engine"
	"github.com/hupe1980/agentloop/model"
)

// Options re-exports the driver configuration for façade users.
type Options = engine.Options

// Agent is the high-level façade wrapping one configured run driver.
type Agent struct {
	driver *engine.Driver
}

// New creates an Agent backed by the given model with optional overrides.
func New(m model.Model, optFns ...func(o *Options)) *Agent {
	return &Agent{driver: engine.New(m, optFns...)}
}

// Run starts an asynchronous run returning the run handle. Consume events
// via the handle's Next/Events and the terminal result via Result.
func (a *Agent) Run(ctx context.Context, prompt core.UserMessage) (*engine.Run, error) {
	return a.driver.Run(ctx, prompt)
}

// RunText is a convenience wrapper starting a run from a plain text prompt.
func (a *Agent) RunText(ctx context.Context, text string) (*engine.Run, error) {
	return a.driver.Run(ctx, core.NewUserTextMessage(text))
}

// RunSync is a synchronous helper that drains the run's events and returns
// the collected events alongside the terminal result.
func (a *Agent) RunSync(ctx context.Context, prompt core.UserMessage) ([]core.Event, engine.Result, error) {
	run, err := a.driver.Run(ctx, prompt)
	if err != nil {
		return nil, engine.Result{}, err
	}

	var events []core.Event
	for {
		ev, err := run.Next(ctx)
		if errors.Is(err, core.ErrStreamDone) {
			break
		}
		if err != nil {
			// Context cancellation or a producer failure: return what was
			// collected so far.
			return events, engine.Result{}, err
		}
		events = append(events, ev)
	}

	result, err := run.Result(ctx)
	if err != nil {
		return events, engine.Result{}, err
	}

	return events, result, nil
}

// Cancel aborts a running run by ID.
func (a *Agent) Cancel(runID string) error { return a.driver.Cancel(runID) }
