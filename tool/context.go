package tool

import (
	"context"

	"github.com/hupe1980/agentloop/logging"
)

// Context is the scoped execution environment handed to a tool call. It
// carries the ambient cancellation context, the tool-call id correlating
// the model request with the execution events, an optional progress
// callback surfacing incremental output, and a logger.
type Context struct {
	ctx      context.Context
	callID   string
	progress func(output string)
	logger   logging.Logger
}

// NewContext constructs a tool Context. A nil progress callback and nil
// logger are replaced with no-ops so tools can call both unconditionally.
func NewContext(ctx context.Context, callID string, progress func(output string), logger logging.Logger) *Context {
	if progress == nil {
		progress = func(string) {}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return &Context{ctx: ctx, callID: callID, progress: progress, logger: logger}
}

// Context returns the ambient cancellation context. Tools performing I/O
// must honor it.
func (c *Context) Context() context.Context { return c.ctx }

// CallID returns the tool-call identifier issued by the model.
func (c *Context) CallID() string { return c.callID }

// ReportProgress surfaces incremental output as a tool_execution_update
// event on the run's stream.
func (c *Context) ReportProgress(output string) { c.progress(output) }

// Logger returns the run's logger.
func (c *Context) Logger() logging.Logger { return c.logger }
