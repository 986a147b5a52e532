package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/tool"
	"github.com/hupe1980/agentloop/transform"
)

// ToolMode selects how the calls of one tool batch execute.
type ToolMode int

const (
	// ToolModeSequential runs calls one after another; a pending steering
	// message or abort observed between calls skips not-yet-started calls.
	ToolModeSequential ToolMode = iota
	// ToolModeConcurrent launches all calls together; interruption checks
	// defer until the whole batch completes since launched side effects
	// cannot be safely abandoned.
	ToolModeConcurrent
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// SystemPrompt is prepended to every provider call.
	SystemPrompt string
	// Tools is the explicit tool set available to the run. Tools are
	// injected here rather than registered globally so concurrent runs and
	// tests never share mutable registries.
	Tools []tool.Tool
	// MaxTurns caps provider round-trips per run; exceeding it ends the
	// run with StatusStepLimit. 0 means the default of 20.
	MaxTurns int
	// ToolMode selects sequential or concurrent batch execution.
	ToolMode ToolMode
	// MaxTokens / Temperature are forwarded to the provider.
	MaxTokens   int64
	Temperature float64
	// CacheMarking enables the cache annotation transform. When true the
	// pipeline is cache marker first, then caller transformers.
	CacheMarking bool
	// Transformers are caller-supplied request rewrites composed
	// left-to-right after the cache marker.
	Transformers []transform.Transformer
	// SteeringMode / FollowUpMode configure queue draining.
	SteeringMode core.DrainMode
	FollowUpMode core.DrainMode
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Driver coordinates runs against one model: it creates run state, spawns
// the per-run background goroutine, and tracks active runs for
// cancellation. Public methods are safe for concurrent use.
type Driver struct {
	model    model.Model
	opts     Options
	pipeline *transform.Pipeline
	tools    map[string]tool.Tool
	defs     []model.Definition
	logger   logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs a Driver with optional overrides.
func New(m model.Model, optFns ...func(o *Options)) *Driver {
	opts := Options{
		MaxTurns:     20,
		MaxTokens:    4096,
		Temperature:  0.7,
		CacheMarking: true,
		SteeringMode: core.DrainOne,
		FollowUpMode: core.DrainOne,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var transformers []transform.Transformer
	if opts.CacheMarking {
		transformers = append(transformers, transform.NewCacheMarker())
	}
	transformers = append(transformers, opts.Transformers...)

	tools := make(map[string]tool.Tool, len(opts.Tools))
	defs := make([]model.Definition, 0, len(opts.Tools))
	for _, t := range opts.Tools {
		tools[t.Name()] = t
		defs = append(defs, model.Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	return &Driver{
		model:      m,
		opts:       opts,
		pipeline:   transform.NewPipeline(transformers...),
		tools:      tools,
		defs:       defs,
		logger:     opts.Logger,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Run starts an asynchronous run for the given prompt. Exactly one
// background goroutine owns all provider I/O, tool execution, and state
// mutation; the returned handle is the foreground surface.
func (d *Driver) Run(ctx context.Context, prompt core.UserMessage) (*Run, error) {
	if len(prompt.Content) == 0 {
		return nil, fmt.Errorf("prompt must carry at least one content block")
	}

	runID := core.NewID()
	ctx, cancel := context.WithCancel(ctx)

	run := &Run{
		id:       runID,
		events:   core.NewStream[core.Event, Result](),
		steering: core.NewMessageQueue(d.opts.SteeringMode),
		followUp: core.NewMessageQueue(d.opts.FollowUpMode),
		state:    newRunState(prompt),
		cancel:   cancel,
	}

	d.mu.Lock()
	d.activeRuns[runID] = cancel
	d.mu.Unlock()

	go func() {
		// The deferred completion step guarantees a terminal transition on
		// every exit path; a crashed producer can never hang a consumer.
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("run.panic", "run_id", runID, "recover", fmt.Sprintf("%v", r))
				run.events.Fail(fmt.Errorf("run panic: %v", r))
			}

			d.mu.Lock()
			delete(d.activeRuns, runID)
			d.mu.Unlock()

			cancel()
		}()

		d.drive(ctx, run)
	}()

	return run, nil
}

// Cancel aborts a running run by ID.
func (d *Driver) Cancel(runID string) error {
	d.mu.Lock()
	cancel, exists := d.activeRuns[runID]
	d.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}
