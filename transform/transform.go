// Package transform implements the pipeline that rewrites the outgoing
// message list before each provider call without the run driver knowing the
// rewrite's purpose. Transformers compose left-to-right in registration
// order; the built-in cache marker annotates stable prefixes for providers
// supporting prefix caching.
package transform

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentloop/core"
)

// Transformer rewrites a message list. Implementations must not mutate the
// input slice or the blocks it references; return a rewritten copy instead.
// The context carries run cancellation.
type Transformer interface {
	// Name returns the transformer's identifier used in error wrapping.
	Name() string

	// Transform returns the rewritten message list.
	Transform(ctx context.Context, messages []core.Message) ([]core.Message, error)
}

// Pipeline applies an ordered list of transformers left-to-right.
type Pipeline struct {
	transformers []Transformer
}

// NewPipeline creates a pipeline over the given transformers; order of
// registration defines execution order.
func NewPipeline(transformers ...Transformer) *Pipeline {
	return &Pipeline{transformers: transformers}
}

// Append adds a transformer to the end of the pipeline.
func (p *Pipeline) Append(t Transformer) {
	p.transformers = append(p.transformers, t)
}

// Apply runs every transformer in order. The input slice is never handed to
// a transformer directly; each stage receives the previous stage's output.
func (p *Pipeline) Apply(ctx context.Context, messages []core.Message) ([]core.Message, error) {
	out := messages

	for _, t := range p.transformers {
		var err error

		out, err = t.Transform(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("transform %s failed: %w", t.Name(), err)
		}
	}

	return out, nil
}

// Func adapts a plain function to the Transformer interface.
type Func struct {
	TransformerName string
	Fn              func(ctx context.Context, messages []core.Message) ([]core.Message, error)
}

// Name returns the transformer's identifier.
func (f Func) Name() string { return f.TransformerName }

// Transform invokes the wrapped function.
func (f Func) Transform(ctx context.Context, messages []core.Message) ([]core.Message, error) {
	return f.Fn(ctx, messages)
}
