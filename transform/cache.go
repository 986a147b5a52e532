package transform

import (
	"context"

	"github.com/hupe1980/agentloop/core"
)

// CacheMarker sets the cache hint on the trailing markable content block of
// every user message, not just the latest, so repeated turns present the
// provider with a stable reusable prefix. The transform is idempotent:
// re-marking an already-marked block is a no-op, and it never mutates its
// input.
type CacheMarker struct{}

// NewCacheMarker creates the cache annotation transform.
func NewCacheMarker() *CacheMarker { return &CacheMarker{} }

// Name returns the transformer's identifier.
func (*CacheMarker) Name() string { return "cache_marker" }

// Transform implements Transformer.
func (*CacheMarker) Transform(_ context.Context, messages []core.Message) ([]core.Message, error) {
	out := make([]core.Message, len(messages))

	for i, msg := range messages {
		user, ok := msg.(core.UserMessage)
		if !ok {
			out[i] = msg
			continue
		}

		out[i] = core.UserMessage{Content: markTrailing(user.Content)}
	}

	return out, nil
}

// markTrailing copies blocks and sets the cache hint on the last block that
// supports one. Blocks after it (e.g. a trailing tool-call echo) are left
// untouched.
func markTrailing(blocks []core.ContentBlock) []core.ContentBlock {
	marked := make([]core.ContentBlock, len(blocks))
	copy(marked, blocks)

	for i := len(marked) - 1; i >= 0; i-- {
		switch b := marked[i].(type) {
		case core.TextBlock:
			b.CacheHint = true
			marked[i] = b
			return marked
		case core.ImageBlock:
			b.CacheHint = true
			marked[i] = b
			return marked
		}
	}

	return marked
}
