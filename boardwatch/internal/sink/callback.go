package sink

import (
	"context"

	"github.com/hazyhaar/boardwatch/position"
)

// PublishFunc is called for each emission (in-process, zero serialisation).
type PublishFunc func(ctx context.Context, e position.Emission) error

// Callback delivers emissions via a Go function call.
type Callback struct {
	fn PublishFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn PublishFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Publish(ctx context.Context, e position.Emission) error {
	if c.fn != nil {
		return c.fn(ctx, e)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
