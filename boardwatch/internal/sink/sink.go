// Package sink defines output backends for confirmed position emissions.
package sink

import (
	"context"

	"github.com/hazyhaar/boardwatch/position"
)

// Sink is the output interface. Implementations deliver emissions to
// different backends (stdout, webhook, history store, in-process callback).
type Sink interface {
	Publish(ctx context.Context, e position.Emission) error
	Close() error
}
