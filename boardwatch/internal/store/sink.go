package store

import (
	"context"
	"fmt"

	"github.com/hazyhaar/boardwatch/position"
)

// Sink writes every emission to the history table.
type Sink struct {
	store *Store
}

// NewSink creates a history sink over s.
func NewSink(s *Store) *Sink {
	return &Sink{store: s}
}

func (k *Sink) Publish(ctx context.Context, e position.Emission) error {
	if err := k.store.InsertEmission(ctx, e); err != nil {
		return fmt.Errorf("store: insert emission %s: %w", e.ID, err)
	}
	return nil
}

// Close is a no-op: the Store is owned by the caller.
func (k *Sink) Close() error { return nil }
