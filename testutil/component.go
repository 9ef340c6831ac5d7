package testutil

import (
	"context"

	"github.com/kbukum/discoverykit/component"
)

// TestComponent is a component.Component that tests can rewind. The
// in-memory discovery backend and the inspection server implement it.
type TestComponent interface {
	component.Component

	// Reset restores the component to its initial state.
	Reset(ctx context.Context) error

	// Snapshot captures the current state. Pass the result to Restore.
	Snapshot(ctx context.Context) (interface{}, error)

	// Restore returns the component to a state captured by Snapshot.
	Restore(ctx context.Context, snapshot interface{}) error
}
