package discovery

import (
	"context"
	"time"
)

// Step runs one iteration of the registrar loop.
func (r *Registrar) Step(ctx context.Context) time.Duration { return r.step(ctx) }

// SetClock replaces the resolver clock.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }
