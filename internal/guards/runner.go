package guards

import (
	"context"
	"errors"
	"fmt"
)

// ErrGuardPanic wraps a panic recovered from a guard.
var ErrGuardPanic = errors.New("guard panicked")

// Run evaluates chain in order and returns the first denial. Later guards
// are not consulted once one denies. An empty chain allows.
func Run(ctx context.Context, nav *Navigation, chain []Guard) Outcome {
	for _, g := range chain {
		if g == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			out := nav.failure(ctx, err)
			out.Guard = g.Name()
			return out
		}

		out := check(ctx, nav, g)
		if !out.Allowed {
			out.Guard = g.Name()
			return out
		}
	}
	return Allow()
}

func check(ctx context.Context, nav *Navigation, g Guard) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = deny(KindBackendUnavailable, "panic", nav.Input.login())
			out.Err = fmt.Errorf("%w: %s: %v", ErrGuardPanic, g.Name(), r)
		}
	}()
	return g.Check(ctx, nav)
}
