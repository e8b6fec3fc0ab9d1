// Package groutine starts named goroutines. Names show up as pprof labels,
// which makes the session's background work (idle timers, disconnect
// watchers, refresh loops) identifiable in goroutine dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

// Go starts a goroutine labeled with name. A nil parentCtx means
// context.Background().
//
//	groutine.Go(ctx, "idle-disconnect", func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, fn)
}
