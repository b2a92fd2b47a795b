package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// SafeGo executes fn in a goroutine with panic recovery and a bounded
// timeout. Use this instead of a bare `go func()` for fire-and-forget work
// so a panic in a background task cannot crash the process.
func SafeGo(parentCtx context.Context, timeout time.Duration, onError func(error), fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				if onError != nil {
					onError(fmt.Errorf("panic in background task: %v\n%s", r, debug.Stack()))
				}
			}
		}()

		if err := fn(ctx); err != nil && onError != nil {
			onError(err)
		}
	}()
}
