// Package async runs background work off the UI goroutine.
package async

import (
	"context"
	"runtime/debug"

	"github.com/Akaiko1/game-grove/internal/logging"
)

// Dispatch executes handler in a new goroutine.
//
// The handler receives a background context that keeps the logger of ctx but not its cancellation.
// Panics are recovered and logged with a stack trace; returned errors are logged.
func Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	newCtx := logging.With(context.Background(), logging.From(ctx))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.From(newCtx).Error("panic in async handler",
					"recover", r,
					"stack", string(debug.Stack()))
			}
		}()

		if err := handler(newCtx); err != nil {
			logging.From(newCtx).Error("error in async handler", "error", err)
		}
	}()
}
