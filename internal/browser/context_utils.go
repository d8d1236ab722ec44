// internal/browser/context_utils.go
package browser

import "context"

// CombineContext returns a context that inherits values and cancellation from
// ctx1 and is additionally cancelled when ctx2 is done. Browser calls run
// under it so they stop when either the session or the caller goes away.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)
	if deadline, ok := ctx2.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combinedCtx, cancelDeadline = context.WithDeadline(combinedCtx, deadline)
		base := cancel
		cancel = func() {
			cancelDeadline()
			base()
		}
	}

	// The goroutine stops when either context is done.
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
