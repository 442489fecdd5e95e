package httpapi

import "context"

// serverBaseCtx gates long-lived response streams (model pulls, flow
// executions): canceling it on shutdown ends them even while the client
// socket stays open. Defaults to Background until main installs one.
var serverBaseCtx = context.Background()

// SetBaseContext installs the daemon-lifetime context that streaming
// handlers join with the per-request context.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context that ends as soon as either parent is
// done, so a stream stops on client disconnect or daemon shutdown,
// whichever comes first. The cancel func must be called when the handler
// returns to release the watcher goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	go func() {
		select {
		case <-ctx.Done():
		case <-b.Done():
			cancel()
		}
	}()
	return ctx, cancel
}
