package process

import "context"

type runObserverKey struct{}

// WithRunObserver returns a context whose launches report the run id they
// register to fn. A caller uses it to stop a run before the agent has told
// it the session id.
func WithRunObserver(ctx context.Context, fn func(runID string)) context.Context {
	return context.WithValue(ctx, runObserverKey{}, fn)
}

// ReportRun passes runID to the observer installed in ctx, if any.
func ReportRun(ctx context.Context, runID string) {
	if fn, ok := ctx.Value(runObserverKey{}).(func(string)); ok && fn != nil {
		fn(runID)
	}
}
