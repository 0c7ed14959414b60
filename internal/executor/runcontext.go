package executor

import (
	"context"
	"sync/atomic"

	"github.com/pipectl/pipectl/internal/models"
)

// runContext is the concrete models.RunContext handed to a Worker on every
// invocation. It wraps a cancellable context, a progress callback wired to
// the event bus, and an optional git commit hook.
type runContext struct {
	context.Context

	cancelled  int32
	onProgress func(pct int, text string)
	commitFunc func(message string) error
}

func newRunContext(ctx context.Context, onProgress func(pct int, text string), commitFunc func(message string) error) *runContext {
	return &runContext{Context: ctx, onProgress: onProgress, commitFunc: commitFunc}
}

func (r *runContext) Cancelled() bool {
	if atomic.LoadInt32(&r.cancelled) == 1 {
		return true
	}
	return r.Err() != nil
}

func (r *runContext) markCancelled() {
	atomic.StoreInt32(&r.cancelled, 1)
}

// SetProgress clamps pct to [0, 100] and forwards to the job:progress emitter.
func (r *runContext) SetProgress(pct int, text string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if r.onProgress != nil {
		r.onProgress(pct, text)
	}
}

// Commit delegates to the git workflow manager when one is wired for this
// run; otherwise it returns an error rather than silently no-opping.
func (r *runContext) Commit(message string) error {
	if r.commitFunc == nil {
		return errNoGitWorkflow
	}
	return r.commitFunc(message)
}

var errNoGitWorkflow = gitWorkflowNotActiveError{}

type gitWorkflowNotActiveError struct{}

func (gitWorkflowNotActiveError) Error() string {
	return "executor: git workflow is not active for this pipeline"
}

var _ models.RunContext = (*runContext)(nil)
