package sync

import (
	"context"
	"fmt"
	"time"
)

// syncRunner invokes the Executor for one root with panic recovery, so a
// misbehaving executor fails a single run instead of the whole process.
type syncRunner struct {
	root       string
	configPath string
	exec       Executor
	nowFunc    func() time.Time
}

// run executes one sync and returns its result. It never returns nil; a
// failure or panic is recorded as a *SyncExecutionError in result.Err.
func (r *syncRunner) run(ctx context.Context, runID string) (result *SyncResult) {
	result = &SyncResult{
		RunID:   runID,
		Root:    r.root,
		Started: r.nowFunc(),
	}

	defer func() {
		if p := recover(); p != nil {
			result.Output = ""
			result.Err = &SyncExecutionError{
				Root: r.root,
				Err:  fmt.Errorf("panic in executor: %v", p),
			}
		}

		result.Finished = r.nowFunc()
	}()

	out, err := r.exec.Execute(ctx, r.configPath, r.root)
	result.Output = out

	if err != nil {
		result.Err = &SyncExecutionError{Root: r.root, Output: out, Err: err}
	}

	return result
}
