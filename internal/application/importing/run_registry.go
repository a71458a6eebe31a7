package importing

import (
	"context"
	"sync"
)

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// RunRegistry tracks in-process sync runs so they can be cancelled by
// session id. The nil registry is valid and tracks nothing.
type RunRegistry struct {
	mu   sync.Mutex
	runs map[string]*activeRun
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: map[string]*activeRun{}}
}

func (r *RunRegistry) start(parent context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	if r == nil {
		return ctx, cancel
	}
	run := &activeRun{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.runs[sessionID] = run
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		if r.runs[sessionID] == run {
			delete(r.runs, sessionID)
		}
		r.mu.Unlock()
		cancel()
		close(run.done)
	}
}

// Cancel signals the run of sessionID to stop at the next row boundary. The
// returned channel closes once the run has finished; ok is false when no run
// is active.
func (r *RunRegistry) Cancel(sessionID string) (done <-chan struct{}, ok bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	run, ok := r.runs[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	run.cancel()
	return run.done, true
}

func (r *RunRegistry) Active(sessionID string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[sessionID]
	return ok
}
