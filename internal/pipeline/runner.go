package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Runner starts pipeline runs in the background, one at a time, and keeps
// the last summary.
type Runner struct {
	Pipeline *Pipeline

	mu      sync.Mutex
	running bool
	last    *Summary
	wg      sync.WaitGroup
}

func NewRunner(p *Pipeline) *Runner {
	return &Runner{Pipeline: p}
}

// Start launches a run and returns its id. ErrRunning is returned while a
// previous run is still active. The run is detached from ctx cancellation
// but keeps its values.
func (r *Runner) Start(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return "", ErrRunning
	}
	r.running = true
	r.mu.Unlock()

	runID := uuid.NewString()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		sum, _ := r.Pipeline.run(context.WithoutCancel(ctx), runID)

		r.mu.Lock()
		r.running = false
		r.last = &sum
		r.mu.Unlock()
	}()
	return runID, nil
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Last returns the most recent finished run.
func (r *Runner) Last() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

// Wait blocks until the active run, if any, has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
