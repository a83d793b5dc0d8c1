package api

import (
	"context"
	"sync"
	"time"

	"jobmate/discovery-pipeline/internal/model"
)

// RunStatus is the lifecycle of an async scrape run.
type RunStatus string

const (
	RunQueued    RunStatus = "QUEUED"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// finished reports whether s is terminal.
func (s RunStatus) finished() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// defaultMaxRuns bounds how many runs are remembered. The oldest finished
// runs are forgotten first.
const defaultMaxRuns = 200

// Run is the JSON shape of an async run. Result is omitted from listings.
type Run struct {
	ID         string              `json:"run_id"`
	Status     RunStatus           `json:"status"`
	Keywords   string              `json:"keywords"`
	Location   string              `json:"location"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Error      string              `json:"error,omitempty"`
	JobsFound  int                 `json:"jobs_found"`
	Result     *model.ScrapeResult `json:"result,omitempty"`
}

type runEntry struct {
	run    Run
	cancel context.CancelFunc
}

// runRegistry tracks async runs in memory.
type runRegistry struct {
	mu    sync.RWMutex
	runs  map[string]*runEntry
	order []string
	max   int
}

func newRunRegistry(max int) *runRegistry {
	if max <= 0 {
		max = defaultMaxRuns
	}
	return &runRegistry{runs: make(map[string]*runEntry), max: max}
}

func (r *runRegistry) add(id string, q model.JobQuery, cancel context.CancelFunc, now time.Time) Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &runEntry{
		run:    Run{ID: id, Status: RunQueued, Keywords: q.Keywords, Location: q.Location, CreatedAt: now},
		cancel: cancel,
	}
	r.runs[id] = e
	r.order = append(r.order, id)
	r.evictLocked()
	return e.run
}

// evictLocked drops the oldest finished runs while over capacity.
func (r *runRegistry) evictLocked() {
	for i := 0; len(r.order) > r.max && i < len(r.order); {
		id := r.order[i]
		if e := r.runs[id]; e != nil && !e.run.Status.finished() {
			i++
			continue
		}
		delete(r.runs, id)
		r.order = append(r.order[:i], r.order[i+1:]...)
	}
}

func (r *runRegistry) start(id string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.runs[id]; ok && e.run.Status == RunQueued {
		e.run.Status = RunRunning
		e.run.StartedAt = &now
	}
}

func (r *runRegistry) finish(id string, status RunStatus, res *model.ScrapeResult, errMsg string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[id]
	if !ok {
		return
	}
	e.run.Status = status
	e.run.FinishedAt = &now
	e.run.Error = errMsg
	e.run.Result = res
	if res != nil {
		e.run.JobsFound = res.JobsFound
	}
	e.cancel()
}

// cancel requests cancellation. ok is false for unknown runs; the returned
// run reflects the state at the time of the call.
func (r *runRegistry) cancel(id string) (run Run, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	if !e.run.Status.finished() {
		e.cancel()
	}
	return e.run, true
}

func (r *runRegistry) get(id string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return e.run, true
}

// list returns all runs newest first, without job payloads.
func (r *runRegistry) list() []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Run, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		run := r.runs[r.order[i]].run
		run.Result = nil
		out = append(out, run)
	}
	return out
}
