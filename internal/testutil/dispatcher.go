package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/nocozen/nocozenbase/internal/jobs"
)

// EnqueuedJob is one call recorded by RecordingDispatcher.
type EnqueuedJob struct {
	Handle  jobs.Handle
	Payload []byte
}

// RecordingDispatcher is an in-memory jobs.Dispatcher. Jobs run only when
// RunAll is called, on the caller's goroutine.
type RecordingDispatcher struct {
	mu       sync.Mutex
	jobs     []EnqueuedJob
	ran      int
	handlers map[string]jobs.Handler
	seen     map[string]string
	err      error
}

var _ jobs.Dispatcher = (*RecordingDispatcher)(nil)

// NewRecordingDispatcher creates an empty dispatcher.
func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{
		handlers: make(map[string]jobs.Handler),
		seen:     make(map[string]string),
	}
}

// FailWith makes subsequent EnqueueNow calls return err.
func (d *RecordingDispatcher) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// EnqueueNow records the job. Identical (name, payload) pairs are reported
// as duplicates, as the SQLite queue does.
func (d *RecordingDispatcher) EnqueueNow(_ context.Context, name string, payload []byte) (jobs.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return jobs.Handle{}, d.err
	}
	key := jobs.DedupeKey(name, payload)
	if id, ok := d.seen[key]; ok {
		return jobs.Handle{ID: id, Name: name, Duplicate: true}, nil
	}
	h := jobs.Handle{ID: fmt.Sprintf("job-%04d", len(d.jobs)+1), Name: name}
	d.seen[key] = h.ID
	d.jobs = append(d.jobs, EnqueuedJob{Handle: h, Payload: append([]byte(nil), payload...)})
	return h, nil
}

// OnJob registers a handler.
func (d *RecordingDispatcher) OnJob(name string, h jobs.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Requeue schedules a recorded job to run again.
func (d *RecordingDispatcher) Requeue(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, j := range d.jobs {
		if j.Handle.ID == id {
			d.jobs = append(d.jobs, j)
			return nil
		}
	}
	return fmt.Errorf("job %s: %w", id, jobs.ErrJobNotFound)
}

// Jobs returns the recorded jobs in enqueue order.
func (d *RecordingDispatcher) Jobs() []EnqueuedJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]EnqueuedJob, len(d.jobs))
	copy(out, d.jobs)
	return out
}

// RunAll executes every job recorded since the last call, including jobs
// enqueued by the handlers themselves, and returns their errors in order.
func (d *RecordingDispatcher) RunAll(ctx context.Context) []error {
	var errs []error
	for {
		d.mu.Lock()
		if d.ran >= len(d.jobs) {
			d.mu.Unlock()
			return errs
		}
		j := d.jobs[d.ran]
		d.ran++
		h := d.handlers[j.Handle.Name]
		d.mu.Unlock()

		if h == nil {
			errs = append(errs, fmt.Errorf("job %s: %w", j.Handle.Name, jobs.ErrNoHandler))
			continue
		}
		errs = append(errs, h(ctx, j.Payload))
	}
}
