package jobs

import (
	"context"
	"errors"
)

// DataSyncJob is the job name used for sync work.
const DataSyncJob = "DataSync"

var (
	// ErrQueueClosed is returned when enqueuing into a closed queue.
	ErrQueueClosed = errors.New("job queue closed")

	// ErrNoHandler is returned when running a job whose name has no handler.
	ErrNoHandler = errors.New("no handler registered for job")

	// ErrJobNotFound is returned by lookups of unknown job ids.
	ErrJobNotFound = errors.New("job not found")
)

// Handle identifies an enqueued job.
type Handle struct {
	ID   string
	Name string

	// Duplicate is true when an identical job already existed and no new
	// job was created.
	Duplicate bool
}

// Handler executes one job. It may be invoked more than once for the same
// payload after a crash and must tolerate that.
type Handler func(ctx context.Context, payload []byte) error

// Dispatcher is the scheduling contract the engine depends on.
type Dispatcher interface {
	// EnqueueNow submits payload for execution as soon as a worker is free.
	EnqueueNow(ctx context.Context, name string, payload []byte) (Handle, error)

	// OnJob registers the handler for name, replacing any earlier one.
	OnJob(name string, h Handler)
}

var _ Dispatcher = (*Queue)(nil)
