package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a stored job.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Job is a stored job row.
type Job struct {
	ID         string
	Name       string
	Payload    []byte
	State      State
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Stats counts jobs by state.
type Stats struct {
	Pending int
	Running int
	Done    int
	Failed  int
}

// Total returns the number of stored jobs.
func (s Stats) Total() int { return s.Pending + s.Running + s.Done + s.Failed }

// Job loads a job by id.
func (q *Queue) Job(ctx context.Context, id string) (Job, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, payload, state, attempts, last_error, created_at, started_at, finished_at
		FROM jobs WHERE id = ?
	`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("read job: %w", err)
	}
	return j, nil
}

// List returns jobs in the given state in enqueue order. A limit <= 0 means
// no limit.
func (q *Queue) List(ctx context.Context, state State, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, payload, state, attempts, last_error, created_at, started_at, finished_at
		FROM jobs WHERE state = ? ORDER BY seq LIMIT ?
	`, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// Stats reports job counts by state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return Stats{}, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return Stats{}, fmt.Errorf("scan job stats: %w", err)
		}
		switch State(state) {
		case StatePending:
			s.Pending = n
		case StateRunning:
			s.Running = n
		case StateDone:
			s.Done = n
		case StateFailed:
			s.Failed = n
		}
	}
	return s, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var (
		j                 Job
		state             string
		lastErr           sql.NullString
		created           int64
		started, finished sql.NullInt64
	)
	if err := r.Scan(&j.ID, &j.Name, &j.Payload, &state, &j.Attempts, &lastErr, &created, &started, &finished); err != nil {
		return Job{}, err
	}
	j.State = State(state)
	j.LastError = lastErr.String
	j.CreatedAt = time.UnixMilli(created).UTC()
	if started.Valid {
		j.StartedAt = time.UnixMilli(started.Int64).UTC()
	}
	if finished.Valid {
		j.FinishedAt = time.UnixMilli(finished.Int64).UTC()
	}
	return j, nil
}
