package jobs

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/doc"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on jobs(name, state) for per-name claims
const currentSchemaVersion = 1

// Defaults match the production agenda settings.
const (
	DefaultConcurrency  = 4
	DefaultProcessEvery = 10 * time.Second
)

// Option configures a Queue.
type Option func(*Queue)

// WithConcurrency sets the number of workers started by Start.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithProcessEvery sets the polling interval.
func WithProcessEvery(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.every = d
		}
	}
}

// WithResumeOnRestart controls what Start does with jobs left running by a
// previous process: requeue them (true) or mark them failed (false).
func WithResumeOnRestart(resume bool) Option {
	return func(q *Queue) { q.resume = resume }
}

// WithNotifier wakes workers from other processes.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is a durable job queue backed by SQLite.
type Queue struct {
	db  *sql.DB
	log *zap.Logger

	concurrency int
	every       time.Duration
	resume      bool
	notifier    Notifier
	now         func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// signal wakes idle workers (buffered, size 1).
	signal chan struct{}
}

// Open creates or opens the job database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Safe to call on an existing database; migrations are idempotent.
func Open(path string, log *zap.Logger, opts ...Option) (*Queue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect job database: %w", err)
	}

	// One connection: claims are serialized through it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{
		db:          db,
		log:         log.Named("jobs"),
		concurrency: DefaultConcurrency,
		every:       DefaultProcessEvery,
		resume:      true,
		now:         time.Now,
		handlers:    make(map[string]Handler),
		signal:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_name_state ON jobs(name, state)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// OnJob registers h for jobs named name.
func (q *Queue) OnJob(name string, h Handler) {
	q.mu.Lock()
	q.handlers[name] = h
	q.mu.Unlock()
	q.wake()
}

// EnqueueNow stores a pending job. An identical (name, payload) pair that was
// already enqueued is not stored twice; the existing job's handle is returned
// with Duplicate set.
func (q *Queue) EnqueueNow(ctx context.Context, name string, payload []byte) (Handle, error) {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return Handle{}, ErrQueueClosed
	}

	key := DedupeKey(name, payload)
	id, err := uuid.NewV7()
	if err != nil {
		return Handle{}, fmt.Errorf("generate job id: %w", err)
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, dedupe_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dedupe_key) DO NOTHING
	`, id.String(), name, key, payload, q.now().UnixMilli())
	if err != nil {
		return Handle{}, fmt.Errorf("write job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Handle{}, fmt.Errorf("write job: %w", err)
	}
	if n == 0 {
		var existing string
		if err := q.db.QueryRowContext(ctx, `SELECT id FROM jobs WHERE dedupe_key = ?`, key).Scan(&existing); err != nil {
			return Handle{}, fmt.Errorf("read duplicate job: %w", err)
		}
		return Handle{ID: existing, Name: name, Duplicate: true}, nil
	}

	q.wake()
	if q.notifier != nil {
		if err := q.notifier.Notify(ctx, name); err != nil {
			q.log.Warn("notify workers", zap.String("job", name), zap.Error(err))
		}
	}
	return Handle{ID: id.String(), Name: name}, nil
}

// DedupeKey is the idempotency key for a job.
func DedupeKey(name string, payload []byte) string {
	return doc.Hash(doc.DomainJob, map[string]any{"name": name, "payload": string(payload)})
}

// Requeue returns a finished or failed job to pending so it runs again.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'pending', last_error = NULL, started_at = NULL, finished_at = NULL
		WHERE id = ? AND state != 'running'
	`, id)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if n == 0 {
		if _, err := q.Job(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("requeue job %s: job is running", id)
	}
	q.wake()
	return nil
}

// Start launches the worker pool. Workers stop when ctx is cancelled or the
// queue is closed.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(q.handlers) == 0 {
		q.mu.Unlock()
		return fmt.Errorf("start job queue: %w", ErrNoHandler)
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.mu.Unlock()

	if err := q.recoverInterrupted(ctx); err != nil {
		cancel()
		return err
	}

	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.wg.Add(1)
	go q.poll(ctx)

	if q.notifier != nil {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			err := q.notifier.Listen(ctx, func(string) { q.wake() })
			if err != nil && !errors.Is(err, context.Canceled) {
				q.log.Warn("notifier stopped", zap.Error(err))
			}
		}()
	}

	q.log.Info("job workers started",
		zap.Int("concurrency", q.concurrency),
		zap.Duration("process_every", q.every),
	)
	q.wake()
	return nil
}

func (q *Queue) recoverInterrupted(ctx context.Context) error {
	var (
		res sql.Result
		err error
	)
	if q.resume {
		res, err = q.db.ExecContext(ctx, `UPDATE jobs SET state = 'pending', started_at = NULL WHERE state = 'running'`)
	} else {
		res, err = q.db.ExecContext(ctx, `
			UPDATE jobs SET state = 'failed', last_error = 'interrupted', finished_at = ?
			WHERE state = 'running'
		`, q.now().UnixMilli())
	}
	if err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		q.log.Info("recovered interrupted jobs", zap.Int64("count", n), zap.Bool("resumed", q.resume))
	}
	return nil
}

func (q *Queue) poll(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.wake()
		}
	}
}

func (q *Queue) worker(ctx context.Context, n int) {
	defer q.wg.Done()
	log := q.log.With(zap.Int("worker", n))
	for {
		ran, err := q.runOne(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("run job", zap.Error(err))
		}
		if ran {
			// Another job may be waiting; let an idle worker look too.
			q.wake()
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
		}
	}
}

// wake signals one idle worker without blocking.
func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// RunPending executes pending jobs on the calling goroutine until none are
// left and returns how many ran.
func (q *Queue) RunPending(ctx context.Context) (int, error) {
	count := 0
	for {
		ran, err := q.runOne(ctx)
		if err != nil {
			return count, err
		}
		if !ran {
			return count, nil
		}
		count++
	}
}

// runOne claims and executes a single job. A handler failure is recorded on
// the job and is not returned.
func (q *Queue) runOne(ctx context.Context) (bool, error) {
	names, handlers := q.snapshot()
	if len(names) == 0 {
		return false, nil
	}

	id, name, payload, ok, err := q.claim(ctx, names)
	if err != nil || !ok {
		return false, err
	}

	log := q.log.With(zap.String("job_id", id), zap.String("job", name))
	log.Debug("job claimed")

	runErr := execute(ctx, handlers[name], payload)
	if runErr != nil {
		log.Warn("job failed", zap.Error(runErr))
	} else {
		log.Debug("job done")
	}
	// The outcome must be stored even when ctx is being cancelled.
	if err := q.finish(context.WithoutCancel(ctx), id, runErr); err != nil {
		return true, err
	}
	return true, nil
}

func (q *Queue) snapshot() ([]string, map[string]Handler) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	names := make([]string, 0, len(q.handlers))
	handlers := make(map[string]Handler, len(q.handlers))
	for name, h := range q.handlers {
		names = append(names, name)
		handlers[name] = h
	}
	return names, handlers
}

func (q *Queue) claim(ctx context.Context, names []string) (id, name string, payload []byte, ok bool, err error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, 0, len(names)+1)
	args = append(args, q.now().UnixMilli())
	for _, n := range names {
		args = append(args, n)
	}

	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = 'running', attempts = attempts + 1, started_at = ?
		WHERE seq = (
			SELECT seq FROM jobs
			WHERE state = 'pending' AND name IN (`+placeholders+`)
			ORDER BY seq LIMIT 1
		)
		RETURNING id, name, payload
	`, args...)
	if err := row.Scan(&id, &name, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", nil, false, nil
		}
		return "", "", nil, false, fmt.Errorf("claim job: %w", err)
	}
	return id, name, payload, true, nil
}

func execute(ctx context.Context, h Handler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, payload)
}

func (q *Queue) finish(ctx context.Context, id string, runErr error) error {
	state, msg := StateDone, sql.NullString{}
	if runErr != nil {
		state = StateFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, last_error = ?, finished_at = ? WHERE id = ?
	`, string(state), msg, q.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("write job result: %w", err)
	}
	return nil
}

// Close stops the workers, waits for in-flight jobs and closes the database.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()

	var err error
	if q.notifier != nil {
		err = q.notifier.Close()
	}
	if cerr := q.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
