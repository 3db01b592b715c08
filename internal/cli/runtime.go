package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/capture"
	"github.com/nocozen/nocozenbase/internal/config"
	"github.com/nocozen/nocozenbase/internal/engine"
	"github.com/nocozen/nocozenbase/internal/jobs"
	"github.com/nocozen/nocozenbase/internal/rule"
	"github.com/nocozen/nocozenbase/internal/server"
	"github.com/nocozen/nocozenbase/internal/store"
	"github.com/nocozen/nocozenbase/internal/store/mongostore"
	"github.com/nocozen/nocozenbase/internal/uid"
)

// Backend is the business database as seen by the runtime.
type Backend struct {
	Store  store.Store
	Rules  rule.Source
	Health server.Pinger // may be nil
}

// runtime holds the components of a long-running process. Components are
// closed in reverse order of opening.
type runtime struct {
	cfg      *config.Config
	log      *zap.Logger
	backend  Backend
	queue    *jobs.Queue
	engine   *engine.Engine
	capturer *capture.Capturer

	closers []func(context.Context) error
}

// openRuntime connects the store, opens the job queue and wires the engine
// and capturer to them. The engine is registered on the queue; workers are
// not started.
func openRuntime(ctx context.Context, opts *RootOptions, cfg *config.Config, log *zap.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log}

	if opts.Backend != nil {
		rt.backend = *opts.Backend
	} else {
		ms, err := mongostore.Open(ctx, cfg.Mongo.URI, cfg.Mongo.Database, log)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open store", err)
		}
		rt.closers = append(rt.closers, ms.Close)
		rt.backend = Backend{
			Store:  ms,
			Rules:  mongostore.NewRuleSource(ms.Database(), cfg.Mongo.ModuleConfigCollection, log),
			Health: ms,
		}
	}

	q, err := openQueue(ctx, cfg, log)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.queue = q
	rt.closers = append(rt.closers, func(context.Context) error { return q.Close() })

	ids, err := uid.New(cfg.Sync.WorkerID)
	if err != nil {
		rt.close()
		return nil, WrapExitError(ExitCommandError, "invalid uid worker id", err)
	}
	rt.engine = engine.New(rt.backend.Store, rt.backend.Rules,
		engine.WithLogger(log),
		engine.WithBatchLimit(cfg.Sync.BatchLimit),
		engine.WithIDs(ids),
		engine.WithSyncLogCollection(cfg.Sync.LogCollection),
	)
	rt.engine.Register(q)
	rt.capturer = capture.New(rt.backend.Store, q, capture.WithLogger(log))
	return rt, nil
}

// openQueue opens the job database, with a Redis wake-up channel when one
// is configured.
func openQueue(ctx context.Context, cfg *config.Config, log *zap.Logger) (*jobs.Queue, error) {
	qopts := []jobs.Option{
		jobs.WithConcurrency(cfg.Jobs.Concurrency),
		jobs.WithProcessEvery(cfg.Jobs.ProcessEvery),
		jobs.WithResumeOnRestart(cfg.Jobs.ResumeOnRestart),
	}
	var notifier *jobs.RedisNotifier
	if cfg.Redis.URL != "" {
		n, err := jobs.DialRedisNotifier(ctx, cfg.Redis.URL, "nocozen:jobs", log)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect redis", err)
		}
		notifier = n
		qopts = append(qopts, jobs.WithNotifier(n))
	}

	q, err := jobs.Open(cfg.Jobs.DBPath, log, qopts...)
	if err != nil {
		if notifier != nil {
			notifier.Close()
		}
		return nil, WrapExitError(ExitCommandError, "failed to open job queue", err)
	}
	return q, nil
}

func (rt *runtime) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i](ctx))
	}
	rt.closers = nil
	if err != nil {
		rt.log.Error("error closing runtime", zap.Error(err))
	}
	_ = rt.log.Sync()
	return err
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. The
// command's context is used as parent when set.
func signalContext(parent context.Context, log *zap.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
