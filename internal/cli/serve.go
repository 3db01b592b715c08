package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture API and sync workers",
		Long: `Run the HTTP change-capture API together with the sync workers.

Mutations posted to /api/v1/changes are stored as change records and queued;
the workers apply the matching sync rules. Stop with SIGINT or SIGTERM.

Example:
  nocozen-sync serve --config ./nocozen.yaml
  MONGO_URI=mongodb://db:27017 nocozen-sync serve --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, log, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	addr := cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	ctx, cancel := signalContext(cmd.Context(), log)
	defer cancel()

	rt, err := openRuntime(ctx, opts.RootOptions, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.queue.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start workers", err)
	}

	srv := server.New(rt.capturer, rt.backend.Health, log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	fmt.Fprintf(cmd.OutOrStdout(), "Capturing changes on %s. Press Ctrl-C to stop.\n", addr)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			runErr = WrapExitError(ExitFailure, "http server error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("stopped gracefully")
	return runErr
}
