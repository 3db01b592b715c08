package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run sync workers without the capture API",
		Long: `Run sync workers only. Workers claim DataSync jobs from the shared
job database; with redis.url set they wake as soon as another process
enqueues work.

Example:
  nocozen-sync worker --config ./nocozen.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(rootOpts, cmd)
		},
	}
	return cmd
}

func runWorker(opts *RootOptions, cmd *cobra.Command) error {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), log)
	defer cancel()

	rt, err := openRuntime(ctx, opts, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.queue.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start workers", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Workers started (%d). Press Ctrl-C to stop.\n", cfg.Jobs.Concurrency)

	<-ctx.Done()
	log.Info("stopped gracefully")
	return nil
}
