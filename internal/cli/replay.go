package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nocozen/nocozenbase/internal/jobs"
	"github.com/nocozen/nocozenbase/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Run bool // process the job in this process instead of leaving it to workers
}

// ReplayResult describes a re-dispatched change record.
type ReplayResult struct {
	Collection string `json:"collection"`
	RecordID   string `json:"record_id"`
	JobID      string `json:"job_id"`
	Requeued   bool   `json:"requeued"`
	State      string `json:"state,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <collName> <recordId>",
		Short: "Re-dispatch a stored change record",
		Long: `Load a change record from the log collection of <collName> and queue
it for synchronization again. A job that already ran for the record is
requeued.

With --run the job is processed in this process and its outcome reported;
otherwise running workers pick it up.

Exit codes:
  0 - Record dispatched (and, with --run, synchronized)
  1 - A sync rule failed during --run
  2 - Command error (record not found, store unreachable, etc.)

Examples:
  nocozen-sync replay orders 0190f5e2-7c1a-7b7e-9a1d-3f5b2c9d8e01
  nocozen-sync replay orders 0190f5e2-7c1a-7b7e-9a1d-3f5b2c9d8e01 --run --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Run, "run", false, "process the job now and report its outcome")

	return cmd
}

func runReplay(opts *ReplayOptions, coll, recordID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, log, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context(), log)
	defer cancel()

	rt, err := openRuntime(ctx, opts.RootOptions, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	h, err := rt.capturer.Replay(ctx, coll, recordID)
	if errors.Is(err, store.ErrNotFound) {
		_ = formatter.Error("E_NOT_FOUND", fmt.Sprintf("change record %s not found in %s", recordID, coll), nil)
		return WrapExitError(ExitCommandError, "change record not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay change record", err)
	}

	result := ReplayResult{Collection: coll, RecordID: recordID, JobID: h.ID, Requeued: h.Duplicate}
	var runErr error
	if opts.Run {
		n, err := rt.queue.RunPending(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to run job", err)
		}
		formatter.VerboseLog("Ran %d pending job(s)", n)

		job, err := rt.queue.Job(ctx, h.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read job", err)
		}
		result.State = string(job.State)
		result.Attempts = job.Attempts
		result.LastError = job.LastError
		if job.State == jobs.StateFailed {
			runErr = NewExitError(ExitFailure, fmt.Sprintf("sync failed: %s", job.LastError))
		}
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result, RecordID: recordID}
		if runErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_SYNC_FAILED", Message: result.LastError}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
		return runErr
	}

	w := formatter.Writer
	verb := "Dispatched"
	if result.Requeued {
		verb = "Requeued"
	}
	fmt.Fprintf(w, "%s %s/%s as job %s\n", verb, coll, recordID, result.JobID)
	if opts.Run {
		mark := "✓"
		if runErr != nil {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s after %d attempt(s)\n", mark, result.State, result.Attempts)
		if result.LastError != "" {
			fmt.Fprintf(w, "  %s\n", result.LastError)
		}
	}
	return runErr
}
