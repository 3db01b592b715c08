package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nocozen/nocozenbase/internal/capture"
	"github.com/nocozen/nocozenbase/internal/jobs"
)

// JobsOptions holds flags for the jobs command.
type JobsOptions struct {
	*RootOptions
	State string
	Limit int
	Retry string
}

// JobView is one listed job with its change record decoded.
type JobView struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Attempts   int       `json:"attempts"`
	Collection string    `json:"collection,omitempty"`
	RecordID   string    `json:"record_id,omitempty"`
	Trigger    string    `json:"trigger,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// JobsResult holds queue statistics and the listed jobs.
type JobsResult struct {
	Stats jobs.Stats `json:"stats"`
	Jobs  []JobView  `json:"jobs"`
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JobsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the sync job queue",
		Long: `Show job counts by state and list the jobs in one state, with the
change record each job carries. Failed jobs can be queued again with
--retry.

Examples:
  nocozen-sync jobs
  nocozen-sync jobs --state pending --limit 50
  nocozen-sync jobs --retry 0190f5e2-7c1a-7b7e-9a1d-3f5b2c9d8e01`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", string(jobs.StateFailed), "state to list (pending|running|done|failed)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of jobs to list (0 for all)")
	cmd.Flags().StringVar(&opts.Retry, "retry", "", "requeue the job with this id")

	return cmd
}

func runJobs(opts *JobsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	state := jobs.State(opts.State)
	switch state {
	case jobs.StatePending, jobs.StateRunning, jobs.StateDone, jobs.StateFailed:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid state %q", opts.State))
	}

	cfg, log, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	q, err := openQueue(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer q.Close()

	if opts.Retry != "" {
		if err := q.Requeue(ctx, opts.Retry); err != nil {
			_ = formatter.Error("E_NOT_FOUND", err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to requeue job", err)
		}
		formatter.VerboseLog("Requeued job %s", opts.Retry)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read job stats", err)
	}
	listed, err := q.List(ctx, state, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list jobs", err)
	}

	result := JobsResult{Stats: stats, Jobs: make([]JobView, 0, len(listed))}
	for _, j := range listed {
		result.Jobs = append(result.Jobs, viewJob(j))
	}

	if formatter.JSON() {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result})
	}

	w := formatter.Writer
	if opts.Retry != "" {
		fmt.Fprintf(w, "Requeued job %s\n", opts.Retry)
	}
	fmt.Fprintf(w, "Jobs: %d pending, %d running, %d done, %d failed\n",
		stats.Pending, stats.Running, stats.Done, stats.Failed)
	if len(result.Jobs) == 0 {
		fmt.Fprintf(w, "No %s jobs.\n", state)
		return nil
	}
	fmt.Fprintln(w)
	for _, j := range result.Jobs {
		fmt.Fprintf(w, "%s  %s  %s/%s  %s  attempts=%d\n",
			j.ID, j.CreatedAt.Format(time.RFC3339), j.Collection, j.RecordID, j.Trigger, j.Attempts)
		if j.LastError != "" {
			fmt.Fprintf(w, "  %s\n", j.LastError)
		}
	}
	return nil
}

// viewJob decodes the job payload. Undecodable payloads are listed without
// record details.
func viewJob(j jobs.Job) JobView {
	v := JobView{
		ID:        j.ID,
		State:     string(j.State),
		Attempts:  j.Attempts,
		LastError: j.LastError,
		CreatedAt: j.CreatedAt,
	}
	if p, err := capture.DecodePayload(j.Payload); err == nil {
		v.Collection = p.CollName
		v.RecordID = p.Record.ID
		v.Trigger = string(p.Record.TriggerKind)
	}
	return v
}
