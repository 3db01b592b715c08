package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nocozen/nocozenbase/internal/capture"
	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Old       string
	New       string
	ActorID   string
	ActorName string
	Tenant    string
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture <collName> <add|edit|delete>",
		Short: "Record a mutation made outside the CRUD handlers",
		Long: `Record one business-data mutation and queue it for synchronization, as
the CRUD handlers do through the HTTP API. Useful after bulk imports or
manual database fixes.

Example:
  nocozen-sync capture orders add --new '{"_id":"o1","status":"approved"}'
  nocozen-sync capture orders delete --old '{"_id":"o1"}' --actor-id u1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Old, "old", "", "document before the mutation, as JSON")
	cmd.Flags().StringVar(&opts.New, "new", "", "document after the mutation, as JSON")
	cmd.Flags().StringVar(&opts.ActorID, "actor-id", rule.SystemActor.ID, "account that performed the mutation")
	cmd.Flags().StringVar(&opts.ActorName, "actor-name", rule.SystemActor.Name, "display name of the account")
	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "tenant (en_id) of the mutation")

	return cmd
}

func runCapture(opts *CaptureOptions, coll, trigger string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	m := capture.Mutation{
		Collection: coll,
		Kind:       rule.TriggerKind(trigger),
		Actor:      rule.Actor{ID: opts.ActorID, Name: opts.ActorName},
		TenantID:   opts.Tenant,
	}
	var err error
	if m.OldDoc, err = parseDocument("--old", opts.Old); err != nil {
		return err
	}
	if m.NewDoc, err = parseDocument("--new", opts.New); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		_ = formatter.Error("E_INVALID_MUTATION", err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid mutation", err)
	}

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

	rec, err := rt.capturer.Capture(ctx, m)
	switch {
	case errors.Is(err, capture.ErrDispatch):
		// The record is stored; a replay can dispatch it later.
		formatter.VerboseLog("dispatch failed: %v", err)
		return WrapExitError(ExitFailure, fmt.Sprintf("change record %s stored but not dispatched", rec.ID), err)
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to capture mutation", err)
	}

	if formatter.JSON() {
		return formatter.Encode(CLIResponse{
			Status:   "ok",
			Data:     map[string]string{"collection": coll, "data_id": rec.EntityID},
			RecordID: rec.ID,
		})
	}
	fmt.Fprintf(formatter.Writer, "Captured %s %s/%s as record %s\n", rec.TriggerKind, coll, rec.EntityID, rec.ID)
	return nil
}

// parseDocument decodes a JSON object flag. An empty value yields nil.
func parseDocument(flag, raw string) (doc.Document, error) {
	if raw == "" {
		return nil, nil
	}
	var d doc.Document
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid %s JSON", flag), err)
	}
	return d, nil
}
