package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"tasksync/internal/models"
	"tasksync/internal/syncer"

	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		Long: `Run a single sync cycle against the remote server and print its result.

Exit codes:
  0 - every eligible entry was confirmed (or the queue was empty)
  1 - the cycle reported errors, the server was unreachable or a cycle was already running
  2 - command error (config, database)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts)
		},
	}
}

func runSync(cmd *cobra.Command, opts *RootOptions) error {
	ctx := commandContext(cmd)

	a, err := openApp(opts, false)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, cleanup, err := a.newOrchestrator(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	res := orch.Sync(ctx)
	if err := opts.formatter(cmd).Emit(res, func(w io.Writer) { printSyncResult(w, res) }); err != nil {
		return err
	}

	if !res.Success {
		switch {
		case syncer.InProgress(res):
			return NewExitError(ExitFailure, "a sync cycle is already running")
		case syncer.Offline(res):
			return NewExitError(ExitFailure, "remote server unreachable")
		default:
			return NewExitError(ExitFailure, fmt.Sprintf("sync finished with %d error(s)", len(res.Errors)))
		}
	}
	return nil
}

func printSyncResult(w io.Writer, res models.SyncResult) {
	fmt.Fprintf(w, "success:\t%t\n", res.Success)
	fmt.Fprintf(w, "synced:\t%d\n", res.SyncedItems)
	fmt.Fprintf(w, "failed:\t%d\n", res.FailedItems)
	if len(res.Errors) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "TASK\tOPERATION\tERROR")
	for _, e := range res.Errors {
		fmt.Fprintf(w, "%s\t%s\t%s\n", orDash(e.TaskID), e.Operation, e.Error)
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show queue depth, dead letters and last sync time",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts)
		},
	}
}

func runStatus(cmd *cobra.Command, opts *RootOptions) error {
	ctx := commandContext(cmd)

	a, err := openApp(opts, false)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, cleanup, err := a.newOrchestrator(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := orch.Status(ctx)
	if err != nil {
		return storageError("read status", err)
	}

	return opts.formatter(cmd).Emit(st, func(w io.Writer) {
		fmt.Fprintf(w, "pending:\t%d\n", st.Pending)
		fmt.Fprintf(w, "dead letters:\t%d\n", st.DeadLetters)
		fmt.Fprintf(w, "last synced:\t%s\n", formatTimePtr(st.LastSyncedAt))
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func formatTimePtr(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
