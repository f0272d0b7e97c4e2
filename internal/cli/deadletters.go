package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"tasksync/internal/domain"
	"tasksync/internal/export"
	"tasksync/internal/logging"
	"tasksync/internal/models"
	"tasksync/internal/repository"

	"github.com/spf13/cobra"
)

// NewDeadLettersCommand creates the deadletters command group.
func NewDeadLettersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "Inspect and recover entries that exhausted their retries",
	}

	cmd.AddCommand(newDeadLetterListCommand(rootOpts))
	cmd.AddCommand(newDeadLetterShowCommand(rootOpts))
	cmd.AddCommand(newDeadLetterRequeueCommand(rootOpts))
	cmd.AddCommand(newDeadLetterPurgeCommand(rootOpts))
	cmd.AddCommand(newDeadLetterExportCommand(rootOpts))

	return cmd
}

func newDeadLetterListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	var mirror bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		Long: `List dead letters from the local store, newest first.

With --mirror the list is read from the redis copy instead, which also holds
entries from other instances sharing the same redis.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := commandContext(cmd)
			var dead []models.DeadLetter
			if mirror {
				rdb := a.connectRedis(ctx)
				if rdb == nil {
					return NewExitError(ExitCommandError, "redis is not configured or unreachable")
				}
				defer repository.Close(rdb)
				dead, err = repository.NewRedisDeadLetterMirror(rdb, a.cfg.Redis.DeadLetterKey).Recent(ctx, int64(limit))
			} else {
				dead, err = a.db.ListDeadLetters(ctx, limit)
			}
			if err != nil {
				return storageError("list dead letters", err)
			}
			if dead == nil {
				dead = []models.DeadLetter{}
			}

			return rootOpts.formatter(cmd).Emit(dead, func(w io.Writer) {
				if len(dead) == 0 {
					fmt.Fprintln(w, "No dead letters")
					return
				}
				fmt.Fprintln(w, "ID\tTASK\tOPERATION\tATTEMPTS\tFAILED AT\tERROR")
				for _, dl := range dead {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
						dl.ID, dl.TaskID, dl.Operation, dl.Attempts,
						dl.FailedAt.Local().Format(time.RFC3339), truncate(dl.ErrorMessage, 60))
				}
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of dead letters (0 for all)")
	cmd.Flags().BoolVar(&mirror, "mirror", false, "read the redis mirror instead of the local store")

	return cmd
}

func newDeadLetterShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Show one dead letter with its payload",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			dl, err := a.db.GetDeadLetter(commandContext(cmd), args[0])
			if err != nil {
				return deadLetterError("get dead letter", args[0], err)
			}

			return rootOpts.formatter(cmd).Emit(dl, func(w io.Writer) {
				fmt.Fprintf(w, "id:\t%s\n", dl.ID)
				fmt.Fprintf(w, "entry:\t%s\n", dl.EntryID)
				fmt.Fprintf(w, "task:\t%s\n", dl.TaskID)
				fmt.Fprintf(w, "operation:\t%s\n", dl.Operation)
				fmt.Fprintf(w, "attempts:\t%d\n", dl.Attempts)
				fmt.Fprintf(w, "failed at:\t%s\n", dl.FailedAt.Local().Format(time.RFC3339))
				fmt.Fprintf(w, "error:\t%s\n", dl.ErrorMessage)
				fmt.Fprintf(w, "payload:\t%s\n", string(dl.Payload))
			})
		},
	}
}

func newDeadLetterRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "requeue <id>",
		Short:         "Put a dead letter back into the sync queue with zero attempts",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			entryID, err := a.db.Requeue(commandContext(cmd), args[0])
			if err != nil {
				return deadLetterError("requeue dead letter", args[0], err)
			}
			a.logger.Info().Str("dead_letter_id", args[0]).Str("entry_id", entryID).Msg("dead letter requeued")

			out := struct {
				DeadLetterID string `json:"dead_letter_id"`
				EntryID      string `json:"entry_id"`
			}{DeadLetterID: args[0], EntryID: entryID}
			return rootOpts.formatter(cmd).Emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "requeued %s as entry %s\n", args[0], entryID)
			})
		},
	}
}

func newDeadLetterPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "purge <id>",
		Short:         "Discard a dead letter for good",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.PurgeDeadLetter(commandContext(cmd), args[0]); err != nil {
				return deadLetterError("purge dead letter", args[0], err)
			}

			out := struct {
				ID     string `json:"id"`
				Purged bool   `json:"purged"`
			}{ID: args[0], Purged: true}
			return rootOpts.formatter(cmd).Emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "purged %s\n", args[0])
			})
		},
	}
}

func newDeadLetterExportCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:           "export",
		Short:         "Write dead letters and tasks to an xlsx workbook",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if dir == "" {
				dir = a.cfg.Exports.Path
			}
			path, err := export.NewExporter(a.db, dir, logging.Component(a.logger, "export")).ExportDeadLetters(commandContext(cmd))
			if err != nil {
				return storageError("export dead letters", err)
			}

			out := struct {
				Path string `json:"path"`
			}{Path: path}
			return rootOpts.formatter(cmd).Emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "written %s\n", path)
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "o", "", "output directory (defaults to exports.path)")

	return cmd
}

func deadLetterError(action, id string, err error) error {
	if errors.Is(err, domain.ErrDeadLetterNotFound) {
		return NewExitError(ExitFailure, fmt.Sprintf("dead letter %s not found", id))
	}
	return storageError(action, err)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
