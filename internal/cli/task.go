package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"tasksync/internal/domain"
	"tasksync/internal/models"

	"github.com/spf13/cobra"
)

// NewTaskCommand creates the task command group. Every mutation queues a sync entry.
func NewTaskCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, change and inspect local tasks",
	}

	cmd.AddCommand(newTaskCreateCommand(rootOpts))
	cmd.AddCommand(newTaskUpdateCommand(rootOpts))
	cmd.AddCommand(newTaskDeleteCommand(rootOpts))
	cmd.AddCommand(newTaskListCommand(rootOpts))
	cmd.AddCommand(newTaskShowCommand(rootOpts))

	return cmd
}

func newTaskCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var title, description string
	var completed bool

	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Create a task",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(title) == "" {
				return NewExitError(ExitCommandError, "--title must not be empty")
			}

			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.db.CreateLocal(commandContext(cmd), &models.Task{
				Title:       title,
				Description: description,
				Completed:   completed,
			})
			if err != nil {
				return storageError("create task", err)
			}
			return emitTask(rootOpts, cmd, task)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "task title (required)")
	_ = cmd.MarkFlagRequired("title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().BoolVar(&completed, "completed", false, "create the task already completed")

	return cmd
}

func newTaskUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var title, description string
	var completed bool

	cmd := &cobra.Command{
		Use:           "update <id>",
		Short:         "Change fields of a task",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch models.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("completed") {
				patch.Completed = &completed
			}
			if patch.Title == nil && patch.Description == nil && patch.Completed == nil {
				return NewExitError(ExitCommandError, "nothing to update: pass --title, --description or --completed")
			}

			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.db.UpdateLocal(commandContext(cmd), args[0], patch)
			if err != nil {
				return storageError("update task", err)
			}
			if task == nil {
				return NewExitError(ExitFailure, fmt.Sprintf("task %s not found", args[0]))
			}
			return emitTask(rootOpts, cmd, task)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().BoolVar(&completed, "completed", false, "mark completed (--completed=false to reopen)")

	return cmd
}

func newTaskDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a task (kept as a tombstone until the server confirms)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.db.SoftDeleteLocal(commandContext(cmd), args[0])
			if err != nil {
				return storageError("delete task", err)
			}
			if !deleted {
				return NewExitError(ExitFailure, fmt.Sprintf("task %s not found", args[0]))
			}

			out := struct {
				ID      string `json:"id"`
				Deleted bool   `json:"deleted"`
			}{ID: args[0], Deleted: true}
			return rootOpts.formatter(cmd).Emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %s\n", args[0])
			})
		},
	}
}

func newTaskListCommand(rootOpts *RootOptions) *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List tasks",
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
			var tasks []models.Task
			if pending {
				tasks, err = a.db.GetPendingSyncTasks(ctx)
			} else {
				tasks, err = a.db.ListTasks(ctx)
			}
			if err != nil {
				return storageError("list tasks", err)
			}
			if tasks == nil {
				tasks = []models.Task{}
			}

			return rootOpts.formatter(cmd).Emit(tasks, func(w io.Writer) {
				if len(tasks) == 0 {
					fmt.Fprintln(w, "No tasks")
					return
				}
				fmt.Fprintln(w, "ID\tTITLE\tDONE\tSYNC\tSERVER ID")
				for _, t := range tasks {
					title := t.Title
					if t.IsDeleted {
						title += " (deleted)"
					}
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", t.ID, title, t.Completed, t.SyncStatus, orDash(t.ServerIDOrEmpty()))
				}
			})
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "only tasks with unconfirmed changes")

	return cmd
}

func newTaskShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Show a task and its queued changes",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := commandContext(cmd)
			task, err := a.db.GetTask(ctx, args[0])
			if errors.Is(err, domain.ErrTaskNotFound) {
				return NewExitError(ExitFailure, fmt.Sprintf("task %s not found", args[0]))
			}
			if err != nil {
				return storageError("get task", err)
			}
			entries, err := a.db.ListEntries(ctx, task.ID)
			if err != nil {
				return storageError("list queue entries", err)
			}
			if entries == nil {
				entries = []models.SyncEntry{}
			}

			out := struct {
				Task    *models.Task       `json:"task"`
				Entries []models.SyncEntry `json:"entries"`
			}{Task: task, Entries: entries}
			return rootOpts.formatter(cmd).Emit(out, func(w io.Writer) {
				printTask(w, task)
				if len(entries) == 0 {
					return
				}
				fmt.Fprintln(w)
				fmt.Fprintln(w, "ENTRY\tOPERATION\tATTEMPTS\tLAST ERROR")
				for _, e := range entries {
					lastErr := ""
					if e.LastError != nil {
						lastErr = *e.LastError
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.ID, e.Operation, e.Attempts, orDash(lastErr))
				}
			})
		},
	}
}

func emitTask(rootOpts *RootOptions, cmd *cobra.Command, task *models.Task) error {
	return rootOpts.formatter(cmd).Emit(task, func(w io.Writer) { printTask(w, task) })
}

func printTask(w io.Writer, t *models.Task) {
	fmt.Fprintf(w, "id:\t%s\n", t.ID)
	fmt.Fprintf(w, "title:\t%s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(w, "description:\t%s\n", t.Description)
	}
	fmt.Fprintf(w, "completed:\t%t\n", t.Completed)
	if t.IsDeleted {
		fmt.Fprintf(w, "deleted:\t%t\n", t.IsDeleted)
	}
	fmt.Fprintf(w, "sync status:\t%s\n", t.SyncStatus)
	fmt.Fprintf(w, "server id:\t%s\n", orDash(t.ServerIDOrEmpty()))
	fmt.Fprintf(w, "last synced:\t%s\n", formatTimePtr(t.LastSyncedAt))
}
