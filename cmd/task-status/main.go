package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"slidecast/internal/config"
	"slidecast/internal/kv"
	"slidecast/internal/mirror"
	"slidecast/internal/queue"

	"github.com/spf13/cobra"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg := config.Load()
	root := newRootCmd(cfg)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "task-status",
		Short:        "Inspect and repair task lifecycle state",
		SilenceUsage: true,
	}
	root.AddCommand(
		newListCmd(cfg),
		newShowCmd(cfg),
		newSetStatusCmd(cfg),
	)
	return root
}

// openQueue connects the live queue plus, when the database opens, the
// relational history. A missing history file is fine until a command
// actually needs it.
func openQueue(ctx context.Context, cfg *config.Config) (*queue.Queue, *mirror.Store, error) {
	store, err := kv.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to store: %w", err)
	}

	var taskMirror queue.Mirror
	hist, err := mirror.Open(cfg.SQLitePath)
	if err != nil {
		slog.Warn("Task history unavailable", "path", cfg.SQLitePath, "error", err)
		hist = nil
	} else {
		taskMirror = hist
	}

	return queue.NewQueue(store, taskMirror, cfg.TaskTTL), hist, nil
}

// openHistory opens just the relational history, so reads keep working when
// the live store is down.
func openHistory(cfg *config.Config) (*mirror.Store, error) {
	hist, err := mirror.Open(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open task history %s: %w", cfg.SQLitePath, err)
	}
	return hist, nil
}

// historyRow is the JSON shape for mirrored tasks, matching the live task
// field names so scripts can consume either.
type historyRow struct {
	TaskID    string    `json:"task_id"`
	TaskType  string    `json:"task_type"`
	Status    string    `json:"status"`
	FileID    string    `json:"file_id"`
	Kwargs    string    `json:"kwargs"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toHistoryRow(rec mirror.TaskRecord) historyRow {
	return historyRow{
		TaskID:    rec.TaskID,
		TaskType:  rec.TaskType,
		Status:    rec.Status,
		FileID:    rec.FileID,
		Kwargs:    rec.Kwargs,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func newListCmd(cfg *config.Config) *cobra.Command {
	var (
		status string
		limit  int
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, live by default or full history with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if status != "" && !queue.ValidStatus(queue.Status(status)) {
				return fmt.Errorf("unknown status %q", status)
			}

			// Live records expire with their TTL; history answers for
			// everything ever mirrored, and works with the store down.
			if all {
				hist, err := openHistory(cfg)
				if err != nil {
					return err
				}
				defer hist.Close()

				records, err := hist.Recent(ctx, status, limit)
				if err != nil {
					return err
				}
				return printHistory(records, asJSON)
			}

			q, hist, err := openQueue(ctx, cfg)
			if err != nil {
				return err
			}
			if hist != nil {
				defer hist.Close()
			}

			tasks, err := q.List(ctx, queue.Status(status), limit)
			if err != nil {
				return err
			}
			return printTasks(tasks, asJSON)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only show tasks in this state")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of tasks (0 means no cap)")
	cmd.Flags().BoolVar(&all, "all", false, "Read the relational history instead of the live store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func printTasks(tasks []*queue.Task, asJSON bool) error {
	if asJSON {
		return emitJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK ID\tTYPE\tSTATUS\tUPDATED\tERROR")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Type, t.Status, t.UpdatedAt.Format(time.RFC3339), t.ErrMessage())
	}
	return w.Flush()
}

func printHistory(records []mirror.TaskRecord, asJSON bool) error {
	if asJSON {
		rows := make([]historyRow, 0, len(records))
		for _, rec := range records {
			rows = append(rows, toHistoryRow(rec))
		}
		return emitJSON(rows)
	}
	if len(records) == 0 {
		fmt.Println("No tasks")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK ID\tTYPE\tSTATUS\tUPDATED\tERROR")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.TaskID, rec.TaskType, rec.Status, rec.UpdatedAt.Format(time.RFC3339), rec.Error)
	}
	return w.Flush()
}

func newShowCmd(cfg *config.Config) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <task_id>",
		Short: "Show one task, falling back to history after its record expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			taskID := args[0]

			q, hist, err := openQueue(ctx, cfg)
			if err != nil {
				return err
			}
			if hist != nil {
				defer hist.Close()
			}

			task, err := q.Get(ctx, taskID)
			if err != nil {
				return err
			}
			if task != nil {
				if asJSON {
					return emitJSON(task)
				}
				printTask(task)
				return nil
			}

			if hist != nil {
				rec, err := hist.Get(ctx, taskID)
				if err != nil {
					return err
				}
				if rec != nil {
					if asJSON {
						return emitJSON(toHistoryRow(*rec))
					}
					printRecord(rec)
					return nil
				}
			}

			return fmt.Errorf("task %s not found", taskID)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func printTask(t *queue.Task) {
	fmt.Printf("Task:    %s\n", t.ID)
	fmt.Printf("Type:    %s\n", t.Type)
	fmt.Printf("Status:  %s\n", t.Status)
	fmt.Printf("Created: %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", t.UpdatedAt.Format(time.RFC3339))
	if msg := t.ErrMessage(); msg != "" {
		fmt.Printf("Error:   %s\n", msg)
	}
	if kwargs, err := json.MarshalIndent(t.Kwargs, "", "  "); err == nil {
		fmt.Printf("Kwargs:  %s\n", kwargs)
	}
	if len(t.Result) > 0 {
		if result, err := json.MarshalIndent(t.Result, "", "  "); err == nil {
			fmt.Printf("Result:  %s\n", result)
		}
	}
}

func printRecord(rec *mirror.TaskRecord) {
	fmt.Printf("Task:    %s (from history)\n", rec.TaskID)
	fmt.Printf("Type:    %s\n", rec.TaskType)
	fmt.Printf("Status:  %s\n", rec.Status)
	fmt.Printf("File:    %s\n", rec.FileID)
	fmt.Printf("Created: %s\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", rec.UpdatedAt.Format(time.RFC3339))
	if rec.Error != "" {
		fmt.Printf("Error:   %s\n", rec.Error)
	}
	if rec.Kwargs != "" {
		fmt.Printf("Kwargs:  %s\n", rec.Kwargs)
	}
}

func newSetStatusCmd(cfg *config.Config) *cobra.Command {
	var (
		errMsg     string
		clearError bool
	)

	cmd := &cobra.Command{
		Use:   "set-status <task_id> <status>",
		Short: "Force a task into a state, bypassing the transition graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			taskID, status := args[0], queue.Status(args[1])

			if !queue.ValidStatus(status) {
				return fmt.Errorf("unknown status %q", args[1])
			}
			if errMsg != "" && clearError {
				return errors.New("--error and --clear-error are mutually exclusive")
			}

			q, hist, err := openQueue(ctx, cfg)
			if err != nil {
				return err
			}
			if hist != nil {
				defer hist.Close()
			}

			patch := &queue.StatusPatch{Force: true, ClearError: clearError}
			if errMsg != "" {
				patch.Error = &errMsg
			}

			ok, err := q.UpdateStatus(ctx, taskID, status, patch)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("task %s not found", taskID)
			}

			fmt.Printf("Task %s is now %s\n", taskID, status)
			return nil
		},
	}

	cmd.Flags().StringVar(&errMsg, "error", "", "Set the task error message")
	cmd.Flags().BoolVar(&clearError, "clear-error", false, "Clear the task error message")
	return cmd
}

func emitJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
