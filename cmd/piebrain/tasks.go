package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"piebrain/internal/store"
)

var (
	tasksStatus string
	tasksLimit  int
)

// tasksCmd lists queued and finished tasks
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks and their lifecycle state",
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "Filter by status (pending, routing, executing, done, failed)")
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 20, "Maximum number of tasks to show")
}

func runTasks(cmd *cobra.Command, args []string) error {
	var filter store.Status
	if tasksStatus != "" {
		switch s := store.Status(tasksStatus); s {
		case store.StatusPending, store.StatusRouting, store.StatusExecuting, store.StatusDone, store.StatusFailed:
			filter = s
		default:
			return fmt.Errorf("unknown status %q", tasksStatus)
		}
	}

	st, err := store.New(cfg.Store.Path, cfg.Guardian.MaxRequestLen, logger)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer st.Close()

	tasks, err := st.List(filter, tasksLimit)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		capName := t.Capability
		if capName == "" {
			capName = "-"
		}
		if t.Handoff {
			capName += " (handoff)"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", t.ID),
			styleStatus(string(t.Status)),
			capName,
			formatAge(t.CreatedAt),
			truncate(t.RequestText, 48),
		})
	}
	fmt.Print(renderTable([]string{"ID", "STATUS", "CAPABILITY", "AGE", "REQUEST"}, rows))

	counts, err := st.CountByStatus()
	if err != nil {
		return err
	}
	fmt.Printf("\n%d pending, %d executing, %d done, %d failed\n",
		counts[store.StatusPending]+counts[store.StatusRouting],
		counts[store.StatusExecuting],
		counts[store.StatusDone],
		counts[store.StatusFailed])
	return nil
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
