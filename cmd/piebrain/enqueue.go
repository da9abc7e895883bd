package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"piebrain/internal/guardian"
	"piebrain/internal/store"
)

// enqueueCmd queues a request for the daemon
var enqueueCmd = &cobra.Command{
	Use:   "enqueue [request...]",
	Short: "Queue a natural-language request",
	Long: `Validates the request text and appends it to the task queue.

The daemon picks it up on its next poll; use 'piebrain tasks' to watch
progress and 'piebrain show <id>' to read the result.

Example:
  piebrain enqueue "summarize the open PRs in my notes repo"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnqueue,
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))

	guard := guardian.New(cfg.Guardian.AllowedRoots, cfg.Guardian.MaxRequestLen, logger)
	if err := guard.ValidateMessage(text); err != nil {
		return err
	}

	st, err := store.New(cfg.Store.Path, cfg.Guardian.MaxRequestLen, logger)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer st.Close()

	id, err := st.Enqueue(text)
	if err != nil {
		return err
	}
	fmt.Printf("Task #%d queued.\n", id)
	return nil
}
