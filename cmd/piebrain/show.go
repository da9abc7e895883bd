package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"piebrain/internal/store"
)

// showCmd prints one task with its rendered artifact
var showCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show a task and render its result",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q", args[0])
	}

	st, err := store.New(cfg.Store.Path, cfg.Guardian.MaxRequestLen, logger)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer st.Close()

	t, err := st.Get(id)
	if err != nil {
		return err
	}

	fmt.Printf("Task #%d  %s\n", t.ID, styleStatus(string(t.Status)))
	fmt.Printf("  Request:    %s\n", t.RequestText)
	if t.Capability != "" {
		mode := "local"
		if t.Handoff {
			mode = "handoff"
		}
		fmt.Printf("  Capability: %s (%s)\n", t.Capability, mode)
	}
	for k, v := range t.Params {
		fmt.Printf("  Param:      %s = %s\n", k, v)
	}
	if t.SpawnPID > 0 {
		fmt.Printf("  Agent PID:  %d\n", t.SpawnPID)
	}
	fmt.Printf("  Created:    %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Updated:    %s\n", t.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if t.Status == store.StatusFailed && t.ErrorDetail != "" {
		fmt.Printf("  Error:      %s\n", t.ErrorDetail)
	}

	if t.ResultRef == "" {
		return nil
	}
	fmt.Printf("  Artifact:   %s\n\n", t.ResultRef)

	md, err := os.ReadFile(t.ResultRef)
	if err != nil {
		fmt.Printf("(artifact unreadable: %v)\n", err)
		return nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		fmt.Println(string(md))
		return nil
	}
	out, err := renderer.Render(string(md))
	if err != nil {
		fmt.Println(string(md))
		return nil
	}
	fmt.Print(out)
	return nil
}
