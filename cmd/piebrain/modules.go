package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"piebrain/internal/registry"
)

// modulesCmd reports the registries as last published by the daemon
var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List registered capabilities and their validation state",
	RunE:  runModules,
}

func runModules(cmd *cobra.Command, args []string) error {
	snap, err := registry.ReadStatus(cfg.ModulesStatusPath())
	if errors.Is(err, os.ErrNotExist) {
		fmt.Println("No module status found. Start the daemon with 'piebrain run' first.")
		return nil
	}
	if err != nil {
		return err
	}

	if len(snap.Modules) == 0 {
		fmt.Println("No modules registered.")
		return nil
	}

	rows := make([][]string, 0, len(snap.Modules))
	for _, m := range snap.Modules {
		reason := m.QuarantineReason
		if reason == "" {
			reason = "-"
		}
		rows = append(rows, []string{
			m.Name,
			string(m.Kind),
			styleStatus(string(m.Status)),
			m.Source,
			truncate(reason, 40),
		})
	}
	fmt.Print(renderTable([]string{"NAME", "KIND", "STATUS", "SOURCE", "REASON"}, rows))

	for _, l := range snap.Leases {
		fmt.Printf("\nLease %s held by task #%d since %s\n",
			l.Kind, l.TaskID, l.AcquiredAt.Local().Format("15:04:05"))
	}
	fmt.Printf("\nAs of %s\n", snap.RefreshedAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}
