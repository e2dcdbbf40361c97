package main

import (
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task <task-id>",
	Short: "fetch a single task's current record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMethod("task", map[string]any{"task_id": args[0]})
	},
}
