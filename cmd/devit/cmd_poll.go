package main

import (
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "poll whether a task has been assigned to this session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMethod("poll_tasks", map[string]any{})
	},
}
