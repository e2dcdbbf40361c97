package main

import (
	"github.com/spf13/cobra"
)

var statusFilter string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "list this session's active and completed tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMethod("status", map[string]any{"filter": statusFilter})
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "filter", "", "optional state filter: all, active, completed or failed")
}
