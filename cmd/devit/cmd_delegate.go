package main

import (
	"github.com/spf13/cobra"
)

var (
	delegateGoal        string
	delegateTo          string
	delegateTimeoutSecs int
	delegateWatch       []string
	delegateModel       string
	delegateWorkingDir  string
)

var delegateCmd = &cobra.Command{
	Use:   "delegate",
	Short: "delegate a task to a configured worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{
			"goal":           delegateGoal,
			"delegated_to":   delegateTo,
			"watch_patterns": delegateWatch,
			"model":          delegateModel,
			"working_dir":    delegateWorkingDir,
		}
		if delegateTimeoutSecs > 0 {
			params["timeout"] = delegateTimeoutSecs
		}
		return runMethod("delegate", params)
	},
}

func init() {
	delegateCmd.Flags().StringVar(&delegateGoal, "goal", "", "task description to hand the worker")
	delegateCmd.Flags().StringVar(&delegateTo, "to", "", "worker id to delegate to")
	delegateCmd.Flags().IntVar(&delegateTimeoutSecs, "timeout-secs", 0, "lease timeout in seconds, overriding the worker default")
	delegateCmd.Flags().StringSliceVar(&delegateWatch, "watch", nil, "glob pattern to watch for incidental file changes (repeatable)")
	delegateCmd.Flags().StringVar(&delegateModel, "model", "", "explicit model override, subject to the worker's allow-list")
	delegateCmd.Flags().StringVar(&delegateWorkingDir, "working-dir", "", "working directory relative to the sandbox root")
	delegateCmd.MarkFlagRequired("goal")
	delegateCmd.MarkFlagRequired("to")
}
