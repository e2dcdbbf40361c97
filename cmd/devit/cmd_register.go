package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	registerCapabilities []string
	registerVersion      string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "register this session with devitd",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMethod("register", map[string]any{
			"capabilities": registerCapabilities,
			"pid":          os.Getpid(),
			"version":      registerVersion,
		})
	},
}

func init() {
	registerCmd.Flags().StringSliceVar(&registerCapabilities, "capability", nil, "capability this session declares (repeatable)")
	registerCmd.Flags().StringVar(&registerVersion, "client-version", "", "client version string to negotiate against the daemon")
}
