package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	patchFile   string
	patchDryRun bool
)

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "apply a unified diff to the sandboxed workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if patchFile == "" || patchFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(patchFile)
		}
		if err != nil {
			return fmt.Errorf("read diff: %w", err)
		}
		return runMethod("patch_apply", map[string]any{
			"diff":    string(data),
			"dry_run": patchDryRun,
		})
	},
}

func init() {
	patchCmd.Flags().StringVar(&patchFile, "file", "-", "path to a unified diff, or - for stdin")
	patchCmd.Flags().BoolVar(&patchDryRun, "dry-run", false, "validate and report without writing")
}
