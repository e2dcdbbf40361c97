package main

import (
	"github.com/spf13/cobra"
)

var (
	screenshotURL      string
	screenshotFullPage bool
)

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "capture a PNG screenshot of a URL via the daemon's headless browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMethod("screenshot", map[string]any{
			"url":       screenshotURL,
			"full_page": screenshotFullPage,
		})
	},
}

func init() {
	screenshotCmd.Flags().StringVar(&screenshotURL, "url", "", "page to navigate to before capturing")
	screenshotCmd.Flags().BoolVar(&screenshotFullPage, "full-page", false, "capture the full scrollable page instead of the viewport")
	screenshotCmd.MarkFlagRequired("url")
}
