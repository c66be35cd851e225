package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run scanner checks against a recorded flow and list findings",
}

var scanRunFlowID string

var scanRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every enabled check against a recorded flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		var issues []json.RawMessage
		if err := apiCall("POST", "/api/scanner/scan", map[string]string{"flow_id": scanRunFlowID}, &issues); err != nil {
			return err
		}
		if len(issues) == 0 {
			fmt.Println("[proxycore] no issues found")
			return nil
		}
		for _, i := range issues {
			fmt.Println(string(i))
		}
		return nil
	},
}

var scanListURL string

var scanListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded scan issues, optionally filtered by URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/scanner/issues"
		if scanListURL != "" {
			path += "?url=" + scanListURL
		}
		var issues []json.RawMessage
		if err := apiCall("GET", path, nil, &issues); err != nil {
			return err
		}
		for _, i := range issues {
			fmt.Println(string(i))
		}
		return nil
	},
}

func init() {
	scanRunCmd.Flags().StringVar(&scanRunFlowID, "flow-id", "", "Recorded flow to scan")
	scanRunCmd.MarkFlagRequired("flow-id")
	scanListCmd.Flags().StringVar(&scanListURL, "url", "", "Filter issues by URL")

	scanCmd.AddCommand(scanRunCmd, scanListCmd)
}
