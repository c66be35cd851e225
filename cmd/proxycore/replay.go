package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	replayFlowID      string
	replayHeaderFlags []string
	replayBodyFile    string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-issue a recorded flow's request",
	Long: `Re-issue a previously recorded flow's request through the same
upstream client the proxy uses for live traffic, optionally overriding
headers or the body. The result is recorded as a new flow tagged
replayed_from=<flow-id>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"flow_id": replayFlowID}

		if len(replayHeaderFlags) > 0 {
			headers := map[string][]string{}
			for _, h := range replayHeaderFlags {
				name, value, ok := splitHeaderFlag(h)
				if !ok {
					return fmt.Errorf("invalid --header %q, expected Name: value", h)
				}
				headers[name] = append(headers[name], value)
			}
			req["override_headers"] = headers
		}

		if replayBodyFile != "" {
			body, err := os.ReadFile(replayBodyFile)
			if err != nil {
				return fmt.Errorf("reading --body file: %w", err)
			}
			req["override_body"] = body
		}

		var out json.RawMessage
		if err := apiCall("POST", "/api/proxy/replay", req, &out); err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// splitHeaderFlag parses a "Name: value" flag into its parts.
func splitHeaderFlag(s string) (name, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			name = s[:i]
			value = s[i+1:]
			for len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			return name, value, true
		}
	}
	return "", "", false
}

func init() {
	replayCmd.Flags().StringVar(&replayFlowID, "flow-id", "", "Recorded flow to replay")
	replayCmd.Flags().StringArrayVar(&replayHeaderFlags, "header", nil, `Override header "Name: value"; repeatable`)
	replayCmd.Flags().StringVar(&replayBodyFile, "body", "", "Path to a file with the override request body")
	replayCmd.MarkFlagRequired("flow-id")
}
