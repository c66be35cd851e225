package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var intruderCmd = &cobra.Command{
	Use:   "intruder",
	Short: "Configure and drive intruder attacks",
}

type attackJSON struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Strategy          string     `json:"strategy"`
	Status            string     `json:"status"`
	TotalRequests     int        `json:"total_requests"`
	CompletedRequests int        `json:"completed_requests"`
}

var intruderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured attacks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var attacks []attackJSON
		if err := apiCall("GET", "/api/intruder/attacks", nil, &attacks); err != nil {
			return err
		}
		for _, a := range attacks {
			fmt.Printf("%-36s %-20s %-14s %-10s %d/%d\n",
				a.ID, a.Name, a.Strategy, a.Status, a.CompletedRequests, a.TotalRequests)
		}
		return nil
	},
}

var (
	intruderName            string
	intruderStrategy        string
	intruderBaseRequestFile string
	intruderPositions       []string
	intruderPayloadFiles    []string
	intruderThreads         int
	intruderDelayMs         int
	intruderTimeoutSeconds  int
	intruderFollowRedirects bool
)

var intruderConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Configure a new attack from a raw request template and payload files",
	Long: `Configure a new intruder attack.

--base-request is a file holding the raw HTTP request template (request
line + headers + blank line + body). --position marks a byte range
"start-end" within that file to substitute payloads into; pass it once
per position. --payloads is a file of newline-separated payload values;
pass it once per payload set (sniper and battering_ram use exactly one
set, pitchfork and cluster_bomb use one set per position).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(intruderBaseRequestFile)
		if err != nil {
			return fmt.Errorf("reading base request: %w", err)
		}
		payloadSets := make([][]string, 0, len(intruderPayloadFiles))
		for _, p := range intruderPayloadFiles {
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("reading payload set %s: %w", p, err)
			}
			lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
			payloadSets = append(payloadSets, lines)
		}

		req := map[string]any{
			"name":             intruderName,
			"strategy":         intruderStrategy,
			"base_request":     raw,
			"positions":        intruderPositions,
			"payload_sets":     payloadSets,
			"threads":          intruderThreads,
			"delay_ms":         intruderDelayMs,
			"timeout_seconds":  intruderTimeoutSeconds,
			"follow_redirects": intruderFollowRedirects,
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := apiCall("POST", "/api/intruder/attacks", req, &out); err != nil {
			return err
		}
		fmt.Printf("[proxycore] attack configured: %s\n", out.ID)
		return nil
	},
}

func intruderLifecycleCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out attackJSON
			if err := apiCall("POST", "/api/intruder/attacks/"+args[0]+"/"+action, nil, &out); err != nil {
				return err
			}
			fmt.Printf("[proxycore] attack %s status: %s (%d/%d)\n",
				out.ID, out.Status, out.CompletedRequests, out.TotalRequests)
			return nil
		},
	}
}

var intruderResultsCmd = &cobra.Command{
	Use:   "results ID",
	Short: "Show results recorded for an attack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var results []json.RawMessage
		if err := apiCall("GET", "/api/intruder/attacks/"+args[0]+"/results", nil, &results); err != nil {
			return err
		}
		for _, r := range results {
			fmt.Println(string(r))
		}
		return nil
	},
}

func init() {
	intruderConfigureCmd.Flags().StringVar(&intruderName, "name", "", "Attack name")
	intruderConfigureCmd.Flags().StringVar(&intruderStrategy, "strategy", "sniper", "sniper | battering_ram | pitchfork | cluster_bomb")
	intruderConfigureCmd.Flags().StringVar(&intruderBaseRequestFile, "base-request", "", "Path to the raw request template")
	intruderConfigureCmd.Flags().StringArrayVar(&intruderPositions, "position", nil, `Byte range "start-end" into the template; repeatable`)
	intruderConfigureCmd.Flags().StringArrayVar(&intruderPayloadFiles, "payloads", nil, "Path to a newline-separated payload file; repeatable")
	intruderConfigureCmd.Flags().IntVar(&intruderThreads, "threads", 10, "Concurrent worker count")
	intruderConfigureCmd.Flags().IntVar(&intruderDelayMs, "delay-ms", 0, "Delay between dispatches in milliseconds")
	intruderConfigureCmd.Flags().IntVar(&intruderTimeoutSeconds, "timeout-seconds", 30, "Per-request timeout")
	intruderConfigureCmd.Flags().BoolVar(&intruderFollowRedirects, "follow-redirects", false, "Follow HTTP redirects")
	intruderConfigureCmd.MarkFlagRequired("base-request")

	intruderCmd.AddCommand(
		intruderListCmd,
		intruderConfigureCmd,
		intruderLifecycleCmd("start", "Start a configured attack", "start"),
		intruderLifecycleCmd("pause", "Pause a running attack", "pause"),
		intruderLifecycleCmd("resume", "Resume a paused attack", "resume"),
		intruderLifecycleCmd("stop", "Stop an attack", "stop"),
		intruderResultsCmd,
	)
}
