package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var interceptCmd = &cobra.Command{
	Use:   "intercept",
	Short: "Toggle interception and decide pending requests/responses",
}

var interceptToggleEnabled bool

var interceptToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Enable or disable interception",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiCall("POST", "/api/proxy/intercept/toggle",
			map[string]bool{"enabled": interceptToggleEnabled}, nil)
	},
}

var interceptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests/responses currently paused for review",
	RunE: func(cmd *cobra.Command, args []string) error {
		var slots []json.RawMessage
		if err := apiCall("GET", "/api/proxy/intercept/action", nil, &slots); err != nil {
			return err
		}
		for _, s := range slots {
			fmt.Println(string(s))
		}
		return nil
	},
}

var (
	interceptSlotID string
	interceptAction string
)

var interceptDecideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Resolve a pending slot: forward, drop, or modify",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiCall("POST", "/api/proxy/intercept/action", map[string]string{
			"slot_id": interceptSlotID,
			"action":  interceptAction,
		}, nil)
	},
}

func init() {
	interceptToggleCmd.Flags().BoolVar(&interceptToggleEnabled, "enabled", true, "Enable (true) or disable (false) interception")
	interceptDecideCmd.Flags().StringVar(&interceptSlotID, "slot-id", "", "Slot ID to resolve")
	interceptDecideCmd.Flags().StringVar(&interceptAction, "action", "forward", "forward | drop | modify")
	interceptDecideCmd.MarkFlagRequired("slot-id")

	interceptCmd.AddCommand(interceptToggleCmd, interceptListCmd, interceptDecideCmd)
}
