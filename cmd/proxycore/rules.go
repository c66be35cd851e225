package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/webintercept/proxycore/internal/flow"
	"github.com/webintercept/proxycore/internal/ruleengine"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the rule engine's rule set",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every rule in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openRuleEngine()
		if err != nil {
			return err
		}
		for _, r := range e.ListRules() {
			kind := "custom"
			if r.Builtin {
				kind = "builtin"
			}
			state := "enabled"
			if !r.Enabled {
				state = "disabled"
			}
			fmt.Printf("%-4d %-30s %-8s %-8s %-14s %s\n", r.Priority, r.Name, kind, state, r.Action, r.Message)
		}
		return nil
	},
}

var rulesAddFile string

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a custom rule from a YAML document",
	Long:  `Add a custom rule. Reads the rule YAML from --file, or stdin if omitted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openRuleEngine()
		if err != nil {
			return err
		}
		var data []byte
		if rulesAddFile != "" {
			data, err = os.ReadFile(rulesAddFile)
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("reading rule YAML: %w", err)
		}
		if err := e.AddRule(string(data)); err != nil {
			return err
		}
		fmt.Println("[proxycore] rule added")
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a custom rule by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openRuleEngine()
		if err != nil {
			return err
		}
		if err := e.RemoveRule(args[0]); err != nil {
			return err
		}
		fmt.Printf("[proxycore] rule %q removed\n", args[0])
		return nil
	},
}

var rulesToggleEnabled bool

var rulesToggleCmd = &cobra.Command{
	Use:   "toggle NAME",
	Short: "Enable or disable a rule, builtin or custom",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openRuleEngine()
		if err != nil {
			return err
		}
		if err := e.SetRuleEnabled(args[0], rulesToggleEnabled); err != nil {
			return err
		}
		fmt.Printf("[proxycore] rule %q enabled=%v\n", args[0], rulesToggleEnabled)
		return nil
	},
}

var (
	rulesTestMethod string
	rulesTestHost   string
	rulesTestPath   string
)

var rulesTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Evaluate the rule set against a synthetic request",
	Long: `Build a request from --method/--host/--path and print which rule
(if any) matches and what action it takes, without sending any traffic.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openRuleEngine()
		if err != nil {
			return err
		}
		f := flow.New(flow.SchemeHTTPS, rulesTestMethod, rulesTestHost, 0, rulesTestPath, "")
		d := e.EvaluateFlow(f, ruleengine.DirectionRequest)
		fmt.Printf("action:  %s\n", d.Action)
		if d.Rule != "" {
			fmt.Printf("rule:    %s\n", d.Rule)
		}
		if d.Message != "" {
			fmt.Printf("message: %s\n", d.Message)
		}
		return nil
	},
}

func init() {
	rulesAddCmd.Flags().StringVar(&rulesAddFile, "file", "", "Path to the rule YAML document (default: stdin)")
	rulesToggleCmd.Flags().BoolVar(&rulesToggleEnabled, "enabled", true, "Enable (true) or disable (false) the rule")
	rulesTestCmd.Flags().StringVar(&rulesTestMethod, "method", "GET", "Request method to test")
	rulesTestCmd.Flags().StringVar(&rulesTestHost, "host", "", "Request host to test")
	rulesTestCmd.Flags().StringVar(&rulesTestPath, "path", "/", "Request path to test")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesRemoveCmd, rulesToggleCmd, rulesTestCmd)
}

func openRuleEngine() (*ruleengine.Engine, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	return ruleengine.New(filepath.Join(configDir, "rules.yaml"))
}
